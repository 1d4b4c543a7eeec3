package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/genricoloni/backdrop/internal/library"
	"github.com/spf13/cobra"
)

func nextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next item now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fromContext(cmd).withDaemon(func(ctx context.Context, c Controller) error {
				return c.Next(ctx)
			})
		},
	}
}

func pinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <id|name>",
		Short: "Hold one item on screen and stop rotating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			it, err := library.Lookup(a.store.Settings().Items, args[0])
			if err != nil {
				return err
			}
			err = a.withDaemon(func(ctx context.Context, c Controller) error {
				return c.Pin(ctx, it.ID)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "pinned %s\n", library.Name(it))
			return nil
		},
	}
}

func resumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Clear the pin and resume rotation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fromContext(cmd).withDaemon(func(ctx context.Context, c Controller) error {
				return c.Resume(ctx)
			})
		},
	}
}

func cleanCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Evict cached videos down to the budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			return a.withDaemon(func(ctx context.Context, c Controller) error {
				removed, freed, err := c.CleanCache(ctx, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed %d files, freed %s\n", removed, humanize.IBytes(uint64(freed)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "empty the cache directory regardless of the budget")
	return cmd
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the daemon is doing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			return a.withDaemon(func(ctx context.Context, c Controller) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}

				active := "-"
				if st.ActiveID != "" {
					active = short(st.ActiveID)
					if it, err := library.Find(a.store.Settings().Items, st.ActiveID); err == nil {
						active = library.Name(it)
					}
				}

				tw := tabwriter.NewWriter(a.out, 0, 8, 2, ' ', 0)
				fmt.Fprintf(tw, "state\t%s\n", st.State)
				fmt.Fprintf(tw, "showing\t%s\n", active)
				fmt.Fprintf(tw, "displays\t%d\n", st.Displays)
				fmt.Fprintf(tw, "cache\t%s in %d files\n", humanize.IBytes(uint64(st.CacheBytes)), st.CacheFiles)
				return tw.Flush()
			})
		},
	}
}
