package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/library"
	"github.com/spf13/cobra"
)

func addCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path|dir|url>...",
		Short: "Add media files, directories or URLs to the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)

			locators, err := library.Collect(args)
			if err != nil {
				return err
			}
			if len(locators) == 0 {
				return errors.New("no supported media found")
			}

			var added []domain.MediaItem
			_, err = a.store.Update(func(s *domain.Settings) error {
				s.Items, added = library.Add(s.Items, locators, a.now())
				return nil
			})
			if err != nil {
				return err
			}

			for _, it := range added {
				fmt.Fprintf(a.out, "added %s %s %s\n", short(it.ID), it.Kind, library.Name(it))
			}
			if skipped := len(locators) - len(added); skipped > 0 {
				fmt.Fprintf(a.out, "%d already in the library\n", skipped)
			}
			return nil
		},
	}
}

func removeCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove <id|name>...",
		Short: "Remove items from the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			if !all && len(args) == 0 {
				return errors.New("name at least one item, or pass --all")
			}

			var removed []domain.MediaItem
			_, err := a.store.Update(func(s *domain.Settings) error {
				if all {
					removed = s.Items
					s.Items = []domain.MediaItem{}
					return nil
				}
				for _, ref := range args {
					it, err := library.Lookup(s.Items, ref)
					if err != nil {
						return err
					}
					if s.Items, err = library.Remove(s.Items, it.ID); err != nil {
						return err
					}
					removed = append(removed, it)
				}
				return nil
			})
			if err != nil {
				return err
			}

			for _, it := range removed {
				fmt.Fprintf(a.out, "removed %s %s\n", short(it.ID), library.Name(it))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "empty the library")
	return cmd
}

func favoriteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <id|name>",
		Short: "Toggle the favorite flag of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)

			var toggled domain.MediaItem
			_, err := a.store.Update(func(s *domain.Settings) error {
				it, err := library.Lookup(s.Items, args[0])
				if err != nil {
					return err
				}
				if s.Items, err = library.ToggleFavorite(s.Items, it.ID); err != nil {
					return err
				}
				toggled = s.Items[library.Index(s.Items, it.ID)]
				return nil
			})
			if err != nil {
				return err
			}

			state := "no longer a favorite"
			if toggled.Favorite {
				state = "marked as favorite"
			}
			fmt.Fprintf(a.out, "%s %s\n", library.Name(toggled), state)
			return nil
		},
	}
}

func listCommand() *cobra.Command {
	var (
		favorites bool
		recent    int
		query     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List library items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			items := a.store.Settings().Items

			switch {
			case query != "":
				items = library.Search(items, query)
			case recent > 0:
				items = library.Recent(items, recent)
			}
			if favorites {
				items = library.Favorites(items)
			}
			return printItems(a, items)
		},
	}

	cmd.Flags().BoolVarP(&favorites, "favorites", "f", false, "only favorites")
	cmd.Flags().IntVarP(&recent, "recent", "r", 0, "only the N most recently added")
	cmd.Flags().StringVarP(&query, "search", "s", "", "fuzzy filter by name")
	return cmd
}

func printItems(a *app, items []domain.MediaItem) error {
	tw := tabwriter.NewWriter(a.out, 0, 8, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tKIND\tFAV\tADDED\tNAME"); err != nil {
		return err
	}
	for _, it := range items {
		fav := ""
		if it.Favorite {
			fav = "*"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			short(it.ID), it.Kind, fav, humanize.RelTime(it.AddedAt, a.now(), "ago", "from now"), library.Name(it)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func setCommand() *cobra.Command {
	var (
		rotation  int
		shuffle   bool
		maxMB     int
		autoClean bool
		launch    bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change rotation and cache settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromContext(cmd)
			flags := cmd.Flags()

			if rotation < 0 || maxMB < 0 {
				return errors.New("values must not be negative")
			}

			s, err := a.store.Update(func(s *domain.Settings) error {
				if flags.Changed("rotation") {
					s.RotationMinutes = rotation
				}
				if flags.Changed("shuffle") {
					s.Shuffle = shuffle
				}
				if flags.Changed("cache-max-mb") {
					s.CacheMaxMB = maxMB
				}
				if flags.Changed("auto-clean") {
					s.CacheAutoClean = autoClean
				}
				if flags.Changed("launch-at-login") {
					s.LaunchAtLogin = launch
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printSettings(a, s)
		},
	}

	cmd.Flags().IntVar(&rotation, "rotation", 0, "minutes between items (0 disables rotation)")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "pick items at random")
	cmd.Flags().IntVar(&maxMB, "cache-max-mb", 0, "media cache budget in MB")
	cmd.Flags().BoolVar(&autoClean, "auto-clean", false, "evict automatically when over budget")
	cmd.Flags().BoolVar(&launch, "launch-at-login", false, "start the daemon at login")
	return cmd
}

func printSettings(a *app, s domain.Settings) error {
	tw := tabwriter.NewWriter(a.out, 0, 8, 2, ' ', 0)
	rotation := "off"
	if s.RotationMinutes > 0 {
		rotation = fmt.Sprintf("every %d min", s.RotationMinutes)
	}
	fmt.Fprintf(tw, "items\t%d\n", len(s.Items))
	fmt.Fprintf(tw, "rotation\t%s\n", rotation)
	fmt.Fprintf(tw, "shuffle\t%t\n", s.Shuffle)
	fmt.Fprintf(tw, "cache budget\t%s\n", humanize.IBytes(uint64(s.CacheMaxMB)*1024*1024))
	fmt.Fprintf(tw, "auto clean\t%t\n", s.CacheAutoClean)
	fmt.Fprintf(tw, "launch at login\t%t\n", s.LaunchAtLogin)
	return tw.Flush()
}

// short abbreviates a UUID for display; prefixes are accepted back as ids
func short(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
