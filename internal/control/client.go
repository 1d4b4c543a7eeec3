package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/godbus/dbus/v5"
)

// ErrNotRunning means no daemon owns BusName
var ErrNotRunning = errors.New("backdrop daemon is not running")

// Client calls a running daemon
type Client struct {
	bus Bus
}

// Dial connects to the session bus
func Dial() (*Client, error) {
	bus, err := NewSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus connection failed: %w", err)
	}
	return NewClient(bus), nil
}

// NewClient wraps an existing connection
func NewClient(bus Bus) *Client {
	return &Client{bus: bus}
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.bus.Close()
}

func (c *Client) call(ctx context.Context, method string, args ...any) *dbus.Call {
	return c.bus.CallWithContext(ctx, BusName, ObjectPath, Interface+"."+method, args...)
}

// Next shows the next item
func (c *Client) Next(ctx context.Context) error {
	return translate(c.call(ctx, "Next").Err)
}

// Pin holds id on screen
func (c *Client) Pin(ctx context.Context, id string) error {
	return translate(c.call(ctx, "Pin", id).Err)
}

// Resume restarts rotation
func (c *Client) Resume(ctx context.Context) error {
	return translate(c.call(ctx, "Resume").Err)
}

// CleanCache runs an eviction pass and returns how many files and bytes
// were removed
func (c *Client) CleanCache(ctx context.Context, force bool) (int, int64, error) {
	var (
		removed int32
		freed   int64
	)
	call := c.call(ctx, "CleanCache", force)
	if call.Err != nil {
		return 0, 0, translate(call.Err)
	}
	if err := call.Store(&removed, &freed); err != nil {
		return 0, 0, fmt.Errorf("unexpected CleanCache reply: %w", err)
	}
	return int(removed), freed, nil
}

// Status fetches the daemon status
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	var displays, files int32
	call := c.call(ctx, "Status")
	if call.Err != nil {
		return domain.Status{}, translate(call.Err)
	}
	if err := call.Store(&st.State, &st.ActiveID, &displays, &st.CacheBytes, &files); err != nil {
		return domain.Status{}, fmt.Errorf("unexpected Status reply: %w", err)
	}
	st.Displays = int(displays)
	st.CacheFiles = int(files)
	return st, nil
}

// translate maps bus errors back to the domain errors they stand for
func translate(err error) error {
	if err == nil {
		return nil
	}
	var name string
	var value dbus.Error
	var pointer *dbus.Error
	switch {
	case errors.As(err, &value):
		name = value.Name
	case errors.As(err, &pointer):
		name = pointer.Name
	}
	switch name {
	case ErrorInvalidTarget:
		return fmt.Errorf("%w: %s", domain.ErrInvalidManualTarget, err.Error())
	case "org.freedesktop.DBus.Error.ServiceUnknown", "org.freedesktop.DBus.Error.NameHasNoOwner":
		return ErrNotRunning
	}
	return err
}
