package control

import (
	"context"

	"github.com/godbus/dbus/v5"
)

// Bus defines the interface for D-Bus operations.
// This abstraction allows us to mock D-Bus interactions in tests.
//
//go:generate mockgen -destination=mocks/bus_mock.go -package=mocks github.com/genricoloni/backdrop/internal/control Bus
type Bus interface {
	// Close closes the D-Bus connection
	Close() error

	// RequestName asks the bus for a well-known name
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)

	// ReleaseName gives a well-known name back
	ReleaseName(name string) (dbus.ReleaseNameReply, error)

	// Export publishes the exported methods of v on path under iface
	Export(v any, path dbus.ObjectPath, iface string) error

	// CallWithContext invokes method on the object at dest and path
	// dest: The bus name (e.g., "io.github.genricoloni.Backdrop")
	// method: The fully qualified method (e.g., "io.github.genricoloni.Backdrop1.Next")
	CallWithContext(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call
}

// SessionBus is the real implementation using godbus
type SessionBus struct {
	conn *dbus.Conn
}

// NewSessionBus opens a private connection to the session bus. A private
// connection keeps Close from tearing down the process-wide shared one.
func NewSessionBus() (*SessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	return &SessionBus{conn: conn}, nil
}

// Close closes the D-Bus connection
func (b *SessionBus) Close() error {
	return b.conn.Close()
}

// RequestName asks the bus for a well-known name
func (b *SessionBus) RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	return b.conn.RequestName(name, flags)
}

// ReleaseName gives a well-known name back
func (b *SessionBus) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	return b.conn.ReleaseName(name)
}

// Export publishes v on path under iface
func (b *SessionBus) Export(v any, path dbus.ObjectPath, iface string) error {
	return b.conn.Export(v, path, iface)
}

// CallWithContext invokes a method and waits for the reply
func (b *SessionBus) CallWithContext(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	return b.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
}
