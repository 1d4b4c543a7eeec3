// Package control exposes the running daemon on the session bus and
// provides the client used by the command line tool.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/backdrop/internal/cache"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

// Well-known bus coordinates of the daemon
const (
	BusName    = "io.github.genricoloni.Backdrop"
	ObjectPath = dbus.ObjectPath("/io/github/genricoloni/Backdrop")
	Interface  = "io.github.genricoloni.Backdrop1"
)

// D-Bus error names returned by the daemon
const (
	ErrorInvalidTarget = Interface + ".Error.InvalidTarget"
	ErrorFailed        = Interface + ".Error.Failed"
)

const callTimeout = 30 * time.Second

// ErrAlreadyRunning is returned when another daemon owns BusName
var ErrAlreadyRunning = errors.New("another instance already owns the bus name")

// Service is what the daemon offers over the bus
type Service interface {
	Advance(ctx context.Context) error
	SetManualItem(ctx context.Context, id string) error
	ClearCache(ctx context.Context, force bool) (cache.Stats, error)
	Status(ctx context.Context) (domain.Status, error)
}

// Server publishes a Service on the session bus
type Server struct {
	logger  *zap.Logger
	service Service
	dial    func() (Bus, error)

	mu  sync.Mutex
	bus Bus
}

// NewServer creates a server that connects to the session bus on Start
func NewServer(logger *zap.Logger, service Service) *Server {
	return NewServerWithBus(logger, service, func() (Bus, error) { return NewSessionBus() })
}

// NewServerWithBus creates a server using dial to obtain its connection
func NewServerWithBus(logger *zap.Logger, service Service, dial func() (Bus, error)) *Server {
	return &Server{logger: logger, service: service, dial: dial}
}

// Start claims BusName and exports the control object
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		return nil
	}

	bus, err := s.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	h := &handler{logger: s.logger, service: s.service}
	if err := bus.Export(h, ObjectPath, Interface); err != nil {
		bus.Close()
		return fmt.Errorf("failed to export control object: %w", err)
	}
	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: Interface, Methods: introspect.Methods(h)},
		},
	}
	if err := bus.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		bus.Close()
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	reply, err := bus.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		bus.Close()
		return fmt.Errorf("failed to request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		bus.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, BusName)
	}

	s.bus = bus
	s.logger.Info("Control interface ready", zap.String("name", BusName), zap.String("path", string(ObjectPath)))
	return nil
}

// Stop releases the name and closes the connection
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return nil
	}

	if _, err := s.bus.ReleaseName(BusName); err != nil {
		s.logger.Warn("Failed to release bus name", zap.Error(err))
	}
	err := s.bus.Close()
	s.bus = nil
	if err != nil {
		return fmt.Errorf("failed to close session bus: %w", err)
	}
	s.logger.Info("Control interface closed")
	return nil
}

// handler carries the exported methods. godbus maps each exported method
// returning *dbus.Error to a bus method of the same name.
type handler struct {
	logger  *zap.Logger
	service Service
}

func (h *handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func (h *handler) fail(method string, err error) *dbus.Error {
	if errors.Is(err, domain.ErrInvalidManualTarget) {
		return dbus.NewError(ErrorInvalidTarget, []any{err.Error()})
	}
	h.logger.Warn("Control call failed", zap.String("method", method), zap.Error(err))
	return dbus.NewError(ErrorFailed, []any{err.Error()})
}

// Next advances to the next item
func (h *handler) Next() *dbus.Error {
	ctx, cancel := h.context()
	defer cancel()
	if err := h.service.Advance(ctx); err != nil {
		return h.fail("Next", err)
	}
	return nil
}

// Pin holds the item with the given id on screen
func (h *handler) Pin(id string) *dbus.Error {
	if id == "" {
		return dbus.NewError(ErrorInvalidTarget, []any{"empty item id"})
	}
	ctx, cancel := h.context()
	defer cancel()
	if err := h.service.SetManualItem(ctx, id); err != nil {
		return h.fail("Pin", err)
	}
	return nil
}

// Resume clears the pin and restarts rotation
func (h *handler) Resume() *dbus.Error {
	ctx, cancel := h.context()
	defer cancel()
	if err := h.service.SetManualItem(ctx, ""); err != nil {
		return h.fail("Resume", err)
	}
	return nil
}

// CleanCache evicts down to the budget, or everything when force is set
func (h *handler) CleanCache(force bool) (int32, int64, *dbus.Error) {
	ctx, cancel := h.context()
	defer cancel()
	st, err := h.service.ClearCache(ctx, force)
	if err != nil {
		return 0, 0, h.fail("CleanCache", err)
	}
	return int32(st.Removed), st.Freed, nil
}

// Status reports state, active item id, display count and cache usage
func (h *handler) Status() (string, string, int32, int64, int32, *dbus.Error) {
	ctx, cancel := h.context()
	defer cancel()
	st, err := h.service.Status(ctx)
	if err != nil {
		return "", "", 0, 0, 0, h.fail("Status", err)
	}
	return st.State, st.ActiveID, int32(st.Displays), st.CacheBytes, int32(st.CacheFiles), nil
}
