//go:build linux
// +build linux

package display

import (
	"context"
	"fmt"
	"sync"

	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/randr"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"
)

// RandR watches X11 outputs. Output names (DP-1, HDMI-A-1 ...) survive
// hot-plug and suspend, so they are used as stable display ids.
type RandR struct {
	logger *zap.Logger
	feed   *feed

	mu      sync.Mutex
	running bool
	conn    *xgb.Conn
	root    xproto.Window
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRandR creates an X11 RandR watcher
func NewRandR(logger *zap.Logger) *RandR {
	return &RandR{
		logger: logger,
		feed:   newFeed(),
	}
}

// Start connects to the X server, publishes the current outputs and
// subscribes to screen, CRTC and output change notifications
func (r *RandR) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return fmt.Errorf("RandR extension unavailable: %w", err)
	}

	root := xproto.Setup(conn).DefaultScreen(conn).Root
	mask := uint16(randr.NotifyMaskScreenChange | randr.NotifyMaskCrtcChange | randr.NotifyMaskOutputChange)
	if err := randr.SelectInputChecked(conn, root, mask).Check(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to select RandR events: %w", err)
	}

	r.conn = conn
	r.root = root

	displays, err := r.enumerate()
	if err != nil {
		conn.Close()
		return err
	}
	r.feed.publish(displays)

	watchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.logger.Info("RandR display watcher started", zap.Int("displays", len(displays)))

	r.wg.Add(2)
	go r.loop(conn)
	go func() {
		defer r.wg.Done()
		<-watchCtx.Done()
		// Unblocks WaitForEvent in loop
		conn.Close()
	}()
	return nil
}

func (r *RandR) loop(conn *xgb.Conn) {
	defer r.wg.Done()

	for {
		ev, err := conn.WaitForEvent()
		if ev == nil && err == nil {
			r.logger.Debug("X connection closed")
			return
		}
		if err != nil {
			r.logger.Debug("X error while watching displays", zap.String("error", err.Error()))
			continue
		}

		switch ev.(type) {
		case randr.ScreenChangeNotifyEvent, randr.NotifyEvent:
			displays, err := r.enumerate()
			if err != nil {
				r.logger.Warn("Failed to enumerate displays", zap.Error(err))
				continue
			}
			if r.feed.publish(displays) {
				r.logger.Info("Display topology changed", zap.Int("displays", len(displays)))
			}
		}
	}
}

// enumerate lists connected outputs that drive an active CRTC
func (r *RandR) enumerate() ([]domain.Display, error) {
	res, err := randr.GetScreenResourcesCurrent(r.conn, r.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	var displays []domain.Display
	for _, output := range res.Outputs {
		info, err := randr.GetOutputInfo(r.conn, output, res.ConfigTimestamp).Reply()
		if err != nil {
			r.logger.Debug("Skipping output", zap.Uint32("output", uint32(output)), zap.Error(err))
			continue
		}
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}

		crtc, err := randr.GetCrtcInfo(r.conn, info.Crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			r.logger.Debug("Skipping CRTC", zap.String("output", string(info.Name)), zap.Error(err))
			continue
		}
		if crtc.Width == 0 || crtc.Height == 0 {
			continue
		}

		displays = append(displays, domain.Display{
			ID:     string(info.Name),
			Stable: true,
			Bounds: domain.Rect{
				X:      int(crtc.X),
				Y:      int(crtc.Y),
				Width:  int(crtc.Width),
				Height: int(crtc.Height),
			},
		})
	}
	return displays, nil
}

// Events returns the snapshot channel
func (r *RandR) Events() <-chan []domain.Display {
	return r.feed.ch
}

// Stop closes the X connection and the events channel
func (r *RandR) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.feed.close()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.feed.close()
	r.logger.Info("RandR display watcher stopped")
	return nil
}
