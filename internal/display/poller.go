package display

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// ScreenshotSource enumerates displays through the screenshot package.
// It has no stable output names, so ids are derived from the enumeration
// index and marked unstable.
type ScreenshotSource struct{}

// Displays returns the active displays in enumeration order
func (ScreenshotSource) Displays() ([]domain.Display, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays detected")
	}

	displays := make([]domain.Display, 0, n)
	for i := 0; i < n; i++ {
		bounds := screenshot.GetDisplayBounds(i)
		displays = append(displays, domain.Display{
			ID:     fmt.Sprintf("screen-%d", i),
			Stable: false,
			Bounds: domain.Rect{
				X:      bounds.Min.X,
				Y:      bounds.Min.Y,
				Width:  bounds.Dx(),
				Height: bounds.Dy(),
			},
		})
	}
	return displays, nil
}

// Poller re-enumerates a Source at a fixed interval
type Poller struct {
	logger   *zap.Logger
	source   Source
	interval time.Duration
	feed     *feed

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPoller creates a polling watcher
func NewPoller(logger *zap.Logger, source Source, interval time.Duration) *Poller {
	return &Poller{
		logger:   logger,
		source:   source,
		interval: interval,
		feed:     newFeed(),
	}
}

// Start publishes the initial snapshot and polls in the background
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	displays, err := p.source.Displays()
	if err != nil {
		return fmt.Errorf("failed to enumerate displays: %w", err)
	}
	p.feed.publish(displays)

	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.logger.Info("Display poller started",
		zap.Int("displays", len(displays)),
		zap.Duration("interval", p.interval))

	p.wg.Add(1)
	go p.loop(pollCtx)
	return nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	displays, err := p.source.Displays()
	if err != nil {
		p.logger.Debug("Display enumeration failed", zap.Error(err))
		return
	}
	if p.feed.publish(displays) {
		p.logger.Info("Display topology changed", zap.Int("displays", len(displays)))
	}
}

// Events returns the snapshot channel
func (p *Poller) Events() <-chan []domain.Display {
	return p.feed.ch
}

// Stop ends polling and closes the events channel
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.feed.close()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.feed.close()
	p.logger.Info("Display poller stopped")
	return nil
}
