package display

import (
	"context"
	"fmt"
	"sync"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

// Fallback starts the preferred watcher and switches to the next one when it
// cannot start (no X server, missing extension, other platform)
type Fallback struct {
	logger   *zap.Logger
	watchers []Watcher

	mu     sync.Mutex
	active Watcher
}

// NewFallback tries watchers in order
func NewFallback(logger *zap.Logger, watchers ...Watcher) *Fallback {
	return &Fallback{logger: logger, watchers: watchers}
}

// Start starts the first watcher that succeeds
func (f *Fallback) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active != nil {
		return nil
	}

	var lastErr error
	for i, w := range f.watchers {
		if err := w.Start(ctx); err != nil {
			f.logger.Warn("Display watcher unavailable, trying next",
				zap.Int("index", i),
				zap.Error(err))
			lastErr = err
			continue
		}
		f.active = w
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no display watcher configured")
	}
	return fmt.Errorf("no display watcher could start: %w", lastErr)
}

// Events returns the active watcher's channel. It is only meaningful after
// a successful Start; before that the channel is nil.
func (f *Fallback) Events() <-chan []domain.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	return f.active.Events()
}

// Stop stops the active watcher
func (f *Fallback) Stop(ctx context.Context) error {
	f.mu.Lock()
	active := f.active
	f.active = nil
	f.mu.Unlock()

	if active == nil {
		return nil
	}
	return active.Stop(ctx)
}
