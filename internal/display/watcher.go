// Package display enumerates physical outputs and reports topology changes
// as full snapshots.
package display

import (
	"context"
	"sort"
	"sync"

	"github.com/genricoloni/backdrop/internal/domain"
)

// Watcher reports the current set of displays whenever it changes
type Watcher interface {
	// Start enumerates the displays once, publishes the snapshot and keeps
	// watching in the background until Stop or ctx cancellation
	Start(ctx context.Context) error

	// Events delivers snapshots; only the latest undelivered one is kept
	Events() <-chan []domain.Display

	// Stop ends watching and closes the events channel
	Stop(ctx context.Context) error
}

// Source enumerates the displays present right now
type Source interface {
	Displays() ([]domain.Display, error)
}

// Equal reports whether two snapshots describe the same topology
func Equal(a, b []domain.Display) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = sorted(a), sorted(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sorted(displays []domain.Display) []domain.Display {
	out := make([]domain.Display, len(displays))
	copy(out, displays)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// feed is a one-slot mailbox of snapshots: a newer snapshot replaces an
// undelivered older one, and unchanged snapshots are not published
type feed struct {
	mu     sync.Mutex
	ch     chan []domain.Display
	last   []domain.Display
	seen   bool
	closed bool
}

func newFeed() *feed {
	return &feed{ch: make(chan []domain.Display, 1)}
}

// publish reports whether the snapshot was new
func (f *feed) publish(snapshot []domain.Display) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || (f.seen && Equal(f.last, snapshot)) {
		return false
	}
	f.last = sorted(snapshot)
	f.seen = true

	select {
	case <-f.ch:
		// Drop the stale snapshot nobody consumed yet
	default:
	}
	f.ch <- sorted(snapshot)
	return true
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}
