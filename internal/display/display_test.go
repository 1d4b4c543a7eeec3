package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

var (
	left  = domain.Display{ID: "DP-1", Stable: true, Bounds: domain.Rect{Width: 1920, Height: 1080}}
	right = domain.Display{ID: "DP-2", Stable: true, Bounds: domain.Rect{X: 1920, Width: 1920, Height: 1080}}
)

// fakeSource returns whatever snapshot the test sets
type fakeSource struct {
	mu       sync.Mutex
	displays []domain.Display
	err      error
}

func (s *fakeSource) set(displays ...domain.Display) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displays = displays
}

func (s *fakeSource) Displays() ([]domain.Display, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displays, s.err
}

func TestEqual(t *testing.T) {
	resized := left
	resized.Bounds.Width = 2560

	tests := []struct {
		name string
		a, b []domain.Display
		want bool
	}{
		{"Both Empty", nil, []domain.Display{}, true},
		{"Order Ignored", []domain.Display{left, right}, []domain.Display{right, left}, true},
		{"Different Count", []domain.Display{left}, []domain.Display{left, right}, false},
		{"Resized", []domain.Display{left}, []domain.Display{resized}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFeed_KeepsLatestAndSkipsDuplicates(t *testing.T) {
	f := newFeed()

	if !f.publish([]domain.Display{left}) {
		t.Fatal("first snapshot must be published")
	}
	if f.publish([]domain.Display{left}) {
		t.Error("identical snapshot must not be published")
	}
	if !f.publish([]domain.Display{left, right}) {
		t.Error("changed snapshot must be published")
	}

	got := <-f.ch
	if len(got) != 2 {
		t.Errorf("expected only the latest snapshot, got %v", got)
	}
	select {
	case extra := <-f.ch:
		t.Errorf("stale snapshot delivered: %v", extra)
	default:
	}

	f.close()
	f.close()
	if f.publish([]domain.Display{right}) {
		t.Error("closed feed accepted a snapshot")
	}
}

func TestPoller_ReportsChanges(t *testing.T) {
	src := &fakeSource{}
	src.set(left)
	p := NewPoller(zap.NewNop(), src, 10*time.Millisecond)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop(context.Background())

	first := <-p.Events()
	if len(first) != 1 || first[0].ID != "DP-1" {
		t.Fatalf("unexpected initial snapshot %v", first)
	}

	src.set(left, right)

	select {
	case next := <-p.Events():
		if len(next) != 2 {
			t.Errorf("expected 2 displays, got %v", next)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("topology change not reported")
	}
}

func TestPoller_StartFailsWithoutDisplays(t *testing.T) {
	src := &fakeSource{err: errors.New("no X")}
	p := NewPoller(zap.NewNop(), src, time.Second)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("stop after failed start: %v", err)
	}
	if _, ok := <-p.Events(); ok {
		t.Error("events channel must be closed after stop")
	}
}

func TestPoller_StopClosesEvents(t *testing.T) {
	src := &fakeSource{}
	src.set(left)
	p := NewPoller(zap.NewNop(), src, 5*time.Millisecond)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-p.Events()

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	for range p.Events() {
	}
}

// stubWatcher is a Watcher whose Start result is fixed
type stubWatcher struct {
	startErr error
	started  bool
	stopped  bool
	ch       chan []domain.Display
}

func (w *stubWatcher) Start(context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started = true
	return nil
}

func (w *stubWatcher) Events() <-chan []domain.Display { return w.ch }

func (w *stubWatcher) Stop(context.Context) error {
	w.stopped = true
	return nil
}

func TestFallback(t *testing.T) {
	broken := &stubWatcher{startErr: errors.New("cannot open display")}
	working := &stubWatcher{ch: make(chan []domain.Display)}
	f := NewFallback(zap.NewNop(), broken, working)

	if f.Events() != nil {
		t.Error("events before start must be nil")
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !working.started || f.Events() != (<-chan []domain.Display)(working.ch) {
		t.Error("fallback watcher not selected")
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !working.stopped || broken.stopped {
		t.Error("only the active watcher should be stopped")
	}

	none := NewFallback(zap.NewNop(), broken)
	if err := none.Start(context.Background()); err == nil {
		t.Error("expected an error when every watcher fails")
	}
}
