package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/backdrop/internal/cache"
	"github.com/genricoloni/backdrop/internal/clock"
	"github.com/genricoloni/backdrop/internal/dispatch"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/scheduler"
	"github.com/genricoloni/backdrop/internal/settings"
	"go.uber.org/zap"
)

var (
	dp1  = domain.Display{ID: "DP-1", Stable: true, Bounds: domain.Rect{Width: 1920, Height: 1080}}
	dp2  = domain.Display{ID: "DP-2", Stable: true, Bounds: domain.Rect{X: 1920, Width: 1920, Height: 1080}}
	hdmi = domain.Display{ID: "HDMI-1", Stable: true, Bounds: domain.Rect{Y: 1080, Width: 1280, Height: 720}}
)

// stubWatcher delivers whatever the test pushes
type stubWatcher struct {
	ch       chan []domain.Display
	startErr error
	once     sync.Once
	// onEvents runs when the engine asks for the event stream
	onEvents func()
}

func newStubWatcher(initial ...domain.Display) *stubWatcher {
	w := &stubWatcher{ch: make(chan []domain.Display, 4)}
	w.ch <- initial
	return w
}

func (w *stubWatcher) Start(context.Context) error { return w.startErr }
func (w *stubWatcher) Events() <-chan []domain.Display {
	if w.onEvents != nil {
		w.onEvents()
	}
	return w.ch
}
func (w *stubWatcher) Stop(context.Context) error {
	w.once.Do(func() { close(w.ch) })
	return nil
}

// recordingRenderer keeps a log of what each surface was asked to do
type recordingRenderer struct {
	mu       sync.Mutex
	created  []string
	shown    map[string]string
	hidden   int
	released int
}

func (r *recordingRenderer) CreateSurface(d domain.Display) (domain.Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, d.ID)
	return &recordingSurface{r: r, id: d.ID}, nil
}

func (r *recordingRenderer) showing(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown[id]
}

func (r *recordingRenderer) counts() (created, hidden, released int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created), r.hidden, r.released
}

type recordingSurface struct {
	r  *recordingRenderer
	id string
}

func (s *recordingSurface) SetGeometry(domain.Rect) error { return nil }

func (s *recordingSurface) Show(item domain.ResolvedItem) error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.r.shown == nil {
		s.r.shown = map[string]string{}
	}
	s.r.shown[s.id] = item.Item.ID
	return nil
}

func (s *recordingSurface) Clear() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	delete(s.r.shown, s.id)
	return nil
}

func (s *recordingSurface) Hide() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.hidden++
	return nil
}

func (s *recordingSurface) Release() error {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	s.r.released++
	return nil
}

type harness struct {
	engine   *Engine
	store    *settings.Store
	cache    *cache.Cache
	watcher  *stubWatcher
	renderer *recordingRenderer
}

func item(id string) domain.MediaItem {
	return domain.MediaItem{ID: id, Kind: domain.KindImage, Locator: "/pics/" + id + ".jpg", AddedAt: time.Unix(0, 0).UTC()}
}

func newHarness(t *testing.T, watcher *stubWatcher, items ...domain.MediaItem) *harness {
	t.Helper()

	record := domain.DefaultSettings()
	record.Items = items
	record.Shuffle = false
	data, err := settings.Encode(record)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	mediaCache, err := cache.New(zap.NewNop(), t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:    settings.NewStore(zap.NewNop(), path),
		cache:    mediaCache,
		watcher:  watcher,
		renderer: &recordingRenderer{},
	}
	h.engine = NewEngine(zap.NewNop(), h.store, h.cache, watcher, h.renderer,
		WithClock(clock.NewManual(time.Unix(0, 0))),
		WithSchedulerOptions(scheduler.WithExists(func(string) bool { return true })))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { h.engine.Stop(context.Background()) })
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_StartShowsFirstItemEverywhere(t *testing.T) {
	h := newHarness(t, newStubWatcher(dp1, dp2), item("a"), item("b"))
	h.start(t)

	eventually(t, "first item on both displays", func() bool {
		return h.renderer.showing("DP-1") == "a" && h.renderer.showing("DP-2") == "a"
	})

	st, err := h.engine.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "rotating" || st.ActiveID != "a" || st.ActivePath != "/pics/a.jpg" || st.Displays != 2 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestEngine_TopologyChange(t *testing.T) {
	w := newStubWatcher(dp1, dp2)
	h := newHarness(t, w, item("a"))
	h.start(t)
	eventually(t, "initial surfaces", func() bool { return h.renderer.showing("DP-2") == "a" })

	w.ch <- []domain.Display{dp1, hdmi}

	eventually(t, "new display shows the current item", func() bool {
		return h.renderer.showing("HDMI-1") == "a"
	})
	created, hidden, released := h.renderer.counts()
	if created != 3 || hidden != 1 || released != 1 {
		t.Errorf("created=%d hidden=%d released=%d", created, hidden, released)
	}
}

func TestEngine_SettingsChangeReachesScheduler(t *testing.T) {
	h := newHarness(t, newStubWatcher(dp1), item("a"), item("b"))
	h.start(t)
	eventually(t, "first item", func() bool { return h.renderer.showing("DP-1") == "a" })

	_, err := h.store.Update(func(s *domain.Settings) error {
		s.Items = []domain.MediaItem{item("b")}
		s.CacheMaxMB = 1
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "remaining item", func() bool { return h.renderer.showing("DP-1") == "b" })
	eventually(t, "cache budget", func() bool { return h.cache.MaxBytes() == 1024*1024 })
}

func TestEngine_SettingsChangeDuringStartIsKept(t *testing.T) {
	w := newStubWatcher(dp1)
	h := newHarness(t, w, item("a"), item("b"))
	w.onEvents = func() {
		_, err := h.store.Update(func(s *domain.Settings) error {
			s.Items = []domain.MediaItem{item("b")}
			s.CacheMaxMB = 1
			return nil
		})
		if err != nil {
			t.Error(err)
		}
	}
	h.start(t)

	eventually(t, "updated library", func() bool { return h.renderer.showing("DP-1") == "b" })
	eventually(t, "cache budget", func() bool { return h.cache.MaxBytes() == 1024*1024 })

	ctx := context.Background()
	if err := h.engine.Advance(ctx); err != nil {
		t.Fatal(err)
	}
	st, err := h.engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ActiveID != "b" {
		t.Errorf("removed item came back: active %q", st.ActiveID)
	}
}

func TestEngine_PinAndResume(t *testing.T) {
	h := newHarness(t, newStubWatcher(dp1), item("a"), item("b"))
	h.start(t)
	ctx := context.Background()

	if err := h.engine.SetManualItem(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	st, _ := h.engine.Status(ctx)
	if st.State != "pinned" || st.ActiveID != "b" {
		t.Errorf("unexpected status after pin %+v", st)
	}

	if err := h.engine.SetManualItem(ctx, "missing"); !errors.Is(err, domain.ErrInvalidManualTarget) {
		t.Errorf("expected ErrInvalidManualTarget, got %v", err)
	}
	st, _ = h.engine.Status(ctx)
	if st.State != "rotating" {
		t.Errorf("invalid pin should resume rotation, got %s", st.State)
	}

	if err := h.engine.Advance(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_StopReleasesEverything(t *testing.T) {
	h := newHarness(t, newStubWatcher(dp1, dp2), item("a"))
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "surfaces", func() bool { return h.renderer.showing("DP-2") == "a" })

	if err := h.engine.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	_, hidden, released := h.renderer.counts()
	if hidden != 2 || released != 2 {
		t.Errorf("hidden=%d released=%d, want 2 and 2", hidden, released)
	}
	if err := h.engine.Advance(context.Background()); !errors.Is(err, dispatch.ErrClosed) {
		t.Errorf("expected ErrClosed after stop, got %v", err)
	}
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestEngine_ClearCache(t *testing.T) {
	h := newHarness(t, newStubWatcher(dp1))
	h.start(t)

	for _, name := range []string{"aa.mp4", "bb.mp4"} {
		if err := os.WriteFile(filepath.Join(h.cache.Dir(), name), make([]byte, 10), 0644); err != nil {
			t.Fatal(err)
		}
	}

	st, err := h.engine.ClearCache(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if st.Removed != 2 || st.Freed != 20 {
		t.Errorf("unexpected stats %+v", st)
	}

	status, err := h.engine.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.CacheFiles != 0 || status.State != "idle" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestEngine_StartFailsWithoutDisplays(t *testing.T) {
	w := newStubWatcher()
	w.startErr = errors.New("no display server")
	h := newHarness(t, w, item("a"))

	if err := h.engine.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if err := h.engine.Stop(context.Background()); err != nil {
		t.Errorf("stop after failed start: %v", err)
	}
}
