package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

// allRemote treats every locator as remote so local temp files can stand in
// for network mounts
type allRemote struct{}

func (allRemote) IsRemote(string) bool { return true }

// countingFetcher serves a fixed body and counts calls
type countingFetcher struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (f *countingFetcher) Fetch(_ context.Context, _ string, w io.Writer) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n, err := io.Copy(w, bytes.NewReader(f.body))
	return n, err
}

func newTestCache(t *testing.T, fetcher *countingFetcher, opts ...Option) *Cache {
	t.Helper()
	var f domain.Fetcher
	if fetcher != nil {
		f = fetcher
	}
	c, err := New(zap.NewNop(), t.TempDir(), f, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeFile(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestResolve_LocalPassthrough(t *testing.T) {
	c := newTestCache(t, nil)
	src := filepath.Join(t.TempDir(), "clip.mp4")
	writeFile(t, src, 16, time.Time{})

	got := c.Resolve(context.Background(), src)

	if got != src {
		t.Errorf("expected local path unchanged, got %s", got)
	}
	if names := listDir(t, c.Dir()); len(names) != 0 {
		t.Errorf("local resolve must not create entries, found %v", names)
	}
}

func TestResolve_RemotePathTwice(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	now := t1
	c := newTestCache(t, nil, WithLocality(allRemote{}), WithNow(func() time.Time { return now }))

	src := filepath.Join(t.TempDir(), "Loop.MOV")
	if err := os.WriteFile(src, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	first := c.Resolve(context.Background(), src)
	if first == src {
		t.Fatal("expected a cache path for a remote locator")
	}
	if filepath.Dir(first) != c.Dir() {
		t.Errorf("cache path %s is not inside %s", first, c.Dir())
	}
	if !strings.HasSuffix(first, ".mov") || filepath.Base(first) != FileName(src) {
		t.Errorf("unexpected cache file name %s", filepath.Base(first))
	}

	// Change the source: a hit must not re-copy or re-validate
	if err := os.WriteFile(src, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}
	now = t2
	second := c.Resolve(context.Background(), src)

	if second != first {
		t.Fatalf("expected identical path, got %s then %s", first, second)
	}
	data, err := os.ReadFile(second)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("hit re-copied the source: %q", data)
	}
	info, err := os.Stat(second)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(t2) {
		t.Errorf("expected touch to %v, got %v", t2, info.ModTime())
	}
}

func TestResolve_RemoteHTTPFetchedOnce(t *testing.T) {
	fetcher := &countingFetcher{body: []byte("video-bytes")}
	c := newTestCache(t, fetcher, WithBudget(2048, false))
	locator := "https://media.example.com/loops/ocean.mp4"

	first := c.Resolve(context.Background(), locator)
	second := c.Resolve(context.Background(), locator)

	if first != second || first == locator {
		t.Fatalf("expected one stable cache path, got %s and %s", first, second)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
	if names := listDir(t, c.Dir()); len(names) != 1 {
		t.Errorf("expected exactly one cache file, got %v", names)
	}
}

func TestResolve_CopyFailureFallsBack(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("connection reset")}
	c := newTestCache(t, fetcher)
	locator := "http://media.example.com/broken.mp4"

	got := c.Resolve(context.Background(), locator)

	if got != locator {
		t.Errorf("expected fallback to the original locator, got %s", got)
	}
	if names := listDir(t, c.Dir()); len(names) != 0 {
		t.Errorf("failed copy left files behind: %v", names)
	}
}

func TestResolve_MissingRemotePathFallsBack(t *testing.T) {
	c := newTestCache(t, nil, WithLocality(allRemote{}))
	locator := filepath.Join(t.TempDir(), "gone.mp4")

	if got := c.Resolve(context.Background(), locator); got != locator {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestKeyNormalization(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{"Host And Scheme Case", "HTTPS://Media.Example.com/a.mp4", "https://media.example.com/a.mp4", true},
		{"Fragment Ignored", "https://example.com/a.mp4#t=10", "https://example.com/a.mp4", true},
		{"File URI Equals Path", "file:///srv/media/a.mp4", "/srv/media/a.mp4", true},
		{"Path Cleaned", "/srv/media/../media/a.mp4", "/srv/media/a.mp4", true},
		{"Different Paths", "/srv/media/a.mp4", "/srv/media/b.mp4", false},
		{"Query Matters", "https://example.com/a.mp4?v=1", "https://example.com/a.mp4?v=2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.a) == Key(tt.b); got != tt.same {
				t.Errorf("Key(%q) == Key(%q): expected %v", tt.a, tt.b, tt.same)
			}
		})
	}

	if len(Key("/a")) != 64 {
		t.Errorf("expected a hex sha256 key, got %q", Key("/a"))
	}
	if got := FileName("https://example.com/stream"); got != Key("https://example.com/stream") {
		t.Errorf("extensionless locator should map to the bare key, got %s", got)
	}
}

func TestEvict_UnderBudgetIsNoop(t *testing.T) {
	c := newTestCache(t, nil, WithBudget(1, true))
	writeFile(t, filepath.Join(c.Dir(), "a.mp4"), 1000, time.Time{})
	writeFile(t, filepath.Join(c.Dir(), "b.mp4"), 1000, time.Time{})

	st, err := c.Evict(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.Removed != 0 {
		t.Errorf("expected no removals, got %d", st.Removed)
	}
	if names := listDir(t, c.Dir()); len(names) != 2 {
		t.Errorf("expected both files kept, got %v", names)
	}
}

func TestEvict_RemovesOldestFirst(t *testing.T) {
	c := newTestCache(t, nil, WithBudget(1, true))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	half := bytesPerMB / 2

	writeFile(t, filepath.Join(c.Dir(), "newest.mp4"), half, base.Add(3*time.Hour))
	writeFile(t, filepath.Join(c.Dir(), "oldest.mp4"), half, base)
	writeFile(t, filepath.Join(c.Dir(), "middle.mp4"), half, base.Add(time.Hour))
	writeFile(t, filepath.Join(c.Dir(), "recent.mp4"), half, base.Add(2*time.Hour))

	st, err := c.Evict(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.Removed != 2 || st.Freed != int64(2*half) {
		t.Errorf("expected 2 removals freeing %d bytes, got %+v", 2*half, st)
	}
	for _, gone := range []string{"oldest.mp4", "middle.mp4"} {
		if _, err := os.Stat(filepath.Join(c.Dir(), gone)); !os.IsNotExist(err) {
			t.Errorf("%s should have been evicted", gone)
		}
	}
	for _, kept := range []string{"recent.mp4", "newest.mp4"} {
		if _, err := os.Stat(filepath.Join(c.Dir(), kept)); err != nil {
			t.Errorf("%s should have been kept: %v", kept, err)
		}
	}
}

func TestEvict_ForceEmptiesDirectory(t *testing.T) {
	c := newTestCache(t, nil, WithBudget(2048, true))
	writeFile(t, filepath.Join(c.Dir(), "a.jpg"), 10, time.Time{})
	writeFile(t, filepath.Join(c.Dir(), "b.mp4"), 10, time.Time{})

	st, err := c.Evict(true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.Removed != 2 {
		t.Errorf("expected 2 removals, got %d", st.Removed)
	}
	if names := listDir(t, c.Dir()); len(names) != 0 {
		t.Errorf("force must empty the directory, found %v", names)
	}
}

func TestEvict_LeavesSubdirectoriesAlone(t *testing.T) {
	c := newTestCache(t, nil)
	if err := os.Mkdir(filepath.Join(c.Dir(), "keep"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Evict(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), "keep")); err != nil {
		t.Errorf("eviction must only touch files: %v", err)
	}
}

func TestUsage(t *testing.T) {
	c := newTestCache(t, nil)
	writeFile(t, filepath.Join(c.Dir(), "a.jpg"), 10, time.Time{})
	writeFile(t, filepath.Join(c.Dir(), "b.mp4"), 30, time.Time{})

	st, err := c.Usage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Files != 2 || st.Bytes != 40 {
		t.Errorf("expected 2 files / 40 bytes, got %+v", st)
	}
}

func TestSetBudget(t *testing.T) {
	c := newTestCache(t, nil)

	c.SetBudget(512, false)
	if c.MaxBytes() != 512*bytesPerMB || c.AutoClean() {
		t.Errorf("unexpected budget state: %d %v", c.MaxBytes(), c.AutoClean())
	}

	c.SetBudget(-5, true)
	if c.MaxBytes() != 0 {
		t.Errorf("negative budgets clamp to zero, got %d", c.MaxBytes())
	}
}
