// Package cache turns slow or remote media locators into local files kept
// in a flat, size-bounded directory.
//
// Entries are keyed by a hash of the normalized locator, not of the fetched
// bytes: an existing entry is never re-validated, so content that changes
// behind a stable address stays stale until it is evicted.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/library"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	bytesPerMB = 1024 * 1024
	partSuffix = ".part"
)

// Entry is one cached file
type Entry struct {
	Key     string
	Path    string
	Size    int64
	Touched time.Time
}

// Stats summarizes a cache directory scan or an eviction pass
type Stats struct {
	Files   int
	Bytes   int64
	Removed int
	Freed   int64
}

// Option customizes a Cache
type Option func(*Cache)

// WithLocality overrides the remote detection
func WithLocality(l Locality) Option {
	return func(c *Cache) { c.locality = l }
}

// WithNow overrides the time source used to touch entries
func WithNow(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithBudget sets the initial size budget and auto-clean flag
func WithBudget(maxMB int, autoClean bool) Option {
	return func(c *Cache) { c.SetBudget(maxMB, autoClean) }
}

// Cache is a locator-keyed media cache with least-recently-touched eviction
type Cache struct {
	logger   *zap.Logger
	dir      string
	fetcher  domain.Fetcher
	locality Locality
	now      func() time.Time

	maxBytes  atomic.Int64
	autoClean atomic.Bool

	flight singleflight.Group
	// Inserts hold the read side, eviction passes the write side, so a pass
	// never deletes underneath a copy in flight
	ioMu sync.RWMutex

	kick         chan struct{}
	forceMu      sync.Mutex
	pendingForce bool

	// onPass observes eviction passes, called with false on start and true
	// on completion
	onPass func(done bool)
}

// New creates the cache directory if needed and returns a cache using it
func New(logger *zap.Logger, dir string, fetcher domain.Fetcher, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		logger:   logger,
		dir:      dir,
		fetcher:  fetcher,
		locality: NewLocality(),
		now:      time.Now,
		kick:     make(chan struct{}, 1),
	}
	c.SetBudget(domain.DefaultSettings().CacheMaxMB, true)

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string {
	return c.dir
}

// SetBudget applies the cacheMaxMB and cacheAutoClean settings
func (c *Cache) SetBudget(maxMB int, autoClean bool) {
	if maxMB < 0 {
		maxMB = 0
	}
	c.maxBytes.Store(int64(maxMB) * bytesPerMB)
	c.autoClean.Store(autoClean)
}

// MaxBytes returns the current size budget
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes.Load()
}

// AutoClean reports whether inserts trigger eviction
func (c *Cache) AutoClean() bool {
	return c.autoClean.Load()
}

// Key returns the hex key of a locator
func Key(locator string) string {
	sum := sha256.Sum256([]byte(normalize(locator)))
	return hex.EncodeToString(sum[:])
}

// FileName returns the cache file name of a locator: hex key plus the
// locator's original extension
func FileName(locator string) string {
	return Key(locator) + library.Extension(locator)
}

// normalize makes equivalent spellings of a locator hash to the same key
func normalize(locator string) string {
	if library.IsHTTP(locator) {
		u, err := url.Parse(locator)
		if err != nil {
			return locator
		}
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		u.Fragment = ""
		return u.String()
	}
	if path, ok := library.LocalPath(locator); ok {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return locator
}

// Resolve returns a fast local locator for locator. Local locators are
// returned unchanged and never create an entry. Any cache failure falls
// back to the original locator; errors never reach the caller.
func (c *Cache) Resolve(ctx context.Context, locator string) string {
	if !c.locality.IsRemote(locator) {
		return locator
	}

	path, err := c.resolveRemote(ctx, locator)
	if err != nil {
		c.logger.Warn("Cache resolve failed, using original locator",
			zap.String("locator", locator),
			zap.Error(err))
		return locator
	}
	return path
}

func (c *Cache) resolveRemote(ctx context.Context, locator string) (string, error) {
	dest := filepath.Join(c.dir, FileName(locator))

	inserted, err, _ := c.flight.Do(dest, func() (interface{}, error) {
		c.ioMu.RLock()
		defer c.ioMu.RUnlock()

		if _, err := os.Stat(dest); err == nil {
			c.touch(dest)
			c.logger.Debug("Cache hit", zap.String("locator", locator), zap.String("path", dest))
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: stat %s: %v", domain.ErrTransientIO, dest, err)
		}

		if err := c.insert(ctx, locator, dest); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}

	if inserted.(bool) && c.autoClean.Load() {
		c.Kick(false)
	}
	return dest, nil
}

// insert copies the remote resource to dest through a temporary file
func (c *Cache) insert(ctx context.Context, locator, dest string) error {
	tmp, err := os.CreateTemp(c.dir, filepath.Base(dest)+".*"+partSuffix)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", domain.ErrTransientIO, err)
	}
	tmpPath := tmp.Name()

	n, copyErr := c.copyInto(ctx, locator, tmp)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		if err := os.Remove(tmpPath); err != nil {
			c.logger.Debug("Failed to remove partial cache file", zap.String("path", tmpPath), zap.Error(err))
		}
		return fmt.Errorf("%w: copy %s: %v", domain.ErrTransientIO, locator, copyErr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename into cache: %v", domain.ErrTransientIO, err)
	}
	c.touch(dest)

	c.logger.Info("Cached remote media",
		zap.String("locator", locator),
		zap.String("path", dest),
		zap.String("size", humanize.IBytes(uint64(n))))
	return nil
}

func (c *Cache) copyInto(ctx context.Context, locator string, w io.Writer) (int64, error) {
	if library.IsHTTP(locator) {
		if c.fetcher == nil {
			return 0, errors.New("no fetcher configured for remote URIs")
		}
		return c.fetcher.Fetch(ctx, locator, w)
	}

	path, ok := library.LocalPath(locator)
	if !ok {
		return 0, fmt.Errorf("unsupported locator %q", locator)
	}
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	return io.Copy(w, src)
}

// touch refreshes an entry's last-touched time (its mtime)
func (c *Cache) touch(path string) {
	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.logger.Debug("Failed to touch cache entry", zap.String("path", path), zap.Error(err))
	}
}

// Entries lists the files in the cache directory, oldest first
func (c *Cache) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read cache dir: %v", domain.ErrTransientIO, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		name := de.Name()
		entries = append(entries, Entry{
			Key:     strings.TrimSuffix(name, filepath.Ext(name)),
			Path:    filepath.Join(c.dir, name),
			Size:    info.Size(),
			Touched: info.ModTime(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Touched.Before(entries[j].Touched)
	})
	return entries, nil
}

// Usage reports the number of files and bytes currently cached
func (c *Cache) Usage() (Stats, error) {
	entries, err := c.Entries()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		st.Files++
		st.Bytes += e.Size
	}
	return st, nil
}

// Evict removes least-recently-touched entries until the directory fits the
// budget. Nothing happens when it already fits, unless force is set, which
// empties the directory. Passes never overlap each other or an insert.
func (c *Cache) Evict(force bool) (Stats, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	entries, err := c.Entries()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, e := range entries {
		st.Files++
		st.Bytes += e.Size
	}

	budget := c.maxBytes.Load()
	if !force && st.Bytes <= budget {
		return st, nil
	}

	current := st.Bytes
	var failed error
	for _, e := range entries {
		if !force && current <= budget {
			break
		}
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("Failed to evict cache entry", zap.String("path", e.Path), zap.Error(err))
			failed = multierr.Append(failed, err)
			continue
		}
		current -= e.Size
		st.Removed++
		st.Freed += e.Size
	}

	c.logger.Info("Cache eviction pass",
		zap.Bool("force", force),
		zap.Int("removed", st.Removed),
		zap.String("freed", humanize.IBytes(uint64(st.Freed))),
		zap.String("remaining", humanize.IBytes(uint64(current))),
		zap.String("budget", humanize.IBytes(uint64(budget))))

	if failed != nil {
		return st, fmt.Errorf("%w: %d entries could not be removed: %v",
			domain.ErrTransientIO, len(multierr.Errors(failed)), failed)
	}
	return st, nil
}
