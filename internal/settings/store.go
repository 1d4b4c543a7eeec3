// Package settings persists the settings record shared between the daemon
// and the CLI as a JSON file, and notifies subscribers when it changes.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrInvalidItem marks a stored item that was dropped while decoding
var ErrInvalidItem = errors.New("invalid library item")

// reloadDelay collapses the burst of events editors and atomic renames produce
const reloadDelay = 100 * time.Millisecond

// storedItem mirrors domain.MediaItem with optional fields so presence can be checked
type storedItem struct {
	ID       *string      `json:"id"`
	Kind     *domain.Kind `json:"kind"`
	Locator  *string      `json:"url"`
	Favorite *bool        `json:"isFavorite"`
	AddedAt  *time.Time   `json:"addedAt"`
}

// storedSettings mirrors domain.Settings; absent fields keep their defaults
type storedSettings struct {
	Items           *[]storedItem `json:"items"`
	RotationMinutes *int          `json:"rotationMinutes"`
	Shuffle         *bool         `json:"shuffle"`
	LaunchAtLogin   *bool         `json:"launchAtLogin"`
	CacheMaxMB      *int          `json:"cacheMaxMB"`
	CacheAutoClean  *bool         `json:"cacheAutoClean"`
}

// Decode parses a persisted record. Missing fields fall back to their
// defaults one by one. Items lacking id, kind or url, or carrying an unknown
// kind, are dropped and reported in skipped while the rest of the record is
// kept. err is set only when data is not a settings record at all.
func Decode(data []byte, now time.Time) (s domain.Settings, skipped error, err error) {
	var raw storedSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.DefaultSettings(), nil, fmt.Errorf("%w: %v", domain.ErrMalformedSettings, err)
	}

	s = domain.DefaultSettings()
	if raw.RotationMinutes != nil {
		s.RotationMinutes = *raw.RotationMinutes
	}
	if raw.Shuffle != nil {
		s.Shuffle = *raw.Shuffle
	}
	if raw.LaunchAtLogin != nil {
		s.LaunchAtLogin = *raw.LaunchAtLogin
	}
	if raw.CacheMaxMB != nil {
		s.CacheMaxMB = *raw.CacheMaxMB
	}
	if raw.CacheAutoClean != nil {
		s.CacheAutoClean = *raw.CacheAutoClean
	}

	if raw.Items != nil {
		for i, it := range *raw.Items {
			if it.ID == nil || it.Kind == nil || it.Locator == nil {
				skipped = multierr.Append(skipped, fmt.Errorf("%w: item %d lacks id, kind or url", ErrInvalidItem, i))
				continue
			}
			if *it.Kind != domain.KindImage && *it.Kind != domain.KindVideo {
				skipped = multierr.Append(skipped, fmt.Errorf("%w: item %d has unknown kind %q", ErrInvalidItem, i, *it.Kind))
				continue
			}
			item := domain.MediaItem{
				ID:      *it.ID,
				Kind:    *it.Kind,
				Locator: *it.Locator,
				AddedAt: now,
			}
			if it.Favorite != nil {
				item.Favorite = *it.Favorite
			}
			if it.AddedAt != nil {
				item.AddedAt = *it.AddedAt
			}
			s.Items = append(s.Items, item)
		}
	}

	return s, skipped, nil
}

// Encode renders the record as indented JSON
func Encode(s domain.Settings) ([]byte, error) {
	if s.Items == nil {
		s.Items = []domain.MediaItem{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return append(data, '\n'), nil
}

// Store owns the settings file. It is safe for concurrent use.
type Store struct {
	logger *zap.Logger
	path   string
	now    func() time.Time

	mu      sync.Mutex
	current domain.Settings
	subs    map[int]func(domain.Settings)
	nextSub int
	// broken holds the decode failure of the file on disk; Update refuses
	// to replace such a file
	broken error
}

// NewStore loads the record at path. A missing file yields the defaults.
// An unreadable or malformed one yields the defaults plus a warning, and
// the store will not write until the file is fixed.
func NewStore(logger *zap.Logger, path string) *Store {
	s := &Store{
		logger:  logger,
		path:    path,
		now:     time.Now,
		current: domain.DefaultSettings(),
		subs:    make(map[int]func(domain.Settings)),
	}
	loaded, err := s.read()
	switch {
	case err == nil:
		s.current = loaded
	case !errors.Is(err, fs.ErrNotExist):
		s.broken = err
		s.logger.Warn("Using default settings, the file will not be overwritten", zap.String("path", path), zap.Error(err))
	}
	return s
}

// Path returns the settings file location
func (s *Store) Path() string {
	return s.path
}

// Settings returns a snapshot of the current record
func (s *Store) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Subscribe registers fn to be called with every changed record.
// The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(domain.Settings)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Update applies fn to a copy of the record, persists it and notifies
// subscribers. Nothing is written or announced when fn leaves the record
// unchanged or returns an error.
func (s *Store) Update(fn func(*domain.Settings) error) (domain.Settings, error) {
	s.mu.Lock()
	if s.broken != nil {
		err := fmt.Errorf("refusing to overwrite %s: %w", s.path, s.broken)
		s.mu.Unlock()
		return s.current.Clone(), err
	}
	next := s.current.Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return s.current.Clone(), err
	}
	if sameRecord(next, s.current) {
		s.mu.Unlock()
		return next, nil
	}
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return s.current.Clone(), err
	}
	s.current = next
	subs := s.subscribers()
	s.mu.Unlock()

	s.notify(subs, next)
	return next.Clone(), nil
}

// Reload re-reads the file and notifies subscribers if its content differs
// from the record in memory. A file that disappeared or became malformed
// keeps the last good record.
func (s *Store) Reload() error {
	loaded, err := s.read()
	if err != nil {
		s.mu.Lock()
		if errors.Is(err, fs.ErrNotExist) {
			s.broken = nil
		} else {
			s.broken = err
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.broken = nil
	if sameRecord(loaded, s.current) {
		s.mu.Unlock()
		return nil
	}
	s.current = loaded
	subs := s.subscribers()
	s.mu.Unlock()

	s.logger.Info("Settings reloaded",
		zap.Int("items", len(loaded.Items)),
		zap.Int("rotationMinutes", loaded.RotationMinutes),
		zap.Bool("shuffle", loaded.Shuffle))
	s.notify(subs, loaded)
	return nil
}

// Watch reloads the record whenever the file changes on disk, until ctx is
// cancelled. The parent directory is watched so atomic replacements are seen.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				timer.Reset(reloadDelay)
			}

		case <-timer.C:
			if err := s.Reload(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Ignoring settings change", zap.String("path", s.path), zap.Error(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Settings watcher error", zap.Error(err))
		}
	}
}

func (s *Store) read() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.DefaultSettings(), err
	}
	loaded, skipped, err := Decode(data, s.now())
	if err != nil {
		return loaded, err
	}
	for _, e := range multierr.Errors(skipped) {
		s.logger.Warn("Skipping stored item", zap.String("path", s.path), zap.Error(e))
	}
	return loaded, nil
}

// write replaces the file atomically; the caller holds s.mu
func (s *Store) write(next domain.Settings) error {
	data, err := Encode(next)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// subscribers returns the callbacks in registration order; the caller holds s.mu
func (s *Store) subscribers() []func(domain.Settings) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]func(domain.Settings), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

func (s *Store) notify(subs []func(domain.Settings), next domain.Settings) {
	for _, fn := range subs {
		fn(next.Clone())
	}
}

// sameRecord compares two records by their persisted form, so timestamps
// that differ only in location or monotonic reading count as equal
func sameRecord(a, b domain.Settings) bool {
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	return errA == nil && errB == nil && bytes.Equal(ea, eb)
}
