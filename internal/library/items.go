// Package library holds the pure operations on the media library: locator
// helpers, kind inference and the add/remove/favorite mutations applied to a
// settings record.
package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/google/uuid"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true, ".heic": true, ".heif": true,
	".avif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".mkv": true, ".webm": true,
	".avi": true, ".mpg": true, ".mpeg": true, ".ogv": true, ".wmv": true,
}

// KindOf infers the media kind from the locator's extension.
// ok is false for unsupported media.
func KindOf(locator string) (domain.Kind, bool) {
	ext := Extension(locator)
	switch {
	case imageExtensions[ext]:
		return domain.KindImage, true
	case videoExtensions[ext]:
		return domain.KindVideo, true
	default:
		return "", false
	}
}

// Collect expands the given paths into supported media files. Directories are
// walked recursively; unreadable subtrees are skipped. URIs are kept as-is when
// their extension is supported.
func Collect(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		local, ok := LocalPath(p)
		if !ok {
			if _, supported := KindOf(p); supported {
				out = append(out, p)
			}
			continue
		}

		info, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingResource, p)
		}
		if !info.IsDir() {
			if _, supported := KindOf(local); supported {
				out = append(out, absPath(local))
			}
			continue
		}

		var found []string
		err = filepath.WalkDir(local, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() && path != local {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, supported := KindOf(path); supported {
				found = append(found, absPath(path))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Add appends new items for the given locators and returns the updated list
// plus the items actually added. Locators already in the library (compared
// by path for local media) and unsupported ones are skipped.
func Add(items []domain.MediaItem, locators []string, now time.Time) ([]domain.MediaItem, []domain.MediaItem) {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[identity(it.Locator)] = true
	}

	var added []domain.MediaItem
	for _, loc := range locators {
		kind, ok := KindOf(loc)
		if !ok {
			continue
		}
		id := identity(loc)
		if seen[id] {
			continue
		}
		seen[id] = true
		added = append(added, domain.MediaItem{
			ID:      uuid.New().String(),
			Kind:    kind,
			Locator: loc,
			AddedAt: now,
		})
	}

	out := make([]domain.MediaItem, 0, len(items)+len(added))
	out = append(out, items...)
	out = append(out, added...)
	return out, added
}

func identity(locator string) string {
	if p, ok := LocalPath(locator); ok {
		return p
	}
	return locator
}

// Remove drops the item with the given id
func Remove(items []domain.MediaItem, id string) ([]domain.MediaItem, error) {
	idx := Index(items, id)
	if idx < 0 {
		return items, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	out := make([]domain.MediaItem, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...), nil
}

// ToggleFavorite flips the favorite flag of the item with the given id
func ToggleFavorite(items []domain.MediaItem, id string) ([]domain.MediaItem, error) {
	idx := Index(items, id)
	if idx < 0 {
		return items, fmt.Errorf("%w: %s", domain.ErrItemNotFound, id)
	}
	out := make([]domain.MediaItem, len(items))
	copy(out, items)
	out[idx].Favorite = !out[idx].Favorite
	return out, nil
}

// Index returns the position of the item with the given id, or -1
func Index(items []domain.MediaItem, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// Find looks up an item by id or by a unique id prefix
func Find(items []domain.MediaItem, ref string) (domain.MediaItem, error) {
	if ref == "" {
		return domain.MediaItem{}, fmt.Errorf("%w: empty id", domain.ErrItemNotFound)
	}
	if idx := Index(items, ref); idx >= 0 {
		return items[idx], nil
	}

	var match []domain.MediaItem
	for _, it := range items {
		if strings.HasPrefix(it.ID, ref) {
			match = append(match, it)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return domain.MediaItem{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, ref)
	default:
		return domain.MediaItem{}, fmt.Errorf("id prefix %q is ambiguous (%d items)", ref, len(match))
	}
}

// Favorites returns the favorite items in library order
func Favorites(items []domain.MediaItem) []domain.MediaItem {
	var out []domain.MediaItem
	for _, it := range items {
		if it.Favorite {
			out = append(out, it)
		}
	}
	return out
}

// Recent returns up to n items, most recently added first
func Recent(items []domain.MediaItem, n int) []domain.MediaItem {
	out := make([]domain.MediaItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Name returns a short display name for an item
func Name(it domain.MediaItem) string {
	if p, ok := LocalPath(it.Locator); ok {
		return filepath.Base(p)
	}
	trimmed := strings.TrimRight(it.Locator, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return it.Locator
}
