package domain

import (
	"time"
)

// Kind is the media type of a library item
type Kind string

const (
	// KindImage is a still image shown with aspect-fill
	KindImage Kind = "image"
	// KindVideo is a looping, muted video
	KindVideo Kind = "video"
)

// MediaItem is a single entry of the wallpaper library
type MediaItem struct {
	// ID is a UUIDv4, unique and never reused
	ID string `json:"id"`
	// Kind selects how the item is rendered
	Kind Kind `json:"kind"`
	// Locator is a local path, a file:// URI or an http(s):// URI
	Locator string `json:"url"`
	// Favorite is toggled from the UI
	Favorite bool `json:"isFavorite"`
	// AddedAt is set once when the item enters the library
	AddedAt time.Time `json:"addedAt"`
}

// Rect is a display or surface geometry in global screen coordinates
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Display is a physical output as reported by the windowing system
type Display struct {
	// ID identifies the display across topology events when Stable is true
	ID string
	// Stable is false for fallback identities derived from ephemeral handles
	// (enumeration index); those may change on hot-plug
	Stable bool
	// Bounds is the display geometry
	Bounds Rect
}

// ResolvedItem is a library item together with the locator the renderer
// should load. Path is a cache path for cached videos and the original
// locator otherwise.
type ResolvedItem struct {
	Item MediaItem
	Path string
}

// Settings is the persisted settings record shared with the UI
type Settings struct {
	Items           []MediaItem `json:"items"`
	RotationMinutes int         `json:"rotationMinutes"`
	Shuffle         bool        `json:"shuffle"`
	LaunchAtLogin   bool        `json:"launchAtLogin"`
	CacheMaxMB      int         `json:"cacheMaxMB"`
	CacheAutoClean  bool        `json:"cacheAutoClean"`
}

// DefaultSettings returns the record used when nothing is persisted yet.
// Missing fields of a stored record fall back to these values one by one.
func DefaultSettings() Settings {
	return Settings{
		Items:           []MediaItem{},
		RotationMinutes: 10,
		Shuffle:         true,
		LaunchAtLogin:   false,
		CacheMaxMB:      2048,
		CacheAutoClean:  true,
	}
}

// Clone returns a deep copy so snapshots handed to other goroutines
// are never mutated behind their back
func (s Settings) Clone() Settings {
	out := s
	out.Items = make([]MediaItem, len(s.Items))
	copy(out.Items, s.Items)
	return out
}

// Status is a point-in-time snapshot of the running service
type Status struct {
	State      string
	ActiveID   string
	ActivePath string
	Displays   int
	CacheBytes int64
	CacheFiles int
}
