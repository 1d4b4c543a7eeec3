package domain

import (
	"context"
	"io"
)

// Renderer creates rendering surfaces bound to physical displays.
// Implementations draw resolved items; the core never touches pixels.
//
//go:generate mockgen -destination=mocks/renderer_mock.go -package=mocks github.com/genricoloni/backdrop/internal/domain Renderer,Surface
type Renderer interface {
	// CreateSurface allocates a surface covering the display and makes it visible
	CreateSurface(display Display) (Surface, error)
}

// Surface is one rendering destination bound 1:1 to a Display
type Surface interface {
	// SetGeometry moves/resizes the surface without interrupting its content
	SetGeometry(bounds Rect) error

	// Show replaces the current content with the given item
	Show(item ResolvedItem) error

	// Clear removes any content, leaving a blank surface
	Clear() error

	// Hide makes the surface invisible
	Hide() error

	// Release frees every resource held by the surface. It is called after Hide.
	Release() error
}

// Fetcher downloads remote media
type Fetcher interface {
	// Fetch streams the resource at url into w and returns the number of bytes written
	Fetch(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Resolver turns a locator into a fast local one
type Resolver interface {
	// Resolve never fails: on any problem it returns the locator unchanged
	Resolve(ctx context.Context, locator string) string
}

// ImagePreparer renders a still image for a given surface size and returns
// the path of the prepared file
type ImagePreparer interface {
	// Prepare loads the image behind locator (path, file:// or http(s) URI),
	// fits it to width x height and writes it under name in the output dir
	Prepare(ctx context.Context, locator string, width, height int, name string) (string, error)

	// Blank writes a solid black image of width x height under name
	Blank(ctx context.Context, width, height int, name string) (string, error)
}

// Config defines the interface for application configuration
type Config interface {
	// GetSettingsPath returns the location of the persisted settings record
	GetSettingsPath() string

	// GetCacheDir returns the flat directory used by the media cache
	GetCacheDir() string

	// GetOutputDir returns the directory for prepared wallpapers
	GetOutputDir() string

	// GetImageMode returns how still images are fitted ("fill" or "blur")
	GetImageMode() string
}
