package cache

import (
	"github.com/genricoloni/backdrop/internal/library"
)

// Locality decides which locators are slow/remote and worth caching
type Locality interface {
	IsRemote(locator string) bool
}

// FSLocality treats http(s) URIs and paths on network filesystems as remote
type FSLocality struct {
	isNetworkPath func(path string) bool
}

// NewLocality returns the platform locality check
func NewLocality() *FSLocality {
	return &FSLocality{isNetworkPath: isNetworkFS}
}

// IsRemote reports whether the locator should go through the cache
func (l *FSLocality) IsRemote(locator string) bool {
	if library.IsHTTP(locator) {
		return true
	}
	path, ok := library.LocalPath(locator)
	if !ok {
		return false
	}
	return l.isNetworkPath(path)
}
