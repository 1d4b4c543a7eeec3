package library

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// IsHTTP reports whether the locator is an http(s) URI
func IsHTTP(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// LocalPath returns the filesystem path behind a plain path or a file:// URI.
// ok is false for http(s) URIs and unknown schemes.
func LocalPath(locator string) (path string, ok bool) {
	if locator == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(locator), "file://") {
		u, err := url.Parse(locator)
		if err != nil || u.Path == "" {
			return "", false
		}
		return filepath.Clean(u.Path), true
	}
	if strings.Contains(locator, "://") {
		return "", false
	}
	return filepath.Clean(locator), true
}

// Exists reports whether the locator's backing resource is currently present.
// Remote URIs can't be checked cheaply and are assumed present.
func Exists(locator string) bool {
	if IsHTTP(locator) {
		return true
	}
	path, ok := LocalPath(locator)
	if !ok {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Extension returns the lowercased extension of the locator including the
// leading dot, or "" when it has none
func Extension(locator string) string {
	var ext string
	if IsHTTP(locator) {
		u, err := url.Parse(locator)
		if err != nil {
			return ""
		}
		ext = filepath.Ext(u.Path)
	} else if path, ok := LocalPath(locator); ok {
		ext = filepath.Ext(path)
	}

	ext = strings.ToLower(ext)
	// Anything this long isn't a real media extension, e.g. "/v1.0/stream"
	if len(ext) > 8 || strings.ContainsAny(ext, " /?") {
		return ""
	}
	return ext
}
