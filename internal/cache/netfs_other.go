//go:build !linux
// +build !linux

package cache

// isNetworkFS is not implemented on this platform; only http(s) URIs are cached
func isNetworkFS(path string) bool {
	return false
}
