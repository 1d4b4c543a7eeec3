package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const _defaultMaxBytes int64 = 8 << 30 // 8 GiB, long 4K loops are big

// HTTPFetcher streams remote media from HTTP/HTTPS URLs
type HTTPFetcher struct {
	logger   *zap.Logger
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			// Whole-body timeout; video downloads can take a while but must
			// never hang a cache worker forever
			Timeout: 10 * time.Minute,
		},
		maxBytes: _defaultMaxBytes,
	}
}

// Fetch downloads the resource at url into w
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "backdropDaemon/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isMediaContentType(contentType) {
		return 0, fmt.Errorf("url is not media: %s", contentType)
	}

	// One extra byte tells a body of exactly maxBytes apart from a larger one
	n, err := io.Copy(w, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return n, fmt.Errorf("failed to read body: %w", err)
	}
	if n > f.maxBytes {
		return n, fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	f.logger.Debug("Media fetched successfully", zap.Int64("bytes", n), zap.String("url", url))
	return n, nil
}

// isMediaContentType rejects HTML error pages and other non-media bodies.
// Servers that don't label their content are trusted.
func isMediaContentType(contentType string) bool {
	switch {
	case contentType == "":
		return true
	case strings.HasPrefix(contentType, "image/"),
		strings.HasPrefix(contentType, "video/"),
		strings.HasPrefix(contentType, "application/octet-stream"):
		return true
	default:
		return false
	}
}
