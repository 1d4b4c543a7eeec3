//go:build !linux
// +build !linux

package display

import (
	"context"
	"fmt"

	"github.com/genricoloni/backdrop/internal/domain"
	"go.uber.org/zap"
)

// RandR stub for non-Linux platforms
type RandR struct {
	feed *feed
}

// NewRandR creates a stub watcher that always fails to start
func NewRandR(logger *zap.Logger) *RandR {
	return &RandR{feed: newFeed()}
}

// Start returns an error indicating RandR is not supported on this platform
func (r *RandR) Start(ctx context.Context) error {
	return fmt.Errorf("RandR display watching is only supported on Linux systems")
}

// Events returns the (never written) snapshot channel
func (r *RandR) Events() <-chan []domain.Display {
	return r.feed.ch
}

// Stop closes the events channel
func (r *RandR) Stop(ctx context.Context) error {
	r.feed.close()
	return nil
}
