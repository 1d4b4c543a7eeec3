package cache

import (
	"context"

	"go.uber.org/zap"
)

// Kick requests an asynchronous eviction pass. Requests arriving while a
// pass is pending or running collapse into a single follow-up run. A forced
// request stays forced until a pass serves it.
func (c *Cache) Kick(force bool) {
	if force {
		c.forceMu.Lock()
		c.pendingForce = true
		c.forceMu.Unlock()
	}

	select {
	case c.kick <- struct{}{}:
	default:
		// A pass is already queued; it will see the latest budget and force flag
	}
}

// Run is the eviction worker. It serves Kick requests one at a time and
// returns when ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.logger.Debug("Cache evictor started", zap.String("dir", c.dir))

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Cache evictor stopped")
			return
		case <-c.kick:
			c.pass()
		}
	}
}

func (c *Cache) pass() {
	if c.onPass != nil {
		c.onPass(false)
		defer c.onPass(true)
	}

	force := c.takeForce()
	if _, err := c.Evict(force); err != nil {
		c.logger.Warn("Cache eviction pass failed", zap.Bool("force", force), zap.Error(err))
	}
}

func (c *Cache) takeForce() bool {
	c.forceMu.Lock()
	defer c.forceMu.Unlock()

	force := c.pendingForce
	c.pendingForce = false
	return force
}
