// Package engine ties the settings store, display topology, rotation
// scheduler, media cache and surfaces together behind one control thread.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/genricoloni/backdrop/internal/cache"
	"github.com/genricoloni/backdrop/internal/clock"
	"github.com/genricoloni/backdrop/internal/dispatch"
	"github.com/genricoloni/backdrop/internal/display"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/scheduler"
	"github.com/genricoloni/backdrop/internal/settings"
	"github.com/genricoloni/backdrop/internal/surface"
	"go.uber.org/zap"
)

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the wall clock driving rotation timers
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSchedulerOptions forwards options to the rotation scheduler
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(e *Engine) { e.schedOpts = append(e.schedOpts, opts...) }
}

// Engine is the service façade. Scheduler and surface state are only
// touched from closures running on the dispatch queue.
type Engine struct {
	logger  *zap.Logger
	store   *settings.Store
	cache   *cache.Cache
	watcher display.Watcher

	clock     clock.Clock
	schedOpts []scheduler.Option

	queue     *dispatch.Queue
	scheduler *scheduler.Scheduler
	surfaces  *surface.Manager

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewEngine creates a stopped engine
func NewEngine(
	logger *zap.Logger,
	store *settings.Store,
	mediaCache *cache.Cache,
	watcher display.Watcher,
	renderer domain.Renderer,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:  logger,
		store:   store,
		cache:   mediaCache,
		watcher: watcher,
		clock:   clock.NewReal(),
		queue:   dispatch.NewQueue(logger.Named("control")),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.surfaces = surface.NewManager(logger.Named("surfaces"), renderer)
	e.scheduler = scheduler.New(logger.Named("scheduler"), e.clock, e.queue, mediaCache, e.surfaces.Broadcast, e.schedOpts...)
	return e
}

// Start launches the control thread, the cache evictor, the display watcher
// and the settings watcher, then starts rotating. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	e.logger.Info("Engine starting...")

	// The start context only bounds startup; background work lives until Stop
	runCtx, cancel := context.WithCancel(context.Background())

	go e.queue.Run(runCtx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cache.Run(runCtx)
	}()

	if err := e.watcher.Start(runCtx); err != nil {
		cancel()
		e.wg.Wait()
		return fmt.Errorf("failed to watch displays: %w", err)
	}

	e.unsubscribe = e.store.Subscribe(func(s domain.Settings) {
		e.queue.Post(func() { e.applySettings(s) })
	})
	if err := e.store.Watch(runCtx); err != nil {
		e.logger.Warn("Settings changes will not be picked up until restart", zap.Error(err))
	}

	events := e.watcher.Events()
	// The watcher publishes its first snapshot during Start
	select {
	case snapshot, ok := <-events:
		if ok {
			e.queue.Post(func() { e.reconcile(snapshot) })
		}
	default:
	}

	// The record is read on the control thread after subscribing, so any
	// later change is posted behind it
	e.queue.Post(func() {
		initial := e.store.Settings()
		e.cache.SetBudget(initial.CacheMaxMB, initial.CacheAutoClean)
		if initial.CacheAutoClean {
			e.cache.Kick(false)
		}
		e.scheduler.Start(initial)
	})

	e.wg.Add(1)
	go e.forwardDisplays(events)

	e.cancel = cancel
	e.started = true
	return nil
}

func (e *Engine) forwardDisplays(events <-chan []domain.Display) {
	defer e.wg.Done()
	for snapshot := range events {
		snapshot := snapshot
		e.queue.Post(func() { e.reconcile(snapshot) })
	}
}

func (e *Engine) reconcile(displays []domain.Display) {
	e.logger.Debug("Display topology", zap.Int("displays", len(displays)))
	e.surfaces.Reconcile(displays)
}

func (e *Engine) applySettings(s domain.Settings) {
	e.cache.SetBudget(s.CacheMaxMB, s.CacheAutoClean)
	if s.CacheAutoClean {
		e.cache.Kick(false)
	}
	e.scheduler.SettingsChanged(s)
}

// Stop cancels rotation, hides and releases every surface and stops all
// background work. Nothing is shown or scheduled once it returns.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	e.logger.Info("Engine stopping...")
	e.unsubscribe()

	err := e.queue.Do(ctx, func() {
		e.scheduler.Stop()
		e.surfaces.Close()
	})
	e.queue.Close()

	if werr := e.watcher.Stop(ctx); werr != nil {
		e.logger.Warn("Failed to stop display watcher", zap.Error(werr))
	}
	e.cancel()
	e.wg.Wait()

	select {
	case <-e.queue.Done():
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		return fmt.Errorf("engine did not stop cleanly: %w", err)
	}
	e.logger.Info("Engine stopped")
	return nil
}

// Advance moves to the next item and clears any pin
func (e *Engine) Advance(ctx context.Context) error {
	return e.queue.Do(ctx, e.scheduler.Advance)
}

// SetManualItem pins id, or resumes rotation when id is empty. An id that
// is not a candidate resumes rotation and reports ErrInvalidManualTarget.
func (e *Engine) SetManualItem(ctx context.Context, id string) error {
	var err error
	if derr := e.queue.Do(ctx, func() { err = e.scheduler.SetManualItem(id) }); derr != nil {
		return derr
	}
	return err
}

// ClearCache runs an eviction pass right away. force empties the cache.
func (e *Engine) ClearCache(ctx context.Context, force bool) (cache.Stats, error) {
	if err := ctx.Err(); err != nil {
		return cache.Stats{}, err
	}
	st, err := e.cache.Evict(force)
	if err != nil {
		return st, err
	}
	e.logger.Info("Cache cleared on request",
		zap.Bool("force", force),
		zap.Int("removed", st.Removed),
		zap.String("freed", humanize.IBytes(uint64(st.Freed))))
	return st, nil
}

// Status returns a snapshot of the running service
func (e *Engine) Status(ctx context.Context) (domain.Status, error) {
	var st domain.Status
	err := e.queue.Do(ctx, func() {
		st.State = e.scheduler.State().String()
		if item, ok := e.surfaces.Current(); ok {
			st.ActiveID = item.Item.ID
			st.ActivePath = item.Path
		}
		st.Displays = len(e.surfaces.Surfaces())
	})
	if err != nil {
		return domain.Status{}, err
	}

	usage, err := e.cache.Usage()
	if err != nil {
		e.logger.Warn("Failed to read cache usage", zap.Error(err))
	}
	st.CacheBytes = usage.Bytes
	st.CacheFiles = usage.Files
	return st, nil
}
