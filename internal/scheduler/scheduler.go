// Package scheduler decides which library item is on screen. It runs
// entirely on the control thread: every method must be called there, and
// timer firings and cache results are marshalled back through a Poster.
package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/genricoloni/backdrop/internal/clock"
	"github.com/genricoloni/backdrop/internal/dispatch"
	"github.com/genricoloni/backdrop/internal/domain"
	"github.com/genricoloni/backdrop/internal/library"
	"go.uber.org/zap"
)

// State is the rotation mode
type State int

const (
	// Idle means there is nothing to rotate: no candidates or rotation disabled
	Idle State = iota
	// Rotating means a timer advances the active item
	Rotating
	// ManualPinned means a user-chosen item is held and the timer is off
	ManualPinned
)

func (s State) String() string {
	switch s {
	case Rotating:
		return "rotating"
	case ManualPinned:
		return "pinned"
	default:
		return "idle"
	}
}

// Sink receives every selection. nil means there is nothing to show.
type Sink func(item *domain.ResolvedItem)

// Option customizes a Scheduler
type Option func(*Scheduler)

// WithTickUnit overrides the length of one rotation minute
func WithTickUnit(d time.Duration) Option {
	return func(s *Scheduler) { s.unit = d }
}

// WithRand sets the random source used in shuffle mode
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// WithExists overrides the check that filters library items into candidates
func WithExists(exists func(locator string) bool) Option {
	return func(s *Scheduler) { s.exists = exists }
}

// WithRunner sets how cache resolutions are started; the default runs each
// on its own goroutine
func WithRunner(run func(func())) Option {
	return func(s *Scheduler) { s.run = run }
}

// Scheduler is the rotation state machine
type Scheduler struct {
	logger   *zap.Logger
	clock    clock.Clock
	poster   dispatch.Poster
	resolver domain.Resolver
	sink     Sink

	unit   time.Duration
	rng    *rand.Rand
	exists func(string) bool
	run    func(func())

	settings   domain.Settings
	candidates []domain.MediaItem
	cursor     int
	pinned     string
	state      State
	active     *domain.MediaItem
	cleared    bool
	running    bool

	timer    clock.Task
	timerGen uint64
	// selection is bumped on every emission so late cache results for an
	// older selection are dropped
	selection uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler
func New(logger *zap.Logger, clk clock.Clock, poster dispatch.Poster, resolver domain.Resolver, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   logger,
		clock:    clk,
		poster:   poster,
		resolver: resolver,
		sink:     sink,
		unit:     time.Minute,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		exists:   library.Exists,
		run:      func(f func()) { go f() },
		settings: domain.DefaultSettings(),
		ctx:      context.Background(),
		cancel:   func() {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start computes the candidates, shows the first item and arms the timer
func (s *Scheduler) Start(settings domain.Settings) {
	if s.running {
		s.SettingsChanged(settings)
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.settings = settings.Clone()
	s.cursor = 0
	s.pinned = ""
	s.cleared = false

	s.logger.Info("Rotation starting",
		zap.Int("items", len(settings.Items)),
		zap.Int("rotationMinutes", settings.RotationMinutes),
		zap.Bool("shuffle", settings.Shuffle))

	s.recompute()
	s.selectNext()
	s.schedule()
}

// Stop cancels the timer and drops any pending cache result. No emission
// happens after Stop returns.
func (s *Scheduler) Stop() {
	if !s.running {
		return
	}
	s.running = false
	s.cancelTimer()
	s.selection++
	s.cancel()
	s.state = Idle
	s.logger.Info("Rotation stopped")
}

// Advance clears any pin and moves to the next candidate
func (s *Scheduler) Advance() {
	if !s.running {
		return
	}
	if s.pinned != "" {
		s.logger.Info("Manual pin cleared by advance", zap.String("id", s.pinned))
	}
	s.pinned = ""
	s.recompute()
	s.selectNext()
	s.schedule()
}

// SetManualItem pins the item with the given id. An empty id, or an id that
// is not a current candidate, clears the pin and resumes rotation without
// replacing a still-valid active item.
func (s *Scheduler) SetManualItem(id string) error {
	if !s.running {
		return nil
	}
	s.recompute()

	var err error
	if id != "" {
		if item, ok := s.candidate(id); ok {
			s.pinned = id
			s.cancelTimer()
			s.state = ManualPinned
			s.logger.Info("Manual pin set", zap.String("id", id), zap.String("locator", item.Locator))
			s.emit(item)
			return nil
		}
		s.logger.Warn("Manual pin target is not a candidate, resuming rotation", zap.String("id", id))
		err = domain.ErrInvalidManualTarget
	}

	s.pinned = ""
	if s.active == nil || !s.isCandidate(s.active.ID) {
		s.selectNext()
	}
	s.schedule()
	return err
}

// SettingsChanged applies a new settings record: candidates are recomputed,
// the cursor goes back to zero and the timer is re-armed with the new
// interval. A pin survives only while its item is still a candidate.
func (s *Scheduler) SettingsChanged(settings domain.Settings) {
	s.settings = settings.Clone()
	if !s.running {
		return
	}
	s.cursor = 0
	s.recompute()

	if s.pinned != "" {
		if item, ok := s.candidate(s.pinned); ok {
			s.emit(item)
			s.schedule()
			return
		}
		s.logger.Info("Pinned item is gone, resuming rotation", zap.String("id", s.pinned))
		s.pinned = ""
	}

	s.selectNext()
	s.schedule()
}

// State returns the current rotation mode
func (s *Scheduler) State() State {
	return s.state
}

// Active returns the item currently on screen
func (s *Scheduler) Active() (domain.MediaItem, bool) {
	if s.active == nil {
		return domain.MediaItem{}, false
	}
	return *s.active, true
}

// Pinned returns the pinned item id, or ""
func (s *Scheduler) Pinned() string {
	return s.pinned
}

// Candidates returns the items currently eligible for rotation
func (s *Scheduler) Candidates() []domain.MediaItem {
	out := make([]domain.MediaItem, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// recompute filters the library down to items whose resource exists
func (s *Scheduler) recompute() {
	s.candidates = s.candidates[:0]
	for _, it := range s.settings.Items {
		if s.exists(it.Locator) {
			s.candidates = append(s.candidates, it)
		} else {
			s.logger.Debug("Skipping missing media", zap.String("id", it.ID), zap.String("locator", it.Locator))
		}
	}
}

func (s *Scheduler) candidate(id string) (domain.MediaItem, bool) {
	for _, it := range s.candidates {
		if it.ID == id {
			return it, true
		}
	}
	return domain.MediaItem{}, false
}

func (s *Scheduler) isCandidate(id string) bool {
	_, ok := s.candidate(id)
	return ok
}

// selectNext picks and emits the next candidate, or emits nothing-to-show
func (s *Scheduler) selectNext() {
	if len(s.candidates) == 0 {
		s.active = nil
		s.selection++
		if !s.cleared {
			s.cleared = true
			s.logger.Info("No media candidates available")
			s.sink(nil)
		}
		return
	}

	var item domain.MediaItem
	if s.settings.Shuffle {
		item = s.candidates[s.rng.IntN(len(s.candidates))]
	} else {
		if s.cursor >= len(s.candidates) {
			s.cursor = 0
		}
		item = s.candidates[s.cursor]
		s.cursor++
	}
	s.emit(item)
}

// emit makes item the active one and hands it to the sink. Videos go through
// the resolver off the control thread first; images keep their locator.
func (s *Scheduler) emit(item domain.MediaItem) {
	s.active = &item
	s.cleared = false
	s.selection++
	token := s.selection

	s.logger.Debug("Selected media",
		zap.String("id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.String("locator", item.Locator))

	if item.Kind != domain.KindVideo || s.resolver == nil {
		s.sink(&domain.ResolvedItem{Item: item, Path: item.Locator})
		return
	}

	ctx := s.ctx
	s.run(func() {
		path := s.resolver.Resolve(ctx, item.Locator)
		s.poster.Post(func() {
			if !s.running || token != s.selection {
				s.logger.Debug("Dropping superseded resolution", zap.String("id", item.ID))
				return
			}
			s.sink(&domain.ResolvedItem{Item: item, Path: path})
		})
	})
}

// schedule re-arms the rotation timer for the current settings and updates
// the state. Pinned mode keeps the timer off.
func (s *Scheduler) schedule() {
	s.cancelTimer()

	if s.pinned != "" {
		s.state = ManualPinned
		return
	}

	minutes := s.settings.RotationMinutes
	if minutes <= 0 {
		s.state = Idle
		return
	}

	gen := s.timerGen
	interval := time.Duration(max(1, minutes)) * s.unit
	s.timer = s.clock.AfterFunc(interval, func() {
		s.poster.Post(func() { s.fire(gen) })
	})

	if len(s.candidates) == 0 {
		// Keep polling so media that reappears is picked up
		s.state = Idle
		return
	}
	s.state = Rotating
}

func (s *Scheduler) fire(gen uint64) {
	if !s.running || gen != s.timerGen {
		return
	}
	s.logger.Debug("Rotation timer fired")
	s.Advance()
}

// cancelTimer stops the pending task; a callback that already raced past
// Stop sees a newer generation and does nothing
func (s *Scheduler) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}
