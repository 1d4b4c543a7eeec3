// Package clock provides the cancellable scheduled-task abstraction used by
// the rotation scheduler. Production code uses Real; tests drive Manual.
// Both are thin layers over github.com/benbjohnson/clock.
package clock

import (
	"sort"
	"sync"
	"time"

	clocklib "github.com/benbjohnson/clock"
)

// Task is a pending scheduled callback
type Task interface {
	// Stop cancels the task. It returns false if the task already fired
	// or was stopped before.
	Stop() bool
}

// Clock schedules callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Task
}

// Real is the wall clock
type Real struct {
	c clocklib.Clock
}

// NewReal returns the wall clock
func NewReal() Real {
	return Real{c: clocklib.New()}
}

// Now returns the current time
func (r Real) Now() time.Time {
	return r.c.Now()
}

// AfterFunc runs f on its own goroutine after d
func (r Real) AfterFunc(d time.Duration, f func()) Task {
	return r.c.AfterFunc(d, f)
}

// Manual is a clock that only moves when Advance is called. It steps a
// clocklib.Mock from one due task to the next. The mock starts callbacks on
// their own goroutines; each one waits until Advance releases it, and
// Advance waits for it to return, so callbacks run one at a time in due
// order and may arm new tasks.
type Manual struct {
	mock *clocklib.Mock

	mu    sync.Mutex
	seq   int
	tasks []*manualTask
}

type manualTask struct {
	clock     *Manual
	timer     *clocklib.Timer
	at        time.Time
	seq       int
	release   chan struct{}
	fired     chan struct{}
	done      bool
	cancelled bool
}

// NewManual returns a manual clock starting at start
func NewManual(start time.Time) *Manual {
	mock := clocklib.NewMock()
	mock.Set(start)
	return &Manual{mock: mock}
}

// Now returns the manual clock's current time
func (m *Manual) Now() time.Time {
	return m.mock.Now()
}

// AfterFunc registers f to run once the clock has advanced by d
func (m *Manual) AfterFunc(d time.Duration, f func()) Task {
	m.mu.Lock()
	m.seq++
	t := &manualTask{
		clock:   m,
		at:      m.mock.Now().Add(d),
		seq:     m.seq,
		release: make(chan struct{}),
		fired:   make(chan struct{}),
	}
	m.tasks = append(m.tasks, t)
	t.timer = m.mock.AfterFunc(d, func() {
		<-t.release
		defer close(t.fired)
		if !t.cancelled {
			f()
		}
	})
	m.mu.Unlock()
	return t
}

// Advance moves the clock forward and fires every task that became due,
// earliest first
func (m *Manual) Advance(d time.Duration) {
	target := m.mock.Now().Add(d)

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next != nil {
			next.done = true
			m.removeLocked(next)
		}
		m.mu.Unlock()
		if next == nil {
			break
		}

		m.mock.Add(max(0, next.at.Sub(m.mock.Now())))
		close(next.release)
		<-next.fired
	}

	if rest := target.Sub(m.mock.Now()); rest > 0 {
		m.mock.Add(rest)
	}
}

// Pending returns the number of armed tasks
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTask {
	due := make([]*manualTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

func (m *Manual) removeLocked(t *manualTask) {
	for i, candidate := range m.tasks {
		if candidate == t {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return
		}
	}
}

// Stop cancels the task if it has not fired yet
func (t *manualTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.cancelled = true
	t.clock.removeLocked(t)
	if !t.timer.Stop() {
		// The mock already started the callback; let it return unrun
		close(t.release)
	}
	return true
}
