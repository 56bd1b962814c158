// Package scheduler runs a mote's single-threaded, cooperatively
// scheduled event loop: one goroutine dispatching a set of named
// timers. It generalizes the teacher's node package, where each
// maintenance concern (successor stabilization, de Bruijn repair,
// storage sweep) runs on its own ticker goroutine; here every timer's
// fire event is funneled onto one channel read by a single goroutine,
// so callbacks never run concurrently with each other and never need
// their own locking, matching the single-threaded event-loop model.
package scheduler

import (
	"context"
	"time"

	"aqmesh/internal/logger"
)

// Callback is a timer's fire action. It may arm, reset or cancel any
// timer (including itself) via the owning Scheduler, but must never
// block: any work that would block is instead deferred by arming a
// timer for later.
type Callback func()

// entry is one named timer's bookkeeping. It is only ever touched from
// the Scheduler's own run goroutine.
type entry struct {
	timer   *time.Timer
	cb      Callback
	armed   bool
	fireSeq uint64 // bumped on every (re)arm; fireEvent carries the seq it was armed with
}

type fireEvent struct {
	name string
	seq  uint64
}

type cmdKind int

const (
	cmdArm cmdKind = iota
	cmdCancel
)

type command struct {
	kind  cmdKind
	name  string
	delay time.Duration
	cb    Callback
}

// commandBacklog bounds how many Arm/Cancel/Reset calls can be
// outstanding before the Run goroutine has drained them. It only needs
// to absorb a burst of calls issued from inside a single callback (a
// handful at most); sized generously since a mote has very few
// concurrently-named timers.
const commandBacklog = 256

// Scheduler owns a set of named timers and a single dispatch goroutine.
// Construct with New and start the loop with Run.
//
// Arm/Cancel/Reset enqueue onto cmds and return immediately without
// waiting for the Run goroutine to apply them: a callback running on
// that same goroutine (e.g. topology re-arming its own parent-timeout
// watchdog) can call them without deadlocking against itself, the same
// self-posting trick an event loop uses to schedule its own next tick.
// Ordering is preserved because cmds is a single FIFO channel.
type Scheduler struct {
	logger  logger.Logger
	entries map[string]*entry
	cmds    chan command
	fired   chan fireEvent
	stopped chan struct{}
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithLogger sets the logger used by the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a Scheduler. Run must be called (typically in its own
// goroutine) to start the dispatch loop.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  &logger.NopLogger{},
		entries: make(map[string]*entry),
		cmds:    make(chan command, commandBacklog),
		fired:   make(chan fireEvent, commandBacklog),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the dispatch loop until ctx is canceled. Every Callback
// registered via Arm/Reset executes here, one at a time, never
// concurrently with another callback or with Arm/Cancel/Reset handling.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Debug("scheduler started")
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			for _, e := range s.entries {
				if e.timer != nil {
					e.timer.Stop()
				}
			}
			s.logger.Debug("scheduler stopped")
			return
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case ev := <-s.fired:
			s.handleFire(ev)
		}
	}
}

func (s *Scheduler) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdArm:
		s.armLocked(cmd.name, cmd.delay, cmd.cb)
	case cmdCancel:
		s.cancelLocked(cmd.name)
	}
}

// armLocked (re)schedules the named timer. A nil cb reuses the
// existing callback (Reset's implementation). Arming an already-armed
// timer replaces its deadline and is never itself an error.
func (s *Scheduler) armLocked(name string, delay time.Duration, cb Callback) {
	e, ok := s.entries[name]
	if !ok {
		e = &entry{}
		s.entries[name] = e
	}
	if cb != nil {
		e.cb = cb
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.fireSeq++
	seq := e.fireSeq
	e.armed = true

	e.timer = time.AfterFunc(delay, func() {
		select {
		case s.fired <- fireEvent{name: name, seq: seq}:
		case <-s.stopped:
		}
	})
	s.logger.Debug("timer armed", logger.F("name", name), logger.F("delay", delay.String()))
}

func (s *Scheduler) cancelLocked(name string) {
	e, ok := s.entries[name]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.armed = false
	s.logger.Debug("timer canceled", logger.F("name", name))
}

// handleFire runs the callback for a timer that just fired, but only
// if it hasn't since been canceled or re-armed (a stale AfterFunc
// racing a Cancel/Reset is dropped by the seq check).
func (s *Scheduler) handleFire(ev fireEvent) {
	e, ok := s.entries[ev.name]
	if !ok || !e.armed || e.fireSeq != ev.seq {
		return
	}
	e.armed = false
	s.logger.Debug("timer fired", logger.F("name", ev.name))
	if e.cb != nil {
		e.cb()
	}
}

// Arm schedules name to fire once after delay, running cb on the
// scheduler's own goroutine. Re-arming an already-armed timer resets
// its deadline; passing a non-nil cb replaces the stored callback. Safe
// to call from any goroutine, including a callback currently running on
// the scheduler's own goroutine.
func (s *Scheduler) Arm(name string, delay time.Duration, cb Callback) {
	s.cmds <- command{kind: cmdArm, name: name, delay: delay, cb: cb}
}

// Cancel stops name if armed. Idempotent and safe to call from any
// callback, including the callback of the timer being canceled.
func (s *Scheduler) Cancel(name string) {
	s.cmds <- command{kind: cmdCancel, name: name}
}

// Reset re-arms name with a new delay, reusing its previously
// registered callback. Resetting a name that was never armed is a
// silent no-op (there is no callback to run).
func (s *Scheduler) Reset(name string, delay time.Duration) {
	s.Arm(name, delay, nil)
}

// Wait blocks until Run has returned.
func (s *Scheduler) Wait() { <-s.stopped }
