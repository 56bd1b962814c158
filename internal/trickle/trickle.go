// Package trickle implements the Trickle-style adaptive timer that
// paces the topology engine's control traffic, DIO/DIS and DAO (§4.3). It rides on top of
// internal/scheduler's named-timer API the same way the teacher layers
// its stabilization intervals over a ticker: one logical timer (T),
// re-armed on every fire with a doubled interval capped at TMax, and
// reset to TMin whenever the owning topology engine observes a local
// inconsistency.
package trickle

import (
	"math/rand"
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
	"aqmesh/internal/scheduler"
)

// FireFunc is invoked each time Trickle decides to transmit. It returns
// nothing; Trickle does not care whether the send actually happened.
type FireFunc func()

// Timer is one Trickle instance, identified by a name on the owning
// Scheduler (so a mote can run an independent Trickle timer per
// concern; the topology engine runs two, "dio" pacing DIO/DIS and
// "dao" pacing its own DAO).
type Timer struct {
	logger logger.Logger
	sched  *scheduler.Scheduler
	name   string
	tMin   time.Duration
	tMax   time.Duration
	t      time.Duration
	onFire FireFunc
	rng    *rand.Rand
}

// Option configures a Timer at construction time.
type Option func(*Timer)

// WithLogger sets the logger used by the timer.
func WithLogger(l logger.Logger) Option {
	return func(tr *Timer) { tr.logger = l }
}

// WithBounds overrides the default domain.TMin/domain.TMax bounds.
func WithBounds(tMin, tMax time.Duration) Option {
	return func(tr *Timer) {
		tr.tMin = tMin
		tr.tMax = tMax
	}
}

// WithRand overrides the source of randomness used to pick the
// in-interval delay, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(tr *Timer) { tr.rng = rng }
}

// New creates a Trickle timer bound to name on sched. onFire is called
// each time the current delay elapses; callers typically send a DIO (or
// DIS while detached) from inside it. The timer is not started until
// Start is called.
func New(sched *scheduler.Scheduler, name string, onFire FireFunc, opts ...Option) *Timer {
	tr := &Timer{
		logger: &logger.NopLogger{},
		sched:  sched,
		name:   name,
		tMin:   domain.TMin,
		tMax:   domain.TMax,
		onFire: onFire,
		rng:    rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(tr)
	}
	tr.t = tr.tMin
	return tr
}

// Start arms the first fire at T = tMin.
func (tr *Timer) Start() {
	tr.t = tr.tMin
	tr.arm()
}

// Stop cancels the underlying scheduler timer.
func (tr *Timer) Stop() {
	tr.sched.Cancel(tr.name)
}

// Inconsistency resets T to tMin and re-arms, per §4.3: "any observed
// change in local topology... resets T to T_MIN". Call this whenever
// the topology engine observes a new child, new parent, a rank change,
// a child expiry, or a detach.
func (tr *Timer) Inconsistency() {
	tr.logger.Debug("trickle: inconsistency, resetting T", logger.F("name", tr.name))
	tr.t = tr.tMin
	tr.arm()
}

// arm schedules the next fire after a delay drawn uniformly from
// [T/2, T]. It leaves T unchanged; fire doubles T (capped at tMax)
// before re-arming.
func (tr *Timer) arm() {
	delay := tr.nextDelay()
	tr.sched.Arm(tr.name, delay, tr.fire)
}

func (tr *Timer) nextDelay() time.Duration {
	half := tr.t / 2
	if half <= 0 {
		return tr.t
	}
	span := tr.t - half
	return half + time.Duration(tr.rng.Int63n(int64(span)+1))
}

func (tr *Timer) fire() {
	tr.onFire()
	tr.t *= 2
	if tr.t > tr.tMax {
		tr.t = tr.tMax
	}
	tr.arm()
}

// CurrentT returns the timer's current interval, mostly useful for tests.
func (tr *Timer) CurrentT() time.Duration { return tr.t }
