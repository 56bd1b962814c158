// Package valve implements the boolean actuator a sensor mote drives on
// OPEN receipt: open for a fixed duration, then auto-close unless
// re-opened. The timed-auto-revert shape is the same one the scheduler
// package uses for every other deferred action, so Valve is a thin
// wrapper arming/resetting a single named scheduler timer rather than
// running its own clock.
package valve

import (
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
	"aqmesh/internal/scheduler"
)

const timerName = "valve_close"

// Valve is a single boolean actuator.
type Valve struct {
	logger   logger.Logger
	sched    *scheduler.Scheduler
	duration time.Duration
	open     bool
}

// Option configures a Valve at construction time.
type Option func(*Valve)

// WithLogger sets the logger used by the valve.
func WithLogger(l logger.Logger) Option {
	return func(v *Valve) { v.logger = l }
}

// WithDuration overrides the default domain.OpenDuration.
func WithDuration(d time.Duration) Option {
	return func(v *Valve) { v.duration = d }
}

// New creates a closed Valve bound to sched's timer named "valve_close".
func New(sched *scheduler.Scheduler, opts ...Option) *Valve {
	v := &Valve{
		logger:   &logger.NopLogger{},
		sched:    sched,
		duration: domain.OpenDuration,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Open actuates the valve and (re)arms the auto-close timer, extending
// an already-open valve's remaining open time.
func (v *Valve) Open() {
	v.open = true
	v.logger.Info("valve opened", logger.F("duration", v.duration.String()))
	v.sched.Arm(timerName, v.duration, v.close)
}

// IsOpen reports the valve's current state.
func (v *Valve) IsOpen() bool { return v.open }

func (v *Valve) close() {
	v.open = false
	v.logger.Info("valve auto-closed")
}
