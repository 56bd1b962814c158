// Package slope implements the in-network air-quality trend decision
// (§4.7): a compute node tracks a bounded set of per-child sample
// buffers and, once each buffer holds enough samples, fits a
// least-squares slope to decide whether the child's valve should open.
// The ring-buffer-per-key-with-lazy-create-and-timeout-eviction shape
// mirrors the teacher's routing-table entry lifecycle (created on first
// sight, expired by a periodic sweep) applied to a different payload.
package slope

import (
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
)

// Decision is the result of Ingest.
type Decision int

const (
	// OpenValve means the tracked slope crossed the comparator's
	// worsening threshold.
	OpenValve Decision = iota
	// CloseValve means the slope is within acceptable bounds.
	CloseValve
	// CannotTrack means src has no tracked slot and none could be
	// allocated (all MaxTracked slots are occupied by other, still-live
	// sources); the caller should forward the DATA upstream instead of
	// consuming it.
	CannotTrack
)

func (d Decision) String() string {
	switch d {
	case OpenValve:
		return "OPEN_VALVE"
	case CloseValve:
		return "CLOSE_VALVE"
	case CannotTrack:
		return "CANNOT_TRACK"
	default:
		return "UNKNOWN"
	}
}

// Comparator decides, given a truncated integer percent-per-step slope,
// whether the trend counts as "worsening enough to open the valve".
// The default is slope >= SlopeThreshold (larger values are worse, per
// the AQI convention assumed by §4.7); a caller may substitute another
// comparator, e.g. for a metric where smaller is worse.
type Comparator func(slope int) bool

// DefaultComparator implements the spec's documented default.
func DefaultComparator(threshold int) Comparator {
	return func(slope int) bool { return slope >= threshold }
}

type buffer struct {
	values   []uint16
	lastSeen time.Time
}

// Engine tracks up to maxTracked sources, each holding up to maxSamples
// readings, and decides on OpenValve/CloseValve/CannotTrack once a
// source has at least minSamples.
type Engine struct {
	logger     logger.Logger
	maxTracked int
	maxSamples int
	minSamples int
	timeout    time.Duration
	cmp        Comparator
	slots      map[domain.NodeID]*buffer
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger sets the logger used by the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithComparator overrides the default worsening comparator.
func WithComparator(cmp Comparator) Option {
	return func(e *Engine) { e.cmp = cmp }
}

// WithTimeout overrides the slot idle timeout (default domain.TimeoutChildren).
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New creates an Engine using domain.MaxTracked/MaxSamples/MinSamples/
// SlopeThreshold as defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:     &logger.NopLogger{},
		maxTracked: domain.MaxTracked,
		maxSamples: domain.MaxSamples,
		minSamples: domain.MinSamples,
		timeout:    domain.TimeoutChildren,
		cmp:        DefaultComparator(domain.SlopeThreshold),
		slots:      make(map[domain.NodeID]*buffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest records value from src at time now and returns the resulting
// decision. It opportunistically expires any tracked slot idle longer
// than the configured timeout before looking for room.
func (e *Engine) Ingest(src domain.NodeID, value uint16, now time.Time) Decision {
	e.expireOlderThan(now)

	buf, ok := e.slots[src]
	if !ok {
		if len(e.slots) >= e.maxTracked {
			e.logger.Debug("Ingest: cannot track, all slots occupied", logger.FAddr("src", src))
			return CannotTrack
		}
		buf = &buffer{}
		e.slots[src] = buf
	}

	buf.lastSeen = now
	buf.values = append(buf.values, value)
	if len(buf.values) > e.maxSamples {
		buf.values = buf.values[len(buf.values)-e.maxSamples:]
	}

	if len(buf.values) < e.minSamples {
		e.logger.Debug("Ingest: not enough samples yet",
			logger.FAddr("src", src), logger.F("count", len(buf.values)))
		return CloseValve
	}

	s := leastSquaresSlope(buf.values)
	decision := CloseValve
	if e.cmp(s) {
		decision = OpenValve
	}
	e.logger.Debug("Ingest: decision",
		logger.FAddr("src", src), logger.F("slope", s), logger.F("decision", decision.String()))
	return decision
}

// expireOlderThan drops any tracked slot idle longer than e.timeout.
func (e *Engine) expireOlderThan(now time.Time) {
	for src, buf := range e.slots {
		if now.Sub(buf.lastSeen) > e.timeout {
			delete(e.slots, src)
			e.logger.Debug("expireOlderThan: dropped slot", logger.FAddr("src", src))
		}
	}
}

// leastSquaresSlope fits (i, values[i]) for i in [0, n) and returns the
// slope truncated to an integer percent, per §4.7:
//
//	slope = (Σx·Σy − n·Σxy) / (Σx·Σx − n·Σxx)
func leastSquaresSlope(values []uint16) int {
	n := int64(len(values))
	var sumX, sumY, sumXY, sumXX int64
	for i, v := range values {
		x := int64(i)
		y := int64(v)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := sumX*sumX - n*sumXX
	if denom == 0 {
		return 0
	}
	numer := sumX*sumY - n*sumXY
	return int(numer / denom)
}
