// Package topology implements the RPL-like DODAG protocol (§4.4-§4.5):
// DIS/DIO/DAO handling, parent selection with RSSI hysteresis, rank
// propagation, and detach/repair. It is the control-plane half of a
// mote; internal/forwarder is the data-plane half. The engine owns no
// goroutine of its own; every handler and timer callback runs on the
// owning scheduler.Scheduler's single goroutine, matching the
// cooperative event-loop model the whole mote is built around.
package topology

import (
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
	"aqmesh/internal/routingtable"
	"aqmesh/internal/scheduler"
	"aqmesh/internal/telemetry/spanctx"
	"aqmesh/internal/transport"
	"aqmesh/internal/trickle"
	"aqmesh/internal/wire"

	"context"
)

const (
	timerParent   = "parent_timeout"
	timerChildren = "children_sweep"
)

// ParentResult mirrors the spec's NEW/CHANGED/REJECTED vocabulary for
// considerParent's outcome.
type ParentResult int

const (
	ParentRejected ParentResult = iota
	ParentNew
	ParentChanged
)

// Engine is the control-plane state machine for one mote.
type Engine struct {
	logger logger.Logger
	self   domain.NodeID
	role   domain.Role

	sched         *scheduler.Scheduler
	routing       *routingtable.RoutingTable
	broadcastConn transport.Conn
	unicastConn   transport.Conn

	dioTrickle *trickle.Timer
	daoTrickle *trickle.Timer

	timeoutChildren time.Duration
	timeoutParent   time.Duration
	rssHysteresis   domain.RSS
	maxRetransmits  int
	clock           func() time.Time

	inDodag bool
	rank    domain.Rank
	parent  *domain.ParentRecord
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithTimeouts(children, parent time.Duration) Option {
	return func(e *Engine) {
		e.timeoutChildren = children
		e.timeoutParent = parent
	}
}

func WithRSSHysteresis(h domain.RSS) Option { return func(e *Engine) { e.rssHysteresis = h } }

func WithMaxRetransmits(n int) Option { return func(e *Engine) { e.maxRetransmits = n } }

func WithTrickleBounds(tMin, tMax time.Duration) Option {
	return func(e *Engine) {
		e.dioTrickle = trickle.New(e.sched, "dio", e.onDioFire, trickle.WithBounds(tMin, tMax), trickle.WithLogger(e.logger))
		e.daoTrickle = trickle.New(e.sched, "dao", e.onDaoFire, trickle.WithBounds(tMin, tMax), trickle.WithLogger(e.logger))
	}
}

// WithClock overrides the time source used to stamp routing-table
// entries, for deterministic tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.clock = now } }

// New creates an Engine for self. role fixes root/sensor/compute
// behavior for the engine's lifetime, per §4.4. broadcastConn and
// unicastConn are the two radio channels opened by the caller.
func New(self domain.NodeID, role domain.Role, sched *scheduler.Scheduler, routing *routingtable.RoutingTable, broadcastConn, unicastConn transport.Conn, opts ...Option) *Engine {
	e := &Engine{
		logger:          &logger.NopLogger{},
		self:            self,
		role:            role,
		sched:           sched,
		routing:         routing,
		broadcastConn:   broadcastConn,
		unicastConn:     unicastConn,
		timeoutChildren: domain.TimeoutChildren,
		timeoutParent:   domain.TimeoutParent,
		rssHysteresis:   domain.RSSHysteresis,
		maxRetransmits:  domain.MaxRetransmits,
		clock:           time.Now,
		rank:            domain.InfiniteRank,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dioTrickle == nil {
		e.dioTrickle = trickle.New(e.sched, "dio", e.onDioFire, trickle.WithLogger(e.logger))
	}
	if e.daoTrickle == nil {
		e.daoTrickle = trickle.New(e.sched, "dao", e.onDaoFire, trickle.WithLogger(e.logger))
	}
	return e
}

// Start brings the engine up: a root is immediately attached at
// RootRank; any other role starts DETACHED and begins broadcasting DIS.
func (e *Engine) Start() {
	if e.role == domain.RoleRoot {
		e.inDodag = true
		e.rank = domain.RootRank
		e.sched.Arm(timerChildren, e.timeoutChildren, e.sweepChildren)
	} else {
		e.inDodag = false
		e.rank = domain.InfiniteRank
	}
	e.dioTrickle.Start()
	e.logger.Info("topology engine started", logger.FAddr("self", e.self), logger.F("role", e.role.String()))
}

// InDodag reports whether this mote currently has a path to the root
// (always true for the root itself).
func (e *Engine) InDodag() bool { return e.inDodag }

// Rank returns the current rank.
func (e *Engine) Rank() domain.Rank { return e.rank }

// Parent returns the current parent record, or nil if detached or root.
func (e *Engine) Parent() *domain.ParentRecord { return e.parent }

// ---- DIS ----

// HandleDIS processes an inbound DIS. The reference protocol treats
// this as informational only (no automated response), so this just
// logs receipt.
func (e *Engine) HandleDIS(from domain.NodeID) {
	e.logger.Debug("DIS received", logger.FAddr("from", from))
}

func (e *Engine) onDioFire() {
	if e.inDodag {
		e.transmitDIO()
	} else {
		e.transmitDIS()
	}
}

func (e *Engine) onDaoFire() {
	if e.parent != nil {
		e.sendDAO(e.self, e.parent.Addr)
	}
}

func (e *Engine) transmitDIS() {
	buf, err := wire.Encode(wire.NewDIS())
	if err != nil {
		e.logger.Error("failed to encode DIS", logger.F("err", err))
		return
	}
	if err := e.broadcastConn.SendBroadcast(buf); err != nil {
		e.logger.Warn("DIS broadcast failed", logger.F("err", err))
	}
}

func (e *Engine) transmitDIO() {
	_, end := spanctx.Start(context.Background(), "topology.transmitDIO",
	)
	buf, err := wire.Encode(wire.NewDIO(e.rank))
	if err != nil {
		end(err)
		e.logger.Error("failed to encode DIO", logger.F("err", err))
		return
	}
	err = e.broadcastConn.SendBroadcast(buf)
	end(err)
	if err != nil {
		e.logger.Warn("DIO broadcast failed", logger.F("err", err))
	}
}

// ---- DIO ----

// HandleDIO processes an inbound DIO from from, observed at signal
// strength rss, advertising rank. Root ignores all DIOs (it has no
// parent to select).
func (e *Engine) HandleDIO(from domain.NodeID, rss domain.RSS, rank domain.Rank) {
	if e.role == domain.RoleRoot {
		return
	}
	if e.inDodag && e.parent != nil && from == e.parent.Addr {
		e.handleParentDIO(rss, rank)
		return
	}
	e.handleNeighborDIO(from, rss, rank)
}

// handleParentDIO implements the ATTACHED "DIO from current parent"
// path of §4.5: restart the parent-timeout watchdog; a parent
// advertising INFINITE_RANK has itself detached, so follow it down;
// otherwise adopt the new rank and, only if it actually changed,
// propagate by sending our own DIO (the REDESIGN FLAG guard against
// self-amplifying Trickle storms: DIO is never re-sent from inside this
// callback unless our own rank changed).
func (e *Engine) handleParentDIO(rss domain.RSS, rank domain.Rank) {
	e.sched.Reset(timerParent, e.timeoutParent)
	if rank == domain.InfiniteRank {
		e.detach()
		return
	}
	e.parent.RSS = rss
	e.parent.Rank = rank
	newRank := rank + 1
	if newRank != e.rank {
		e.rank = newRank
		e.transmitDIO()
		e.signalInconsistency()
	}
}

// handleNeighborDIO implements §4.5's "on DIO receipt with finite rank,
// call considerParent" rule: a neighbor advertising INFINITE_RANK has
// detached and is not a candidate parent, so it is ignored here rather
// than passed to considerParent (which would otherwise accept it when
// this node has no parent yet and adopt rank+1, wrapping to RootRank).
func (e *Engine) handleNeighborDIO(from domain.NodeID, rss domain.RSS, rank domain.Rank) {
	if rank == domain.InfiniteRank {
		e.logger.Debug("handleNeighborDIO: ignoring infinite-rank neighbor", logger.FAddr("from", from))
		return
	}
	result := e.considerParent(from, rank, rss)
	switch result {
	case ParentRejected:
		return
	case ParentNew:
		e.onAttach()
		e.transmitDIO()
		e.sendDAO(e.self, e.parent.Addr)
		e.signalInconsistency()
	case ParentChanged:
		e.transmitDIO()
		e.sendDAO(e.self, e.parent.Addr)
		e.signalInconsistency()
	}
}

// considerParent implements §4.5's parent-selection rule.
func (e *Engine) considerParent(candidate domain.NodeID, rank domain.Rank, rss domain.RSS) ParentResult {
	if !e.parent.Preferred(rank, rss, e.rssHysteresis) {
		e.logger.Debug("considerParent: rejected",
			logger.FAddr("candidate", candidate), logger.F("rank", rank), logger.F("rss", rss))
		return ParentRejected
	}
	wasAttached := e.parent != nil
	e.parent = &domain.ParentRecord{Addr: candidate, Rank: rank, RSS: rss}
	e.rank = rank + 1
	if !wasAttached {
		e.logger.Info("parent accepted (new)", logger.FParent("parent", e.parent))
		return ParentNew
	}
	e.logger.Info("parent changed", logger.FParent("parent", e.parent))
	return ParentChanged
}

func (e *Engine) onAttach() {
	e.inDodag = true
	e.sched.Arm(timerParent, e.timeoutParent, e.onParentTimeout)
	e.daoTrickle.Start()
	e.sched.Arm(timerChildren, e.timeoutChildren, e.sweepChildren)
}

func (e *Engine) onParentTimeout() {
	e.logger.Warn("parent timeout, detaching", logger.FParent("parent", e.parent))
	e.detach()
}

// detach implements §4.4: transition to inDodag=false, rank=INFINITE,
// discard the parent record, clear the routing table, broadcast
// DIO(INFINITE_RANK) so children detach promptly instead of each
// waiting out its own timeoutParent (scenario S4), and resume DIS.
// Root never detaches.
func (e *Engine) detach() {
	if e.role == domain.RoleRoot {
		return
	}
	e.inDodag = false
	e.rank = domain.InfiniteRank
	e.parent = nil
	e.routing.Clear()
	e.sched.Cancel(timerParent)
	e.daoTrickle.Stop()
	e.sched.Cancel(timerChildren)
	e.transmitDIO()
	e.signalInconsistency()
	e.logger.Info("detached", logger.FAddr("self", e.self))
}

// Detach exposes detach for external callers (e.g. a test driving S4,
// or the mote wiring layer reacting to a fatal transport error).
func (e *Engine) Detach() { e.detach() }

func (e *Engine) signalInconsistency() {
	e.dioTrickle.Inconsistency()
	e.daoTrickle.Inconsistency()
}

// ---- DAO ----

// HandleDAO processes an inbound DAO announcing that srcAddr is
// reachable via from. The entry is upserted verbatim (§9's REDESIGN
// FLAG: forwarding never re-originates the message) and, unless this
// node is the root, forwarded unchanged toward the current parent.
func (e *Engine) HandleDAO(from domain.NodeID, srcAddr domain.NodeID) {
	now := e.clock()
	result := e.routing.Put(srcAddr, from, now)
	switch result {
	case routingtable.NewEntry:
		e.logger.Info("DAO: new descendant", logger.FAddr("src", srcAddr), logger.FAddr("via", from))
		e.signalInconsistency()
	case routingtable.Updated:
		e.logger.Debug("DAO: refreshed descendant", logger.FAddr("src", srcAddr), logger.FAddr("via", from))
	case routingtable.OutOfMemory:
		e.logger.Error("DAO: routing table out of memory", logger.FAddr("src", srcAddr))
		return
	}
	if e.role != domain.RoleRoot && e.parent != nil {
		e.sendDAO(srcAddr, e.parent.Addr)
	}
}

// sendDAO reliably unicasts a DAO announcing srcAddr to dest, verbatim:
// the srcAddr field is never rewritten along the path.
func (e *Engine) sendDAO(srcAddr domain.NodeID, dest domain.NodeID) {
	buf, err := wire.Encode(wire.NewDAO(srcAddr))
	if err != nil {
		e.logger.Error("failed to encode DAO", logger.F("err", err))
		return
	}
	if err := e.unicastConn.SendUnicast(dest, buf, e.maxRetransmits); err != nil {
		e.logger.Warn("DAO send failed, will re-issue via trickle", logger.FAddr("dest", dest), logger.F("err", err))
	}
}

// ---- children lifecycle ----

func (e *Engine) sweepChildren() {
	removed := e.routing.ExpireOlderThan(e.clock(), e.timeoutChildren)
	if removed {
		e.signalInconsistency()
	}
	e.sched.Arm(timerChildren, e.timeoutChildren, e.sweepChildren)
}
