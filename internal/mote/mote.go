// Package mote wires the independently-testable engines (topology,
// forwarder, slope, valve, gateway) into one running mote: it takes a
// scheduler and the two already-open radio conns from its caller, who
// also runs the scheduler loop (RunScheduler is a thin helper for that);
// it decodes inbound wire frames and routes them to the right engine,
// and starts each role's periodic timers. Nothing in here implements protocol
// logic; it is pure composition, the way the teacher's node.New wires a
// routing table, a client pool and storage into one Node without adding
// behavior of its own.
package mote

import (
	"context"
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/forwarder"
	"aqmesh/internal/gateway"
	"aqmesh/internal/logger"
	"aqmesh/internal/routingtable"
	"aqmesh/internal/scheduler"
	"aqmesh/internal/slope"
	"aqmesh/internal/topology"
	"aqmesh/internal/transport"
	"aqmesh/internal/valve"
	"aqmesh/internal/wire"
)

const timerData = "data_report"

// Mote is one running node: a scheduler goroutine, the two radio
// conns, the topology/forwarder engines and whatever role-specific
// extras (valve, slope engine, gateway) its domain.Role requires.
type Mote struct {
	logger logger.Logger
	self   domain.NodeID
	role   domain.Role

	sched       *scheduler.Scheduler
	broadcastConn transport.Conn
	unicastConn   transport.Conn

	routing   *routingtable.RoutingTable
	topology  *topology.Engine
	forwarder *forwarder.Forwarder
	slope     *slope.Engine
	valve     *valve.Valve
	gateway   *gateway.Gateway

	dataPeriod   time.Duration
	sample       func() uint16
	topologyOpts []topology.Option
}

// Option configures a Mote at construction time.
type Option func(*Mote)

func WithLogger(l logger.Logger) Option { return func(m *Mote) { m.logger = l } }

// WithDataPeriod overrides the sensor DATA reporting period.
func WithDataPeriod(d time.Duration) Option { return func(m *Mote) { m.dataPeriod = d } }

// WithSampleFunc overrides how a sensor mote produces its next reading.
// Defaults to a fixed constant, which is enough to drive the scenarios
// of spec.md §8 but is expected to be replaced by a real ADC read.
func WithSampleFunc(f func() uint16) Option { return func(m *Mote) { m.sample = f } }

// WithValveDuration overrides the valve's auto-close duration (sensor only).
func WithValveDuration(d time.Duration) Option {
	return func(m *Mote) { m.valve = valve.New(m.sched, valve.WithDuration(d), valve.WithLogger(m.logger)) }
}

// WithGateway wires a root-only serial gateway adapter.
func WithGateway(g *gateway.Gateway) Option { return func(m *Mote) { m.gateway = g } }

// WithSlopeOptions overrides the default slope.Engine construction
// (compute role only).
func WithSlopeOptions(opts ...slope.Option) Option {
	return func(m *Mote) { m.slope = slope.New(append([]slope.Option{slope.WithLogger(m.logger)}, opts...)...) }
}

// WithRoutingOptions overrides the default routingtable.New construction.
func WithRoutingOptions(opts ...routingtable.Option) Option {
	return func(m *Mote) {
		m.routing = routingtable.New(append([]routingtable.Option{routingtable.WithLogger(m.logger)}, opts...)...)
	}
}

// WithTopologyOptions passes through extra topology.Option values (e.g.
// WithTrickleBounds, WithTimeouts) to the underlying engine.
func WithTopologyOptions(opts ...topology.Option) Option {
	return func(m *Mote) { m.topologyOpts = append(m.topologyOpts, opts...) }
}

// New constructs a Mote for self/role. broadcastConn/unicastConn are
// the two radio channels this mote already opened against whatever
// transport.Transport the deployment uses (a real radio driver in
// production, transport/mock.Fabric in tests; see DESIGN.md for why no
// real radio driver is wired).
func New(self domain.NodeID, role domain.Role, sched *scheduler.Scheduler, broadcastConn, unicastConn transport.Conn, opts ...Option) *Mote {
	m := &Mote{
		logger:        &logger.NopLogger{},
		self:          self,
		role:          role,
		sched:         sched,
		broadcastConn: broadcastConn,
		unicastConn:   unicastConn,
		dataPeriod:    domain.DataPeriod,
		sample:        func() uint16 { return 0 },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.routing == nil {
		m.routing = routingtable.New(routingtable.WithLogger(m.logger))
	}
	m.topology = topology.New(self, role, sched, m.routing, broadcastConn, unicastConn,
		append([]topology.Option{topology.WithLogger(m.logger.Named("topology"))}, m.topologyOpts...)...)

	fwdOpts := []forwarder.Option{forwarder.WithLogger(m.logger.Named("forwarder"))}
	if role == domain.RoleSensor {
		if m.valve == nil {
			m.valve = valve.New(sched, valve.WithLogger(m.logger.Named("valve")))
		}
		fwdOpts = append(fwdOpts, forwarder.WithValve(m.valve))
	}
	if role == domain.RoleCompute {
		if m.slope == nil {
			m.slope = slope.New(slope.WithLogger(m.logger.Named("slope")))
		}
		fwdOpts = append(fwdOpts, forwarder.WithSlopeIngest(func(src domain.NodeID, value uint16) bool {
			decision := m.slope.Ingest(src, value, time.Now())
			switch decision {
			case slope.CannotTrack:
				return false
			case slope.OpenValve:
				m.sendOpen(src)
				return true
			default: // CloseValve: decided, nothing to actuate
				return true
			}
		}))
	}
	if role == domain.RoleRoot && m.gateway != nil {
		fwdOpts = append(fwdOpts, forwarder.WithGatewayDelivery(m.gateway.DeliverData))
	}
	m.forwarder = forwarder.New(self, role, m.routing, m.topology.Parent, unicastConn, fwdOpts...)

	return m
}

// Start brings the mote up: the topology engine begins its join
// protocol and, for a sensor, periodic DATA reporting starts.
func (m *Mote) Start() {
	m.topology.Start()
	if m.role == domain.RoleSensor {
		m.sched.Arm(timerData, m.dataPeriod, m.onDataFire)
	}
}

// HandleFrame decodes an inbound wire frame received at rss from from
// and dispatches it to the appropriate engine. This is the single
// entry point both radio conns' OnRecv callbacks should call.
func (m *Mote) HandleFrame(from domain.NodeID, rss domain.RSS, buf []byte) {
	msg, err := wire.Decode(buf)
	if err != nil {
		m.logger.Warn("HandleFrame: failed to decode", logger.FAddr("from", from), logger.F("err", err))
		return
	}
	switch msg.Kind {
	case wire.KindDIS:
		m.topology.HandleDIS(from)
	case wire.KindDIO:
		m.topology.HandleDIO(from, rss, msg.Rank)
	case wire.KindDAO:
		m.topology.HandleDAO(from, msg.SrcAddr)
	case wire.KindData:
		m.forwarder.HandleData(msg.SrcAddr, msg.Value)
	case wire.KindOpen:
		m.forwarder.HandleOpen(msg.DstAddr)
	default:
		m.logger.Warn("HandleFrame: unhandled kind", logger.F("kind", msg.Kind.String()))
	}
}

// sendOpen is used by a compute node's slope engine to actuate a
// descendant's valve.
func (m *Mote) sendOpen(dst domain.NodeID) {
	m.forwarder.HandleOpen(dst)
}

func (m *Mote) onDataFire() {
	value := m.sample()
	buf, err := wire.Encode(wire.NewData(m.self, value))
	if err != nil {
		m.logger.Error("onDataFire: encode failed", logger.F("err", err))
		m.sched.Arm(timerData, m.dataPeriod, m.onDataFire)
		return
	}
	parent := m.topology.Parent()
	if parent == nil {
		m.logger.Debug("onDataFire: no parent, dropping sample")
	} else if err := m.unicastConn.SendUnicast(parent.Addr, buf, domain.MaxRetransmits); err != nil {
		m.logger.Warn("onDataFire: send failed", logger.FAddr("to", parent.Addr), logger.F("err", err))
	}
	m.sched.Arm(timerData, m.dataPeriod, m.onDataFire)
}

// HandleOpenCommand actuates an OPEN targeting dst, issued externally
// (the root's serial gateway). It is the same path a received OPEN
// wire frame takes.
func (m *Mote) HandleOpenCommand(dst domain.NodeID) { m.forwarder.HandleOpen(dst) }

// Detach forces the mote back to DETACHED, e.g. on a fatal transport error.
func (m *Mote) Detach() { m.topology.Detach() }

// RunScheduler runs the mote's scheduler loop until ctx is canceled.
// Exactly one goroutine should call this, for the lifetime of the mote.
func RunScheduler(ctx context.Context, sched *scheduler.Scheduler) { sched.Run(ctx) }
