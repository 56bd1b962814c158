// Package forwarder implements the data-plane half of a mote (§4.6):
// upstream DATA toward the root and downstream OPEN toward a
// descendant, both via the routing table topology maintains. It never
// touches DIS/DIO/DAO; those stay in internal/topology.
package forwarder

import (
	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
	"aqmesh/internal/routingtable"
	"aqmesh/internal/transport"
	"aqmesh/internal/valve"
	"aqmesh/internal/wire"
)

// GatewayDelivery is invoked when a DATA message reaches the root, to
// hand it to the serial gateway adapter.
type GatewayDelivery func(src domain.NodeID, value uint16)

// SlopeIngest is invoked by a compute node on every DATA reception, to
// run the in-network trend decision instead of forwarding upstream.
// Returning false means the caller should still forward upstream
// (CANNOT_TRACK).
type SlopeIngest func(src domain.NodeID, value uint16) (consumed bool)

// Forwarder wires DATA/OPEN reception to the routing table and whatever
// this node's role-specific sink is (gateway, slope engine, or valve).
type Forwarder struct {
	logger logger.Logger
	self   domain.NodeID
	role   domain.Role

	routing     *routingtable.RoutingTable
	parent      func() *domain.ParentRecord
	unicastConn transport.Conn

	maxRetransmits int
	valve          *valve.Valve
	deliverToGW    GatewayDelivery
	slopeIngest    SlopeIngest
}

// Option configures a Forwarder at construction time.
type Option func(*Forwarder)

func WithLogger(l logger.Logger) Option { return func(f *Forwarder) { f.logger = l } }

func WithMaxRetransmits(n int) Option { return func(f *Forwarder) { f.maxRetransmits = n } }

// WithValve wires an OPEN at self (sensor role only) to actuate v.
func WithValve(v *valve.Valve) Option { return func(f *Forwarder) { f.valve = v } }

// WithGatewayDelivery wires root-side DATA delivery to the serial gateway.
func WithGatewayDelivery(d GatewayDelivery) Option {
	return func(f *Forwarder) { f.deliverToGW = d }
}

// WithSlopeIngest wires compute-node DATA reception to the slope engine.
func WithSlopeIngest(s SlopeIngest) Option { return func(f *Forwarder) { f.slopeIngest = s } }

// New creates a Forwarder. parent must return the node's current
// parent record (nil if detached/root); it is read fresh on every
// forward so the forwarder always uses topology's latest view.
func New(self domain.NodeID, role domain.Role, routing *routingtable.RoutingTable, parent func() *domain.ParentRecord, unicastConn transport.Conn, opts ...Option) *Forwarder {
	f := &Forwarder{
		logger:         &logger.NopLogger{},
		self:           self,
		role:           role,
		routing:        routing,
		parent:         parent,
		unicastConn:    unicastConn,
		maxRetransmits: domain.MaxRetransmits,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// HandleData processes an inbound DATA reporting value as sampled by
// src. Root delivers to the gateway; a compute node tries the slope
// engine first and only forwards upstream on CANNOT_TRACK; everyone
// else forwards by reliable unicast to its parent. The header (srcAddr)
// is never modified.
func (f *Forwarder) HandleData(src domain.NodeID, value uint16) {
	if f.role == domain.RoleRoot {
		if f.deliverToGW != nil {
			f.deliverToGW(src, value)
		}
		return
	}
	if f.role == domain.RoleCompute && f.slopeIngest != nil {
		if f.slopeIngest(src, value) {
			return
		}
	}
	f.forwardDataUpstream(src, value)
}

func (f *Forwarder) forwardDataUpstream(src domain.NodeID, value uint16) {
	p := f.parent()
	if p == nil {
		f.logger.Warn("ForwardData: no parent, dropping", logger.FAddr("src", src))
		return
	}
	buf, err := wire.Encode(wire.NewData(src, value))
	if err != nil {
		f.logger.Error("ForwardData: encode failed", logger.F("err", err))
		return
	}
	if err := f.unicastConn.SendUnicast(p.Addr, buf, f.maxRetransmits); err != nil {
		f.logger.Warn("ForwardData: send failed", logger.FAddr("to", p.Addr), logger.F("err", err))
	}
}

// HandleOpen processes an inbound OPEN targeting dst. If dst is self,
// the valve is actuated (sensor role only; at the root or a compute
// node this is a programming/config error, logged and discarded).
// Otherwise dst is looked up in the routing table and reliably
// unicast to its next hop; a miss is dropped with a diagnostic, with no
// flooding fallback.
func (f *Forwarder) HandleOpen(dst domain.NodeID) {
	if dst == f.self {
		if f.role != domain.RoleSensor {
			f.logger.Error("ForwardOpen: OPEN at self on non-sensor role, discarding",
				logger.F("role", f.role.String()))
			return
		}
		if f.valve != nil {
			f.valve.Open()
		}
		return
	}
	nextHop, ok := f.routing.Get(dst)
	if !ok {
		f.logger.Warn("ForwardOpen: MISSING, dropping", logger.FAddr("dst", dst))
		return
	}
	buf, err := wire.Encode(wire.NewOpen(dst))
	if err != nil {
		f.logger.Error("ForwardOpen: encode failed", logger.F("err", err))
		return
	}
	if err := f.unicastConn.SendUnicast(nextHop, buf, f.maxRetransmits); err != nil {
		f.logger.Warn("ForwardOpen: send failed", logger.FAddr("next_hop", nextHop), logger.F("err", err))
	}
}
