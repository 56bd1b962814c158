// Package mock implements a deterministic, in-process transport.Transport
// for tests: a shared Fabric plays the role of the air, delivering
// broadcasts to every other registered mote and unicasts to one, with
// per-link RSS and optional reachability faults that a test can set up
// before exercising the scenarios of §8 (S1-S6). This is the teacher's
// client pool idea turned inside-out: instead of a pool of real gRPC
// connections keyed by address, the Fabric is a pool of in-memory peers
// keyed by NodeID, letting tests drive multi-node scenarios without a
// real radio or network.
package mock

import (
	"sync"

	"aqmesh/internal/domain"
	"aqmesh/internal/transport"
)

// Fabric is the shared medium connecting every mote in a test. All
// methods are safe for concurrent use since each mote's Conn may be
// driven from its own scheduler goroutine.
type Fabric struct {
	mu    sync.Mutex
	peers map[domain.NodeID]map[int]*conn // nodeID -> channelID -> conn
	// rss, keyed "from->to", overrides the default RSS reported on
	// delivery; missing pairs use defaultRSS.
	rss        map[[2]domain.NodeID]domain.RSS
	defaultRSS domain.RSS
	// unreachable marks a (from, to) pair whose unicasts always time out,
	// used by tests to simulate parent loss (S4).
	unreachable map[[2]domain.NodeID]bool
}

// NewFabric creates an empty Fabric. defaultRSS is reported for any
// link whose RSS has not been set explicitly via SetRSS.
func NewFabric(defaultRSS domain.RSS) *Fabric {
	return &Fabric{
		peers:       make(map[domain.NodeID]map[int]*conn),
		rss:         make(map[[2]domain.NodeID]domain.RSS),
		defaultRSS:  defaultRSS,
		unreachable: make(map[[2]domain.NodeID]bool),
	}
}

// SetRSS fixes the RSS reported when `to` receives a frame sent by
// `from`. Links are directional, matching a real radio's asymmetry.
func (f *Fabric) SetRSS(from, to domain.NodeID, rss domain.RSS) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rss[[2]domain.NodeID{from, to}] = rss
}

// SetUnreachable makes every unicast from `from` to `to` time out
// (simulating a dead link) until cleared with SetReachable.
func (f *Fabric) SetUnreachable(from, to domain.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[[2]domain.NodeID{from, to}] = true
}

// SetReachable clears a prior SetUnreachable.
func (f *Fabric) SetReachable(from, to domain.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.unreachable, [2]domain.NodeID{from, to})
}

func (f *Fabric) rssFor(from, to domain.NodeID) domain.RSS {
	if v, ok := f.rss[[2]domain.NodeID{from, to}]; ok {
		return v
	}
	return f.defaultRSS
}

// Open implements transport.Transport: it registers self on channelID
// and returns a Conn that sends through this Fabric.
func (f *Fabric) Open(self domain.NodeID, channelID int, cb transport.Callbacks) (transport.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &conn{fabric: f, self: self, channelID: channelID, cb: cb}
	if f.peers[self] == nil {
		f.peers[self] = make(map[int]*conn)
	}
	f.peers[self][channelID] = c
	return c, nil
}

// conn is one mote's registration on one channel of a Fabric.
type conn struct {
	fabric    *Fabric
	self      domain.NodeID
	channelID int
	cb        transport.Callbacks
	closed    bool
}

func (c *conn) SendBroadcast(buf []byte) error {
	if c.closed {
		return transport.ErrClosed
	}
	c.fabric.mu.Lock()
	var targets []*conn
	for addr, channels := range c.fabric.peers {
		if addr == c.self {
			continue
		}
		if dst, ok := channels[c.channelID]; ok {
			targets = append(targets, dst)
		}
	}
	c.fabric.mu.Unlock()

	for _, dst := range targets {
		rss := c.fabric.rssFor(c.self, dst.self)
		if dst.cb.OnRecv != nil {
			dst.cb.OnRecv(c.self, rss, buf)
		}
	}
	return nil
}

func (c *conn) SendUnicast(dest domain.NodeID, buf []byte, maxRetransmits int) error {
	if c.closed {
		return transport.ErrClosed
	}
	c.fabric.mu.Lock()
	blocked := c.fabric.unreachable[[2]domain.NodeID{c.self, dest}]
	var dst *conn
	if channels, ok := c.fabric.peers[dest]; ok {
		dst = channels[c.channelID]
	}
	c.fabric.mu.Unlock()

	if blocked || dst == nil {
		if c.cb.OnTimeout != nil {
			c.cb.OnTimeout(dest, maxRetransmits)
		}
		return nil
	}

	rss := c.fabric.rssFor(c.self, dest)
	if dst.cb.OnRecv != nil {
		dst.cb.OnRecv(c.self, rss, buf)
	}
	if c.cb.OnSent != nil {
		c.cb.OnSent(dest, 0)
	}
	return nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}
