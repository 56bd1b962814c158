// Package transport defines the radio abstraction motes use to
// exchange wire-encoded messages: a broadcast channel for DIS/DIO and
// a reliable-unicast channel for DAO/DATA/OPEN (§6). Its vocabulary,
// Open/Close, SendBroadcast/SendUnicast, retransmit-bounded timeouts,
// is grounded on other_examples' nrf24 driver (Address, MaxRetries,
// ErrTimeout) reshaped into a connection-oriented interface so the
// topology/forwarder layers never touch radio registers directly, the
// way the teacher's client pool hides gRPC dial/retry mechanics behind
// a plain Get/Release API.
package transport

import (
	"errors"

	"aqmesh/internal/domain"
)

// Well-known channel identifiers, §6.
const (
	ChannelBroadcast = 129
	ChannelUnicast   = 144
)

var (
	// ErrMaxRetries names a reliable unicast exhausting its retransmit
	// budget without delivery. That event itself is reported through
	// OnTimeout, which carries no error value; no Conn in this module
	// returns ErrMaxRetries.
	ErrMaxRetries = errors.New("transport: max retries exceeded")
	// ErrClosed is returned by Send* after Close.
	ErrClosed = errors.New("transport: connection closed")
)

// Callbacks are delivered by a Conn as radio events occur. All three
// fire from whatever goroutine the transport implementation uses
// internally; callers (the mote's topology/forwarder code) must only
// ever act on them by posting to their own scheduler, never by mutating
// shared state directly, per the single-threaded event-loop model.
type Callbacks struct {
	// OnRecv is called for every delivered frame, broadcast or unicast.
	// rss is the signal strength the radio measured for this frame;
	// it has no meaning beyond the instant of reception and is how the
	// topology engine derives the RSS term of parent selection.
	OnRecv func(from domain.NodeID, rss domain.RSS, buf []byte)
	// OnSent is called once a unicast send is acknowledged.
	OnSent func(to domain.NodeID, retransmits int)
	// OnTimeout is called when a unicast send exhausts maxRetransmits
	// without an acknowledgment.
	OnTimeout func(to domain.NodeID, retransmits int)
}

// Conn is one open radio channel.
type Conn interface {
	// SendBroadcast transmits buf on this channel to all neighbors.
	// Broadcast has no acknowledgment or retry.
	SendBroadcast(buf []byte) error
	// SendUnicast reliably transmits buf to dest, retrying up to
	// maxRetransmits times. Delivery/failure is reported asynchronously
	// via the Callbacks given to Open, not via this call's return value
	// (mirroring the spec's onSent/onTimeout callback model); the
	// returned error only reports synchronous submission failures.
	SendUnicast(dest domain.NodeID, buf []byte, maxRetransmits int) error
	// Close releases the channel. Idempotent.
	Close() error
}

// Transport opens radio channels for a mote identified by self.
type Transport interface {
	Open(self domain.NodeID, channelID int, cb Callbacks) (Conn, error)
}
