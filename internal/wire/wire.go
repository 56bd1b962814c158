// Package wire implements the fixed-layout byte codec for the five
// mesh message kinds (DATA, OPEN, DIS, DIO, DAO). Every message is
// type_tag (1 byte) || payload, with no length prefix and no version
// byte; protocol identity is implicit in the channel and tag, per the
// wire layout of the teacher's own codec package (tag-dispatched
// fixed-size structs, Encode/Decode pair, sentinel errors for the
// malformed cases).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"aqmesh/internal/domain"
)

// Kind identifies a message's wire tag.
type Kind uint8

const (
	KindData Kind = 0
	KindOpen Kind = 1
	KindDIS  Kind = 2
	KindDIO  Kind = 3
	KindDAO  Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindOpen:
		return "OPEN"
	case KindDIS:
		return "DIS"
	case KindDIO:
		return "DIO"
	case KindDAO:
		return "DAO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

var (
	// ErrUnknownKind is returned by Decode when the leading tag byte is
	// not one of the five known kinds.
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrTruncated is returned by Decode when buf is shorter than the
	// fixed size the tag requires.
	ErrTruncated = errors.New("wire: truncated message")
)

// Message is the decoded form of any of the five kinds. Only the
// fields relevant to Kind are meaningful; the others are zero.
type Message struct {
	Kind    Kind
	Rank    domain.Rank   // DIO
	SrcAddr domain.NodeID // DAO, DATA
	DstAddr domain.NodeID // OPEN
	Value   uint16        // DATA
}

// sizeFor returns the fixed total encoded size (tag + payload) for kind,
// or 0 if kind is unrecognized.
func sizeFor(k Kind) int {
	switch k {
	case KindDIS:
		return 1
	case KindDIO:
		return 1 + 1
	case KindDAO:
		return 1 + 2
	case KindOpen:
		return 1 + 2
	case KindData:
		return 1 + 2 + 2
	default:
		return 0
	}
}

// Encode renders m into a freshly allocated byte slice sized exactly
// for its kind.
func Encode(m Message) ([]byte, error) {
	size := sizeFor(m.Kind)
	if size == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, m.Kind)
	}
	buf := make([]byte, size)
	buf[0] = byte(m.Kind)
	switch m.Kind {
	case KindDIS:
		// no payload
	case KindDIO:
		buf[1] = byte(m.Rank)
	case KindDAO:
		putNodeID(buf[1:3], m.SrcAddr)
	case KindOpen:
		putNodeID(buf[1:3], m.DstAddr)
	case KindData:
		putNodeID(buf[1:3], m.SrcAddr)
		binary.BigEndian.PutUint16(buf[3:5], m.Value)
	}
	return buf, nil
}

// Decode parses buf into a Message. buf must be at least the fixed size
// for its leading tag byte; any bytes beyond that size are ignored.
// ErrTruncated covers both "too short to read the tag" and "too short
// for the tag's payload".
func Decode(buf []byte) (Message, error) {
	if len(buf) < 1 {
		return Message{}, ErrTruncated
	}
	kind := Kind(buf[0])
	size := sizeFor(kind)
	if size == 0 {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	if len(buf) < size {
		return Message{}, ErrTruncated
	}
	m := Message{Kind: kind}
	switch kind {
	case KindDIS:
	case KindDIO:
		m.Rank = domain.Rank(buf[1])
	case KindDAO:
		m.SrcAddr = nodeIDFrom(buf[1:3])
	case KindOpen:
		m.DstAddr = nodeIDFrom(buf[1:3])
	case KindData:
		m.SrcAddr = nodeIDFrom(buf[1:3])
		m.Value = binary.BigEndian.Uint16(buf[3:5])
	}
	return m, nil
}

// putNodeID writes id high-byte-first into a 2-byte slice.
func putNodeID(b []byte, id domain.NodeID) {
	binary.BigEndian.PutUint16(b, uint16(id))
}

func nodeIDFrom(b []byte) domain.NodeID {
	return domain.NodeID(binary.BigEndian.Uint16(b))
}

// NewDIS builds a DIS message (no payload).
func NewDIS() Message { return Message{Kind: KindDIS} }

// NewDIO builds a DIO message carrying the sender's rank.
func NewDIO(rank domain.Rank) Message { return Message{Kind: KindDIO, Rank: rank} }

// NewDAO builds a DAO message announcing srcAddr as reachable.
func NewDAO(srcAddr domain.NodeID) Message { return Message{Kind: KindDAO, SrcAddr: srcAddr} }

// NewOpen builds an OPEN message targeting dstAddr.
func NewOpen(dstAddr domain.NodeID) Message { return Message{Kind: KindOpen, DstAddr: dstAddr} }

// NewData builds a DATA message reporting value as sampled by srcAddr.
func NewData(srcAddr domain.NodeID, value uint16) Message {
	return Message{Kind: KindData, SrcAddr: srcAddr, Value: value}
}
