// Package routingtable implements the open-addressed descendantId →
// nextHopId map each mote uses to forward downstream OPEN commands
// (§4.2 of the design). It is grounded on
// the teacher's routingtable package: a logger-carrying struct built
// through functional options, with a DebugLog snapshot method; the
// storage strategy itself (linear probing with tombstones, probe-chain
// bounded growth) is new, since the teacher's routing table is a
// Chord/de-Bruijn successor list, not a hash map.
package routingtable

import (
	"time"

	"aqmesh/internal/domain"
	"aqmesh/internal/logger"
)

// PutResult is the outcome of a Put call.
type PutResult int

const (
	NewEntry PutResult = iota
	Updated
	OutOfMemory
)

func (r PutResult) String() string {
	switch r {
	case NewEntry:
		return "NEW"
	case Updated:
		return "UPDATE"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	default:
		return "UNKNOWN"
	}
}

// RemoveResult is the outcome of a Remove call.
type RemoveResult int

const (
	Removed RemoveResult = iota
	Missing
)

func (r RemoveResult) String() string {
	if r == Removed {
		return "OK"
	}
	return "MISSING"
}

// slotState distinguishes a slot that has never been used from one that
// held a live entry and was later removed. Collapsing tombstones into
// empty immediately would break linear-probing lookups for any key that
// hashed past the deleted slot, see SPEC_FULL.md's note on the
// original C hashmap's three-state slots.
type slotState int

const (
	slotEmpty slotState = iota
	slotLive
	slotTombstone
)

// slot is one routing-table bucket.
type slot struct {
	state    slotState
	key      domain.NodeID
	nextHop  domain.NodeID
	lastSeen time.Time
}

// allocatorCeiling emulates the "allocator failure" error path of §4.2:
// a real mote's heap is a few KB, so capacity cannot grow forever. A
// 16-bit NodeID space never legitimately needs more slots than this.
const allocatorCeiling = 1 << 16

// RoutingTable is a compact open-addressed map from NodeID to the
// neighbor NodeID that should receive traffic destined for it. Capacity
// starts at domain.InitialCapacity slots and grows to 2n+1 whenever a
// probe chain of domain.MaxChain slots is exhausted without finding
// room. The table is owned by a single mote and, per §5, touched only
// from that mote's scheduler goroutine, there is no internal locking;
// callers that need concurrent inspection (tests, an operator CLI)
// must serialize their own access.
type RoutingTable struct {
	logger   logger.Logger
	slots    []slot
	maxChain int
	size     int
}

// New creates a routing table with the default initial capacity and
// probe-chain length (domain.InitialCapacity, domain.MaxChain), or
// whatever WithInitialCapacity/WithMaxChain options override.
func New(opts ...Option) *RoutingTable {
	rt := &RoutingTable{
		logger:   &logger.NopLogger{},
		slots:    make([]slot, domain.InitialCapacity),
		maxChain: domain.MaxChain,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger.Debug("routing table initialized",
		logger.F("capacity", len(rt.slots)),
		logger.F("max_chain", rt.maxChain),
	)
	return rt
}

// Size returns the number of live entries.
func (rt *RoutingTable) Size() int { return rt.size }

// Capacity returns the current slot count.
func (rt *RoutingTable) Capacity() int { return len(rt.slots) }

// indexFor hashes a NodeID into [0, capacity) using Knuth's
// multiplicative method, which spreads 16-bit keys well enough for a
// handful-of-slots table without pulling in a hashing library.
func indexFor(key domain.NodeID, capacity int) int {
	h := uint32(key) * 2654435761
	return int(h % uint32(capacity))
}

// Put upserts key → nextHop with lastSeen = now. It probes up to
// maxChain slots from the key's hashed index; if the table is full
// within that chain, it rehashes to 2n+1 (repeating until the re-insert
// succeeds or allocatorCeiling is hit) and retries.
func (rt *RoutingTable) Put(key, nextHop domain.NodeID, now time.Time) PutResult {
	for {
		if res, ok := rt.tryPut(key, nextHop, now); ok {
			rt.logger.Debug("Put",
				logger.FAddr("key", key),
				logger.FAddr("next_hop", nextHop),
				logger.F("result", res.String()),
			)
			return res
		}
		if !rt.grow() {
			rt.logger.Error("Put: allocator failure, keeping old table",
				logger.FAddr("key", key),
				logger.F("capacity", len(rt.slots)),
			)
			return OutOfMemory
		}
	}
}

// tryPut attempts one probe pass at the current capacity. ok is false
// when the chain was exhausted without an available slot (FULL), or
// when inserting a new key would bring size to half the capacity or
// beyond: the table keeps its load factor strictly below 0.5 after every
// insert. An update to an existing key is exempt since it never grows
// size.
func (rt *RoutingTable) tryPut(key, nextHop domain.NodeID, now time.Time) (PutResult, bool) {
	capacity := len(rt.slots)
	base := indexFor(key, capacity)
	firstFree := -1

	chain := rt.maxChain
	if chain > capacity {
		chain = capacity
	}
	for i := 0; i < chain; i++ {
		idx := (base + i) % capacity
		s := &rt.slots[idx]
		switch s.state {
		case slotEmpty:
			if 2*(rt.size+1) >= capacity {
				return 0, false
			}
			target := idx
			if firstFree != -1 {
				target = firstFree
			}
			rt.slots[target] = slot{state: slotLive, key: key, nextHop: nextHop, lastSeen: now}
			rt.size++
			return NewEntry, true
		case slotTombstone:
			if firstFree == -1 {
				firstFree = idx
			}
		case slotLive:
			if s.key == key {
				if firstFree != -1 {
					// Compact: move the update to the earlier slot seen
					// during this probe and free the current one.
					rt.slots[firstFree] = slot{state: slotLive, key: key, nextHop: nextHop, lastSeen: now}
					rt.slots[idx] = slot{state: slotTombstone}
				} else {
					s.nextHop = nextHop
					s.lastSeen = now
				}
				return Updated, true
			}
		}
	}
	if firstFree != -1 {
		if 2*(rt.size+1) >= capacity {
			return 0, false
		}
		rt.slots[firstFree] = slot{state: slotLive, key: key, nextHop: nextHop, lastSeen: now}
		rt.size++
		return NewEntry, true
	}
	return 0, false
}

// Get looks up key's next hop. A successful lookup relocates the entry
// to the earliest empty/tombstone slot seen during the probe if it was
// found further out (probe-shortening compaction, §3).
func (rt *RoutingTable) Get(key domain.NodeID) (domain.NodeID, bool) {
	capacity := len(rt.slots)
	base := indexFor(key, capacity)
	firstFree := -1

	chain := rt.maxChain
	if chain > capacity {
		chain = capacity
	}
	for i := 0; i < chain; i++ {
		idx := (base + i) % capacity
		s := &rt.slots[idx]
		switch s.state {
		case slotEmpty:
			rt.logger.Debug("Get: missing", logger.FAddr("key", key))
			return 0, false
		case slotTombstone:
			if firstFree == -1 {
				firstFree = idx
			}
		case slotLive:
			if s.key == key {
				nextHop := s.nextHop
				if firstFree != -1 && firstFree != idx {
					rt.slots[firstFree] = slot{state: slotLive, key: key, nextHop: nextHop, lastSeen: s.lastSeen}
					rt.slots[idx] = slot{state: slotTombstone}
				}
				rt.logger.Debug("Get: hit", logger.FAddr("key", key), logger.FAddr("next_hop", nextHop))
				return nextHop, true
			}
		}
	}
	rt.logger.Debug("Get: missing (chain exhausted)", logger.FAddr("key", key))
	return 0, false
}

// Remove marks key's slot free. Returns Missing if key was not present.
func (rt *RoutingTable) Remove(key domain.NodeID) RemoveResult {
	capacity := len(rt.slots)
	base := indexFor(key, capacity)

	chain := rt.maxChain
	if chain > capacity {
		chain = capacity
	}
	for i := 0; i < chain; i++ {
		idx := (base + i) % capacity
		s := &rt.slots[idx]
		if s.state == slotEmpty {
			break
		}
		if s.state == slotLive && s.key == key {
			rt.slots[idx] = slot{state: slotTombstone}
			rt.size--
			rt.logger.Debug("Remove: ok", logger.FAddr("key", key))
			return Removed
		}
	}
	rt.logger.Debug("Remove: missing", logger.FAddr("key", key))
	return Missing
}

// ExpireOlderThan drops every live entry whose lastSeen + ttl < now and
// reports whether anything was removed.
func (rt *RoutingTable) ExpireOlderThan(now time.Time, ttl time.Duration) bool {
	removedAny := false
	for i := range rt.slots {
		s := &rt.slots[i]
		if s.state == slotLive && s.lastSeen.Add(ttl).Before(now) {
			expired := s.key
			rt.slots[i] = slot{state: slotTombstone}
			rt.size--
			removedAny = true
			rt.logger.Debug("ExpireOlderThan: dropped entry", logger.FAddr("key", expired))
		}
	}
	return removedAny
}

// Clear empties the table in place, releasing every slot. Used on
// detach (§4.4): after detaching, the routing table must be empty.
func (rt *RoutingTable) Clear() {
	for i := range rt.slots {
		rt.slots[i] = slot{}
	}
	rt.size = 0
	rt.logger.Debug("Clear: routing table emptied")
}

// grow rehashes the live entries into a table of 2*cap+1 slots,
// retrying with ever-larger capacities if an internal re-insertion
// would itself hit FULL (rehash must never recurse into grow). Returns
// false only once allocatorCeiling is exceeded, modeling an allocator
// failure; the caller keeps the old table in that case.
func (rt *RoutingTable) grow() bool {
	live := make([]slot, 0, rt.size)
	for _, s := range rt.slots {
		if s.state == slotLive {
			live = append(live, s)
		}
	}

	target := 2*len(rt.slots) + 1
	for target <= allocatorCeiling {
		slots := make([]slot, target)
		if rehashInto(slots, rt.maxChain, live) {
			rt.logger.Debug("grow: rehashed",
				logger.F("old_capacity", len(rt.slots)),
				logger.F("new_capacity", target),
			)
			rt.slots = slots
			return true
		}
		target = 2*target + 1
	}
	return false
}

// rehashInto inserts every entry of live into slots without ever
// growing slots itself; returns false if any insertion hits FULL.
func rehashInto(slots []slot, maxChain int, live []slot) bool {
	capacity := len(slots)
	chain := maxChain
	if chain > capacity {
		chain = capacity
	}
	for _, e := range live {
		base := indexFor(e.key, capacity)
		firstFree := -1
		inserted := false
		for i := 0; i < chain; i++ {
			idx := (base + i) % capacity
			if slots[idx].state == slotEmpty {
				target := idx
				if firstFree != -1 {
					target = firstFree
				}
				slots[target] = slot{state: slotLive, key: e.key, nextHop: e.nextHop, lastSeen: e.lastSeen}
				inserted = true
				break
			}
		}
		if !inserted {
			return false
		}
	}
	return true
}

// DebugLog emits a single structured DEBUG entry with the table's
// current size, capacity and live entries, mirroring the teacher's
// DebugLog idiom of a side-effect-free structured snapshot.
func (rt *RoutingTable) DebugLog() {
	entries := make([]map[string]any, 0, rt.size)
	for _, s := range rt.slots {
		if s.state == slotLive {
			entries = append(entries, map[string]any{
				"key":       s.key.String(),
				"next_hop":  s.nextHop.String(),
				"last_seen": s.lastSeen,
			})
		}
	}
	rt.logger.Debug("RoutingTable snapshot",
		logger.F("size", rt.size),
		logger.F("capacity", len(rt.slots)),
		logger.F("entries", entries),
	)
}
