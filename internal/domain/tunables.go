package domain

import "time"

// Protocol tunables. These are compile-time defaults; config.Config may
// override the subset that is safe to change per-deployment
// (routing-table sizing, timeouts, trickle bounds, slope threshold) but the
// wire format and the Rank/RSS encodings are fixed regardless.
const (
	TMin             = 2 * time.Second   // Trickle lower bound
	TMax             = 20 * time.Second  // Trickle upper bound
	RSSHysteresis    = RSS(3)            // parent-change guard, dB
	TimeoutChildren  = 100 * time.Second // routing entry age-out
	TimeoutParent    = 100 * time.Second // parent liveness window
	MaxRetransmits   = 4                 // reliable unicast attempts
	InitialCapacity  = 16                // routing table slots
	MaxChain         = 7                 // probe length before grow
	MaxTracked       = 5                 // slope buffers per compute node
	MaxSamples       = 30                // ring size
	MinSamples       = 10                // minimum samples for a slope decision
	SlopeThreshold   = 30                // percent-per-step worsening threshold
	DataPeriod       = 60 * time.Second  // sensor reporting interval
	OpenDuration     = 600 * time.Second // valve auto-close timer
)
