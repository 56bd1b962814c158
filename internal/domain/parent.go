package domain

// ParentRecord is the attachment state of a non-root node: the chosen
// parent's address, its last-known rank, and the RSS at which it was
// last heard. It exists only while the owning mote is attached; on
// detach it is discarded, never zeroed-in-place, so that "no parent" is
// always represented by a nil *ParentRecord rather than a zero value.
type ParentRecord struct {
	Addr NodeID
	Rank Rank
	RSS  RSS
}

// Preferred reports whether candidate should replace the current parent
// record, per spec: a strictly lower rank always wins; an equal rank
// wins only if the candidate's RSS exceeds the current parent's by more
// than hysteresis dB. p may be nil, meaning "no current parent"; any
// candidate is then preferred.
func (p *ParentRecord) Preferred(candidateRank Rank, candidateRSS RSS, hysteresis RSS) bool {
	if p == nil {
		return true
	}
	if candidateRank < p.Rank {
		return true
	}
	if candidateRank == p.Rank && candidateRSS > p.RSS+hysteresis {
		return true
	}
	return false
}
