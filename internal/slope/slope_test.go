package slope

import (
	"testing"
	"time"

	"aqmesh/internal/domain"
)

func TestNotEnoughSamplesReturnsClose(t *testing.T) {
	e := New()
	now := time.Now()
	for i := 0; i < domain.MinSamples-1; i++ {
		got := e.Ingest(domain.NodeID(1), uint16(100+i*10), now)
		if got != CloseValve {
			t.Fatalf("sample %d: got %v, want CloseValve", i, got)
		}
	}
}

func TestScenarioS6SlopeDecision(t *testing.T) {
	e := New()
	now := time.Now()
	var last Decision
	for i := 0; i < 11; i++ {
		last = e.Ingest(domain.NodeID(0xAA), uint16(100+i*10), now)
	}
	if last != CloseValve {
		t.Fatalf("slope 10/step: got %v, want CloseValve", last)
	}

	e2 := New()
	var last2 Decision
	for i := 0; i < 11; i++ {
		last2 = e2.Ingest(domain.NodeID(0xAA), uint16(100+i*50), now)
	}
	if last2 != OpenValve {
		t.Fatalf("slope 50/step: got %v, want OpenValve", last2)
	}
}

func TestCannotTrackWhenFull(t *testing.T) {
	e := New()
	now := time.Now()
	for i := 0; i < domain.MaxTracked; i++ {
		got := e.Ingest(domain.NodeID(i+1), 100, now)
		if got == CannotTrack {
			t.Fatalf("source %d: unexpected CannotTrack while slots remain", i)
		}
	}
	got := e.Ingest(domain.NodeID(domain.MaxTracked+1), 100, now)
	if got != CannotTrack {
		t.Fatalf("got %v, want CannotTrack once all slots are occupied", got)
	}
}

func TestExpiredSlotFreesRoom(t *testing.T) {
	e := New(WithTimeout(time.Second))
	now := time.Now()
	for i := 0; i < domain.MaxTracked; i++ {
		e.Ingest(domain.NodeID(i+1), 100, now)
	}
	later := now.Add(2 * time.Second)
	got := e.Ingest(domain.NodeID(domain.MaxTracked+1), 100, later)
	if got == CannotTrack {
		t.Fatal("expected expired slots to free room for a new source")
	}
}

func TestCustomComparator(t *testing.T) {
	e := New(WithComparator(func(slope int) bool { return slope < 0 }))
	now := time.Now()
	var last Decision
	for i := 0; i < 11; i++ {
		last = e.Ingest(domain.NodeID(1), uint16(200-i*10), now)
	}
	if last != OpenValve {
		t.Fatalf("decreasing slope with < 0 comparator: got %v, want OpenValve", last)
	}
}
