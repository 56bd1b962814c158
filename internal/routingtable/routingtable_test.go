package routingtable

import (
	"testing"
	"time"

	"aqmesh/internal/domain"
)

func TestPutThenGet(t *testing.T) {
	rt := New(WithInitialCapacity(4), WithMaxChain(4))
	now := time.Now()

	if res := rt.Put(domain.NodeID(1), domain.NodeID(2), now); res != NewEntry {
		t.Fatalf("Put = %s, want NEW", res)
	}
	got, ok := rt.Get(domain.NodeID(1))
	if !ok || got != domain.NodeID(2) {
		t.Fatalf("Get(1) = (%v, %v), want (2, true)", got, ok)
	}
	if rt.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", rt.Size())
	}
}

func TestPutUpdatesExistingKey(t *testing.T) {
	rt := New(WithInitialCapacity(8), WithMaxChain(4))
	now := time.Now()

	rt.Put(domain.NodeID(5), domain.NodeID(10), now)
	res := rt.Put(domain.NodeID(5), domain.NodeID(20), now.Add(time.Second))
	if res != Updated {
		t.Fatalf("Put = %s, want UPDATE", res)
	}
	if rt.Size() != 1 {
		t.Fatalf("Size() = %d after update, want 1", rt.Size())
	}
	got, ok := rt.Get(domain.NodeID(5))
	if !ok || got != domain.NodeID(20) {
		t.Fatalf("Get(5) = (%v, %v), want (20, true)", got, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	rt := New()
	if _, ok := rt.Get(domain.NodeID(99)); ok {
		t.Fatal("Get on empty table returned ok=true")
	}
}

func TestRemove(t *testing.T) {
	rt := New(WithInitialCapacity(8), WithMaxChain(4))
	now := time.Now()
	rt.Put(domain.NodeID(7), domain.NodeID(8), now)

	if res := rt.Remove(domain.NodeID(7)); res != Removed {
		t.Fatalf("Remove = %s, want OK", res)
	}
	if _, ok := rt.Get(domain.NodeID(7)); ok {
		t.Fatal("Get found an entry after Remove")
	}
	if res := rt.Remove(domain.NodeID(7)); res != Missing {
		t.Fatalf("second Remove = %s, want MISSING", res)
	}
}

// TestTombstoneDoesNotBreakProbing forces two keys (1 and 9, which hash
// to the same base index mod 8) to collide on insert, so the second is
// displaced further down its probe chain. Removing the first must leave
// a tombstone, not an empty slot, or the probe for the second key would
// stop early and report it missing.
func TestTombstoneDoesNotBreakProbing(t *testing.T) {
	rt := New(WithInitialCapacity(8), WithMaxChain(4))
	now := time.Now()

	rt.Put(domain.NodeID(1), domain.NodeID(100), now)
	rt.Put(domain.NodeID(9), domain.NodeID(900), now)

	rt.Remove(domain.NodeID(1))

	got, ok := rt.Get(domain.NodeID(9))
	if !ok || got != domain.NodeID(900) {
		t.Fatalf("Get(9) after removing 1 = (%v, %v), want (900, true)", got, ok)
	}
}

func TestPutGrowsOnFullChain(t *testing.T) {
	rt := New(WithInitialCapacity(2), WithMaxChain(2))
	now := time.Now()

	for i := domain.NodeID(1); i <= 10; i++ {
		if res := rt.Put(i, i+100, now); res == OutOfMemory {
			t.Fatalf("Put(%d) reported OutOfMemory before allocatorCeiling", i)
		}
	}
	if rt.Size() != 10 {
		t.Fatalf("Size() = %d, want 10", rt.Size())
	}
	if rt.Capacity() <= 2 {
		t.Fatalf("Capacity() = %d, want > 2 after growth", rt.Capacity())
	}
	for i := domain.NodeID(1); i <= 10; i++ {
		got, ok := rt.Get(i)
		if !ok || got != i+100 {
			t.Fatalf("Get(%d) = (%v, %v), want (%d, true) after grow", i, got, ok, i+100)
		}
	}
}

// TestLoadFactorStaysBelowHalf checks invariant 3: size is always
// strictly less than half of capacity after any successful Put, even
// while a tight initial capacity forces repeated growth.
func TestLoadFactorStaysBelowHalf(t *testing.T) {
	rt := New(WithInitialCapacity(2), WithMaxChain(2))
	now := time.Now()

	for i := domain.NodeID(1); i <= 50; i++ {
		rt.Put(i, i+1000, now)
		if rt.Size()*2 >= rt.Capacity() {
			t.Fatalf("after inserting key %d: size=%d capacity=%d, load factor not strictly below 0.5",
				i, rt.Size(), rt.Capacity())
		}
	}
}

func TestExpireOlderThan(t *testing.T) {
	rt := New()
	base := time.Now()
	rt.Put(domain.NodeID(1), domain.NodeID(11), base)
	rt.Put(domain.NodeID(2), domain.NodeID(22), base.Add(50*time.Second))

	removedAny := rt.ExpireOlderThan(base.Add(60*time.Second), 30*time.Second)
	if !removedAny {
		t.Fatal("ExpireOlderThan reported no removals")
	}
	if _, ok := rt.Get(domain.NodeID(1)); ok {
		t.Fatal("entry 1 should have expired")
	}
	if _, ok := rt.Get(domain.NodeID(2)); !ok {
		t.Fatal("entry 2 should still be live")
	}
}

func TestClear(t *testing.T) {
	rt := New()
	now := time.Now()
	rt.Put(domain.NodeID(1), domain.NodeID(2), now)
	rt.Put(domain.NodeID(3), domain.NodeID(4), now)

	rt.Clear()

	if rt.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", rt.Size())
	}
	if _, ok := rt.Get(domain.NodeID(1)); ok {
		t.Fatal("Get found an entry after Clear")
	}
}

func TestPutResultString(t *testing.T) {
	tests := []struct {
		r    PutResult
		want string
	}{
		{NewEntry, "NEW"},
		{Updated, "UPDATE"},
		{OutOfMemory, "OUT_OF_MEMORY"},
		{PutResult(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("PutResult(%d).String() = %q, want %q", tt.r, got, tt.want)
		}
	}
}
