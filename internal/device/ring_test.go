package device

import "testing"

func TestRingPushAndEvict(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Errorf("Push(%d) evicted before capacity", i)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}

	// Evictions come back oldest-first, in insertion order.
	for i, want := range []int{1, 2, 3} {
		got, evicted := r.Push(10 + i)
		if !evicted {
			t.Fatalf("Push on full ring did not evict")
		}
		if got != want {
			t.Errorf("evicted %d, want %d", got, want)
		}
	}
}

func TestRingNewest(t *testing.T) {
	r := NewRing[string](2)

	if _, ok := r.Newest(); ok {
		t.Error("empty ring reported a newest entry")
	}

	r.Push("a")
	r.Push("b")
	r.Push("c")

	newest, ok := r.Newest()
	if !ok || newest != "c" {
		t.Errorf("Newest = %q/%v, want c/true", newest, ok)
	}
}

func TestRingSnapshotNewestFirst(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	got := r.Snapshot()
	want := []int{5, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("snapshot length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	oldest := r.Oldest()
	for i := range want {
		if oldest[i] != want[len(want)-1-i] {
			t.Errorf("oldest[%d] = %d, want %d", i, oldest[i], want[len(want)-1-i])
		}
	}
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	if r.Cap() != 1 {
		t.Errorf("Cap = %d, want 1", r.Cap())
	}
	r.Push(1)
	evicted, ok := r.Push(2)
	if !ok || evicted != 1 {
		t.Errorf("evicted = %d/%v, want 1/true", evicted, ok)
	}
}
