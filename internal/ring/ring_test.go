package ring

import (
	"testing"

	"github.com/ethdrv/txq/internal/mempool"
)

func TestNewPanicsOnBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, 3, 100, 1 << 16, 1 << 17} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d) did not panic", capacity)
				}
			}()
			New(capacity)
		}()
	}
}

func TestMaxCapacityRingFillsCompletely(t *testing.T) {
	pool := mempool.New("test", MaxCapacity, 1)
	r := New(MaxCapacity)

	// A completely full ring must stay distinguishable from an empty one
	// under the 16-bit cursor arithmetic.
	for i := 0; i < MaxCapacity; i++ {
		if !r.Post(pool.Get()) {
			t.Fatalf("Post %d failed before the ring was full", i)
		}
	}
	if r.Len() != MaxCapacity {
		t.Fatalf("Len = %d, want %d", r.Len(), MaxCapacity)
	}

	r.Free()
	if pool.Outstanding() != 0 {
		t.Errorf("Free leaked %d buffers", pool.Outstanding())
	}
}

func TestPostAndComplete(t *testing.T) {
	pool := mempool.New("test", 16, 2048)
	r := New(8)

	if r.Capacity() != 8 {
		t.Errorf("Capacity = %d, want 8", r.Capacity())
	}

	for i := 0; i < 8; i++ {
		if !r.Post(pool.Get()) {
			t.Fatalf("Post %d failed on non-full ring", i)
		}
	}
	if r.Len() != 8 {
		t.Errorf("Len = %d, want 8", r.Len())
	}

	// Ring is full now
	extra := pool.Get()
	if r.Post(extra) {
		t.Error("Post succeeded on full ring")
	}
	extra.Free()

	r.Complete(3)
	if r.Len() != 5 {
		t.Errorf("Len after Complete(3) = %d, want 5", r.Len())
	}
	if pool.Outstanding() != 5 {
		t.Errorf("Outstanding = %d, want 5", pool.Outstanding())
	}
}

func TestCompleteTooManyPanics(t *testing.T) {
	pool := mempool.New("test", 4, 64)
	r := New(4)
	r.Post(pool.Get())

	defer func() {
		if recover() == nil {
			t.Error("Complete(2) with one buffer in flight did not panic")
		}
	}()
	r.Complete(2)
}

func TestFreeDrainsInFlightRange(t *testing.T) {
	pool := mempool.New("test", 64, 64)
	r := New(16)

	// Wrap the cursors so [tail, head) straddles the array boundary.
	for i := 0; i < 12; i++ {
		r.Post(pool.Get())
	}
	r.Complete(12)
	for i := 0; i < 10; i++ {
		r.Post(pool.Get())
	}
	r.MarkComp()

	if pool.Outstanding() != 10 {
		t.Fatalf("Outstanding = %d, want 10", pool.Outstanding())
	}

	r.Free()

	if pool.Outstanding() != 0 {
		t.Errorf("Outstanding after Free = %d, want 0", pool.Outstanding())
	}
	if r.Len() != 0 {
		t.Errorf("Len after Free = %d, want 0", r.Len())
	}
	if r.Head() != 0 || r.Tail() != 0 || r.CompWatermark() != 0 {
		t.Errorf("cursors not reset: head=%d tail=%d comp=%d",
			r.Head(), r.Tail(), r.CompWatermark())
	}
}

func TestFreeOnEmptyRing(t *testing.T) {
	r := New(4)
	r.Free()
	r.Free() // Free is idempotent
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestResetPanicsWithInFlightBuffers(t *testing.T) {
	pool := mempool.New("test", 4, 64)
	r := New(4)
	r.Post(pool.Get())

	defer func() {
		if recover() == nil {
			t.Error("Reset with in-flight buffer did not panic")
		}
	}()
	r.Reset()
}

func TestMarkComp(t *testing.T) {
	pool := mempool.New("test", 8, 64)
	r := New(8)

	for i := 0; i < 5; i++ {
		r.Post(pool.Get())
	}
	r.MarkComp()
	if r.CompWatermark() != 5 {
		t.Errorf("CompWatermark = %d, want 5", r.CompWatermark())
	}

	r.Post(pool.Get())
	if r.CompWatermark() != 5 {
		t.Errorf("CompWatermark moved with head: %d", r.CompWatermark())
	}
}
