package mempool

import "testing"

func TestPoolGetPut(t *testing.T) {
	p := New("pkt", 4, 2048)

	bufs := make([]*Buffer, 0, 4)
	for i := 0; i < 4; i++ {
		b := p.Get()
		if b == nil {
			t.Fatalf("Get %d returned nil on non-empty pool", i)
		}
		if len(b.Bytes()) != 2048 {
			t.Errorf("buffer size = %d, want 2048", len(b.Bytes()))
		}
		if b.Pool() != p {
			t.Error("buffer does not point back at its pool")
		}
		bufs = append(bufs, b)
	}

	if p.Get() != nil {
		t.Error("Get on exhausted pool returned a buffer")
	}
	if p.Outstanding() != 4 {
		t.Errorf("Outstanding = %d, want 4", p.Outstanding())
	}

	for _, b := range bufs {
		b.Free()
	}
	if p.Outstanding() != 0 {
		t.Errorf("Outstanding after free = %d, want 0", p.Outstanding())
	}
}

func TestDoubleFreePanics(t *testing.T) {
	p := New("pkt", 2, 64)
	b := p.Get()
	b.Free()

	defer func() {
		if recover() == nil {
			t.Error("double free did not panic")
		}
	}()
	b.Free()
}

func TestRegionSharedAcrossQueues(t *testing.T) {
	p := New("pkt", 2, 64)

	r1 := Register(p)
	r2 := Register(p)
	if r1 != r2 {
		t.Fatal("second registration created a new region")
	}
	if r1.LKey() == 0 {
		t.Error("region has no key")
	}
	if r1.Releasable() {
		t.Error("region with two references reported releasable")
	}

	if remaining := r1.Release(); remaining != 1 {
		t.Errorf("Release = %d, want 1", remaining)
	}
	if !r1.Releasable() {
		t.Error("region with one reference not releasable")
	}
	if remaining := r1.Release(); remaining != 0 {
		t.Errorf("Release = %d, want 0", remaining)
	}

	// Deregistered; a new registration mints a fresh region.
	r3 := Register(p)
	if r3 == r1 {
		t.Error("deregistered region was handed out again")
	}
	if r3.LKey() == r1.LKey() {
		t.Error("fresh region reused the old key")
	}
	r3.Release()
}

func TestRegionOverReleasePanics(t *testing.T) {
	p := New("pkt", 2, 64)
	r := Register(p)
	r.Release()

	defer func() {
		if recover() == nil {
			t.Error("over-release did not panic")
		}
	}()
	r.Release()
}
