// Package ring implements the software descriptor ring backing one
// transmit queue. The ring tracks buffer ownership between posting and
// completion; the hardware work-queue layout itself belongs to the
// device-control layer.
package ring

import (
	"github.com/ethdrv/txq/internal/mempool"
)

// Ring is a fixed-size circular array of buffer ownership slots.
//
// Cursors are free-running 16-bit counters; the slot for cursor c is
// slots[c & mask]. tail never passes head, every slot in [tail, head)
// holds a non-nil buffer, and all other touched slots are nil.
type Ring struct {
	slots []*mempool.Buffer
	mask  uint16

	head uint16 // next slot to post
	tail uint16 // oldest in-flight slot
	comp uint16 // completion watermark
}

// MaxCapacity is the largest ring the free-running 16-bit cursors can
// distinguish from empty: a 65536-slot ring would make head == tail
// when completely full.
const MaxCapacity = 1 << 15

// New allocates a ring. capacity must be a power of two; callers
// pre-validate it through parameter resolution.
func New(capacity int) *Ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 || capacity > MaxCapacity {
		panic("ring: capacity must be a power of two in (0, 32768]")
	}
	return &Ring{
		slots: make([]*mempool.Buffer, capacity),
		mask:  uint16(capacity - 1),
	}
}

// Capacity returns the slot count.
func (r *Ring) Capacity() int {
	return len(r.slots)
}

// Len returns the number of in-flight buffers.
func (r *Ring) Len() int {
	return int(r.head - r.tail)
}

// Head returns the post cursor.
func (r *Ring) Head() uint16 { return r.head }

// Tail returns the completion cursor.
func (r *Ring) Tail() uint16 { return r.tail }

// CompWatermark returns the cursor of the last completion request.
func (r *Ring) CompWatermark() uint16 { return r.comp }

// Post stores a buffer at the head slot and advances it. Returns false
// when the ring is full; the buffer remains owned by the caller.
func (r *Ring) Post(b *mempool.Buffer) bool {
	if b == nil {
		panic("ring: posting nil buffer")
	}
	if r.Len() == len(r.slots) {
		return false
	}
	r.slots[r.head&r.mask] = b
	r.head++
	return true
}

// MarkComp records the current head as the completion watermark. The hot
// path requests a completion every CompletionThreshold descriptors.
func (r *Ring) MarkComp() {
	r.comp = r.head
}

// Complete releases n buffers from the tail back to their pools and
// advances the tail cursor. Completing more than Len() is a caller bug.
func (r *Ring) Complete(n int) {
	if n > r.Len() {
		panic("ring: completing more buffers than in flight")
	}
	for i := 0; i < n; i++ {
		idx := r.tail & r.mask
		b := r.slots[idx]
		r.slots[idx] = nil
		r.tail++
		b.Free()
	}
}

// Free drains every outstanding buffer in [tail, head) back to its pool
// and resets the cursors. Safe to call on an already-empty ring.
func (r *Ring) Free() {
	head := r.head
	tail := r.tail
	r.head = 0
	r.tail = 0
	r.comp = 0
	for ; tail != head; tail++ {
		idx := tail & r.mask
		b := r.slots[idx]
		if b == nil {
			panic("ring: nil buffer inside [tail, head)")
		}
		r.slots[idx] = nil
		b.Free()
	}
}

// Reset zeroes the slots and cursors without releasing buffers. Only
// valid on a drained ring; used when a queue is rebuilt in place.
func (r *Ring) Reset() {
	if r.Len() != 0 {
		panic("ring: reset with buffers in flight")
	}
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.head = 0
	r.tail = 0
	r.comp = 0
}
