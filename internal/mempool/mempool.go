// Package mempool models the buffer-pool collaborator of the transmit
// queue subsystem: pooled packet buffers plus hardware memory-region
// registration handles. Registration handles are reference counted
// against the pool, independently of any queue that caches them.
package mempool

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Buffer is one pooled packet buffer. The transmit ring owns the buffer
// from the moment it is posted until completion (or queue teardown)
// returns it to the pool.
type Buffer struct {
	pool *Pool
	data []byte
}

// Pool returns the owning pool.
func (b *Buffer) Pool() *Pool {
	return b.pool
}

// Bytes exposes the frame memory.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Free returns the buffer to its owning pool. Freeing a buffer twice is
// a caller bug; the pool panics rather than corrupt its free list.
func (b *Buffer) Free() {
	b.pool.put(b)
}

// Pool is a fixed-size buffer pool.
type Pool struct {
	name    string
	bufSize int

	mu          sync.Mutex
	free        []*Buffer
	outstanding int
	region      *Region
}

// New creates a pool of n buffers of bufSize bytes each.
func New(name string, n, bufSize int) *Pool {
	p := &Pool{
		name:    name,
		bufSize: bufSize,
		free:    make([]*Buffer, 0, n),
	}
	for i := 0; i < n; i++ {
		p.free = append(p.free, &Buffer{pool: p, data: make([]byte, bufSize)})
	}
	return p
}

// Name returns the pool identity used for region matching.
func (p *Pool) Name() string {
	return p.name
}

// Get takes a buffer from the pool, or nil when exhausted.
func (p *Pool) Get() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil
	}
	b := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.outstanding++
	return b
}

func (p *Pool) put(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.free {
		if f == b {
			panic(fmt.Sprintf("mempool %q: double free", p.name))
		}
	}
	p.free = append(p.free, b)
	p.outstanding--
}

// Outstanding reports how many buffers are currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Region is a hardware-registered mapping of a pool's memory. One region
// exists per pool at a time; every queue caching it holds a reference.
type Region struct {
	pool   *Pool
	lkey   uint32
	refcnt atomic.Int32
}

// lkeys are fabricated here; the device-control collaborator hands out
// the real protection-domain keys.
var nextLKey atomic.Uint32

// Register returns the pool's region handle, registering it on first
// use. Each call adds one reference.
func Register(p *Pool) *Region {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		p.region = &Region{pool: p, lkey: nextLKey.Add(1)}
	}
	p.region.refcnt.Add(1)
	return p.region
}

// Acquire adds a reference to an already-held region.
func (r *Region) Acquire() {
	r.refcnt.Add(1)
}

// Release drops one reference and returns the remaining count. At zero
// the region is deregistered from the pool.
func (r *Region) Release() int {
	remaining := r.refcnt.Add(-1)
	if remaining < 0 {
		panic("mempool: region released more times than acquired")
	}
	if remaining == 0 {
		r.pool.mu.Lock()
		if r.pool.region == r {
			r.pool.region = nil
		}
		r.pool.mu.Unlock()
	}
	return int(remaining)
}

// Releasable reports whether exactly one reference remains.
func (r *Region) Releasable() bool {
	return r.refcnt.Load() == 1
}

// LKey returns the hardware key the hot path stamps into work requests.
func (r *Region) LKey() uint32 {
	return r.lkey
}

// Pool returns the pool this region covers.
func (r *Region) Pool() *Pool {
	return r.pool
}
