package txq

import (
	"sync"

	"github.com/ethdrv/txq/internal/hw"
	"github.com/ethdrv/txq/internal/uar"
)

// FakeAddressSpace provides a deterministic implementation of the
// doorbell address-space syscalls for testing. No real memory is
// mapped; reservations and fixed mappings are tracked in bookkeeping
// only, and method calls are counted for verification.
type FakeAddressSpace struct {
	// PageSz is the page size reported to the mapper (default 4096).
	PageSz int

	// ReserveBase is the address handed out for the next window
	// reservation (default 0x10_0000_0000). Each reservation advances
	// it by the reserved size so two mappers never overlap.
	ReserveBase uintptr

	// MapErr, when set, fails the next MapFixed call.
	MapErr error

	// MapSkew is added to the address MapFixed returns, simulating a
	// kernel that moved a fixed mapping.
	MapSkew uintptr

	mu sync.Mutex

	reserveCalls int
	mapCalls     int
	unmapCalls   int

	mapped   map[uintptr]int // addr -> size, fixed mappings
	reserved map[uintptr]int // addr -> size, window reservations
}

// NewFakeAddressSpace creates a fake address-space layer with defaults.
func NewFakeAddressSpace() *FakeAddressSpace {
	return &FakeAddressSpace{
		PageSz:      4096,
		ReserveBase: 0x10_0000_0000,
		mapped:      make(map[uintptr]int),
		reserved:    make(map[uintptr]int),
	}
}

// PageSize implements the Syscalls interface
func (f *FakeAddressSpace) PageSize() int {
	if f.PageSz == 0 {
		return 4096
	}
	return f.PageSz
}

// Reserve implements the Syscalls interface
func (f *FakeAddressSpace) Reserve(size int) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reserveCalls++
	base := f.ReserveBase
	f.ReserveBase += uintptr(size)
	f.reserved[base] = size
	return base, nil
}

// MapFixed implements the Syscalls interface
func (f *FakeAddressSpace) MapFixed(addr uintptr, size int, fd int, off int64) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mapCalls++
	if f.MapErr != nil {
		err := f.MapErr
		f.MapErr = nil
		return 0, err
	}
	got := addr + f.MapSkew
	f.mapped[got] = size
	return got, nil
}

// Unmap implements the Syscalls interface
func (f *FakeAddressSpace) Unmap(addr uintptr, size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unmapCalls++
	if _, ok := f.mapped[addr]; ok {
		delete(f.mapped, addr)
	} else {
		delete(f.reserved, addr)
	}
	return nil
}

// Testing utility methods

// MappedCount returns the number of live reservations and mappings.
func (f *FakeAddressSpace) MappedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mapped) + len(f.reserved)
}

// CallCounts returns the number of times each method has been called
func (f *FakeAddressSpace) CallCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return map[string]int{
		"reserve": f.reserveCalls,
		"map":     f.mapCalls,
		"unmap":   f.unmapCalls,
	}
}

// NewSimDevice builds a device backed by the in-memory control
// simulator and a fake address space. This is the standard fixture for
// unit testing code that sets up transmit queues.
func NewSimDevice(numQueues int) (*Device, *hw.Sim, error) {
	sim := hw.NewSim()
	dev, err := NewDevice(sim, sim.DefaultCaps(), Config{
		Port:     DefaultPortConfig(0, numQueues),
		Syscalls: NewFakeAddressSpace(),
	})
	if err != nil {
		return nil, nil, err
	}
	return dev, sim, nil
}

// Compile-time interface checks
var _ uar.Syscalls = (*FakeAddressSpace)(nil)
