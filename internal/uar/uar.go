// Package uar maps hardware doorbell pages into a reserved per-process
// virtual window so that every process attached to a device observes a
// given doorbell register at the same virtual address.
//
// Doorbell pages are a scarce device resource shared by all queues and
// all processes; each physical page is mapped once per process, at a
// deterministic offset inside the window derived from its physical page
// address. The first (primary) process records the resulting addresses;
// secondary processes recompute them and must arrive at byte-identical
// values, since the hot path embeds the address and never re-resolves it.
package uar

import (
	"errors"
	"fmt"
)

// WindowSize is the reserved virtual window covering every doorbell page
// a device can hand out. A page lands at base + (page & WindowMask).
const (
	WindowSize = 1 << 20
	WindowMask = WindowSize - 1
)

// ErrAddressMismatch reports that this process computed a doorbell
// address different from the one recorded by the primary process. This
// means the address-space layouts have diverged; the device cannot be
// used from this process.
var ErrAddressMismatch = errors.New("doorbell address diverges from primary mapping")

// ErrWindowExhausted reports that two distinct doorbell pages collided
// on the same window slot.
var ErrWindowExhausted = errors.New("doorbell window slot already occupied by another page")

type mapping struct {
	virt uintptr
	size int
	refs int
}

// Mapper owns the reserved window and the mapped-pages set of one
// device within one process. Mutations happen only on the serialized
// control path.
type Mapper struct {
	sys      Syscalls
	fd       int
	base     uintptr
	pageSize uintptr

	pages map[uintptr]*mapping // doorbell page address -> window mapping
	slots map[uintptr]uintptr  // window slot -> owning page, collision check
}

// New reserves the window and returns a mapper. fd is the device-control
// file descriptor the doorbell pages are mapped from.
func New(sys Syscalls, fd int) (*Mapper, error) {
	base, err := sys.Reserve(WindowSize)
	if err != nil {
		return nil, fmt.Errorf("uar: reserving doorbell window: %w", err)
	}
	return &Mapper{
		sys:      sys,
		fd:       fd,
		base:     base,
		pageSize: uintptr(sys.PageSize()),
		pages:    make(map[uintptr]*mapping),
		slots:    make(map[uintptr]uintptr),
	}, nil
}

// Base returns the window base address.
func (m *Mapper) Base() uintptr {
	return m.base
}

// MappedPages returns the number of distinct doorbell pages currently
// mapped in this process.
func (m *Mapper) MappedPages() int {
	return len(m.pages)
}

// Map resolves the doorbell register at rawVA (as reported by the
// control library) to its address inside the reserved window, mapping
// the containing page on first use. Every call adds one page reference;
// queues sharing a page each hold their own.
func (m *Mapper) Map(rawVA uintptr, mmapOff int64) (uintptr, error) {
	off := rawVA & (m.pageSize - 1)
	page := rawVA - off

	mp, ok := m.pages[page]
	if !ok {
		target := m.base + (page & WindowMask)
		if owner, busy := m.slots[target]; busy && owner != page {
			return 0, fmt.Errorf("uar: %w: page %#x vs %#x", ErrWindowExhausted, page, owner)
		}
		got, err := m.sys.MapFixed(target, int(m.pageSize), m.fd, mmapOff)
		if err != nil {
			return 0, fmt.Errorf("uar: mapping doorbell page %#x: %w", page, err)
		}
		if got != target {
			// A fixed mapping must come back at the requested address.
			m.sys.Unmap(got, int(m.pageSize))
			return 0, fmt.Errorf("uar: fixed mapping moved: want %#x got %#x", target, got)
		}
		mp = &mapping{virt: target, size: int(m.pageSize)}
		m.pages[page] = mp
		m.slots[target] = page
	}
	mp.refs++
	return mp.virt + off, nil
}

// Mapped reports whether the page containing rawVA is mapped in this
// process. rawVA is the control-library address, as passed to Map.
func (m *Mapper) Mapped(rawVA uintptr) bool {
	_, ok := m.pages[rawVA&^(m.pageSize-1)]
	return ok
}

// Release drops one reference on the page containing rawVA. rawVA is
// the control-library doorbell address, the same value passed to Map,
// never the window address Map returned. The page is unmapped, with the
// page-aligned address and size recorded at mapping time, once the last
// queue using it is gone. Releasing an unmapped doorbell is a
// programming-contract violation.
func (m *Mapper) Release(rawVA uintptr) {
	page := rawVA &^ (m.pageSize - 1)
	mp, ok := m.pages[page]
	if !ok {
		panic(fmt.Sprintf("uar: release of unmapped doorbell page %#x", page))
	}
	mp.refs--
	if mp.refs > 0 {
		return
	}
	if err := m.sys.Unmap(mp.virt, mp.size); err != nil {
		panic(fmt.Sprintf("uar: unmapping doorbell page %#x: %v", page, err))
	}
	delete(m.pages, page)
	delete(m.slots, mp.virt)
}

// Close unmaps every remaining doorbell page and drops the window
// reservation. Called only at full device shutdown.
func (m *Mapper) Close() error {
	var firstErr error
	for page, mp := range m.pages {
		if err := m.sys.Unmap(mp.virt, mp.size); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pages, page)
		delete(m.slots, mp.virt)
	}
	if m.base != 0 {
		if err := m.sys.Unmap(m.base, WindowSize); err != nil && firstErr == nil {
			firstErr = err
		}
		m.base = 0
	}
	return firstErr
}
