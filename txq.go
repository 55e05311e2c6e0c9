// Package txq manages the lifecycle of hardware transmit queues for a
// user-space NIC driver: reference-counted control blocks coupling a
// software descriptor ring with a hardware send/completion queue pair,
// and the doorbell address-space sharing protocol that keeps every
// attached process in agreement about doorbell addresses.
//
// The control path (Setup, Release, AcquireExisting) is serialized by
// the caller per device. The hot transmit path only reads the ring and
// doorbell of queues it was handed and never appears here.
package txq

import (
	"errors"
	"fmt"

	"github.com/ethdrv/txq/internal/hw"
	"github.com/ethdrv/txq/internal/logging"
	"github.com/ethdrv/txq/internal/mempool"
	"github.com/ethdrv/txq/internal/ring"
	"github.com/ethdrv/txq/internal/uar"
)

// ProcessRole distinguishes the coordinating process, which records
// doorbell addresses, from secondaries, which verify them.
type ProcessRole int

const (
	RolePrimary ProcessRole = iota
	RoleSecondary
)

// Config carries device-level options for NewDevice.
type Config struct {
	Port PortConfig
	Role ProcessRole

	// DoorbellFD is the device-control file descriptor doorbell pages
	// are mapped from. Ignored when Syscalls maps anonymously.
	DoorbellFD int

	// Syscalls overrides the address-space layer; nil selects the real
	// one. Tests and the simulator inject alternatives here.
	Syscalls uar.Syscalls

	// Logger defaults to the package logger.
	Logger *logging.Logger
}

// Device is the device-scoped context every operation runs against.
// There is no hidden module-level state; multiple devices per process
// stay independent.
type Device struct {
	ctl  hw.Control
	caps hw.Caps
	port PortConfig
	role ProcessRole

	queues   []*queueSlot
	registry *hw.Registry
	uar      *uar.Mapper
	log      *logging.Logger
	metrics  *Metrics

	// unusable is latched when this process's doorbell layout diverges
	// from the primary's; no queue work is allowed afterwards.
	unusable bool
}

// queueSlot wraps a table entry so a shared secondary view follows the
// primary's registrations.
type queueSlot struct {
	q *Queue
}

// Queue is the transmit-queue control block: the unit of reference
// counting handed to the rest of the driver.
type Queue struct {
	dev    *Device
	idx    int
	socket int

	refcnt int32 // mutated only on the serialized control path

	params Params
	ring   *ring.Ring
	hwq    *hw.Object

	regions [RegionTableSize]*mempool.Region

	// doorbell is the in-window register address; rawDoorbell keys the
	// mapper's page accounting.
	doorbell    uintptr
	rawDoorbell uintptr
}

// NewDevice opens a device context. The doorbell window is reserved
// immediately; queue tables size to the configured queue count.
func NewDevice(ctl hw.Control, caps hw.Caps, cfg Config) (*Device, error) {
	if cfg.Port.NumTxQueues <= 0 {
		return nil, NewError("NEW_DEVICE", ErrCodeConfigMismatch, "port configured with no transmit queues")
	}
	sys := cfg.Syscalls
	if sys == nil {
		sys = uar.OSSyscalls{}
	}
	mapper, err := uar.New(sys, cfg.DoorbellFD)
	if err != nil {
		return nil, WrapError("NEW_DEVICE", ErrCodeAllocationFailure, err)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	queues := make([]*queueSlot, cfg.Port.NumTxQueues)
	for i := range queues {
		queues[i] = &queueSlot{}
	}
	return &Device{
		ctl:      ctl,
		caps:     caps,
		port:     cfg.Port,
		role:     cfg.Role,
		queues:   queues,
		registry: hw.NewRegistry(),
		uar:      mapper,
		log:      log.WithPort(int(cfg.Port.Port)),
		metrics:  NewMetrics(),
	}, nil
}

// AttachSecondary returns a secondary-process view of this device: the
// queue table and hardware registry are shared, the doorbell window and
// mapped-pages set are this process's own.
func (d *Device) AttachSecondary(cfg Config) (*Device, error) {
	sys := cfg.Syscalls
	if sys == nil {
		sys = uar.OSSyscalls{}
	}
	mapper, err := uar.New(sys, cfg.DoorbellFD)
	if err != nil {
		return nil, WrapError("ATTACH", ErrCodeAllocationFailure, err)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Device{
		ctl:      d.ctl,
		caps:     d.caps,
		port:     d.port,
		role:     RoleSecondary,
		queues:   d.queues,
		registry: d.registry,
		uar:      mapper,
		log:      log.WithPort(int(d.port.Port)),
		metrics:  NewMetrics(),
	}, nil
}

// Caps returns the device capability set.
func (d *Device) Caps() hw.Caps {
	return d.caps
}

// Metrics returns the device's lifecycle metrics.
func (d *Device) Metrics() *Metrics {
	return d.metrics
}

// SupportedOffloads returns the transmit offloads this device's port
// can carry.
func (d *Device) SupportedOffloads() OffloadFlags {
	return PortOffloads(d.caps)
}

// Setup builds the transmit queue at idx with the requested descriptor
// count, NUMA socket and offloads. A busy, releasable queue at idx is
// torn down first: setup always yields a freshly built queue. On any
// failure everything allocated in this call is released in reverse
// order and nothing is registered.
func (d *Device) Setup(idx, desc, socket int, req QueueRequest) (*Queue, error) {
	const op = "SETUP"
	port := int(d.port.Port)
	log := d.log.WithQueue(idx)

	if d.unusable {
		return nil, NewQueueError(op, port, idx, ErrCodeAddressConsistency,
			"device marked unusable in this process")
	}

	supported := PortOffloads(d.caps)
	if req.Offloads&supported != req.Offloads {
		d.metrics.SetupErrors.Add(1)
		log.Error("requested offloads not supported by device",
			"requested", req.Offloads.String(), "supported", supported.String())
		return nil, NewQueueError(op, port, idx, ErrCodeUnsupportedOffload,
			fmt.Sprintf("offloads %s not in supported set %s", req.Offloads, supported))
	}
	if !req.SkipPortCheck && !offloadsAllowed(req.Offloads, d.port.Offloads, supported) {
		d.metrics.SetupErrors.Add(1)
		log.Error("requested offloads do not match port configuration",
			"requested", req.Offloads.String(), "port", d.port.Offloads.String())
		return nil, NewQueueError(op, port, idx, ErrCodeUnsupportedOffload,
			fmt.Sprintf("offloads %s do not match port offloads %s", req.Offloads, d.port.Offloads))
	}

	if idx < 0 || idx >= len(d.queues) {
		d.metrics.SetupErrors.Add(1)
		return nil, NewQueueError(op, port, idx, ErrCodeIndexOutOfRange,
			fmt.Sprintf("queue index out of range (%d >= %d)", idx, len(d.queues)))
	}

	if existing := d.queues[idx].q; existing != nil {
		if !existing.releasable() {
			d.metrics.SetupErrors.Add(1)
			return nil, NewQueueError(op, port, idx, ErrCodeQueueBusy,
				"unable to release queue index")
		}
		// Setup always yields a fresh control block, never a mutated one.
		log.Debug("releasing existing queue before rebuild")
		d.metrics.Reuses.Add(1)
		d.Release(idx)
	}

	params, warnings := ResolveParams(d.caps, d.port, req, desc)
	for _, w := range warnings {
		d.metrics.ResolverWarnings.Add(1)
		log.Warn(w)
	}
	log.Debug("configuring queue",
		"desc", params.Desc,
		"mode", params.Mode.String(),
		"tso", params.TSO,
		"max_inline_segs", params.MaxInlineSegs)

	q := &Queue{
		dev:    d,
		idx:    idx,
		socket: socket,
		refcnt: 1,
		params: params,
		ring:   ring.New(params.Desc),
	}

	hwq, err := hw.Create(d.ctl, d.caps, hw.QueueConfig{
		Desc:          params.Desc,
		Port:          d.port.Port,
		WriteCombine:  params.Mode == BurstWriteCombine,
		MaxInlineData: params.MaxInlineData,
		MaxTSOHeader:  params.MaxTSOHeader,
	}, d.registry)
	if err != nil {
		q.ring.Free()
		d.metrics.SetupErrors.Add(1)
		d.metrics.HardwareErrors.Add(1)
		log.WithError(err).Error("queue pair creation failed")
		return nil, d.mapHWError(op, idx, err)
	}
	q.hwq = hwq

	raw := hwq.Raw()
	doorbell, err := d.uar.Map(raw.DoorbellVA, raw.DoorbellMmapOff)
	if err != nil {
		hwq.Release()
		q.ring.Free()
		d.metrics.SetupErrors.Add(1)
		log.WithError(err).Error("doorbell mapping failed")
		return nil, WrapError(op, ErrCodeAllocationFailure, err)
	}
	q.rawDoorbell = raw.DoorbellVA
	q.doorbell = doorbell

	d.queues[idx].q = q
	d.metrics.Setups.Add(1)
	d.metrics.ActiveQueues.Add(1)
	d.metrics.DoorbellPages.Store(int64(d.uar.MappedPages()))
	log.Info("transmit queue ready",
		"queue_num", raw.QueueNum,
		"desc", params.Desc,
		"doorbell", fmt.Sprintf("%#x", doorbell))
	return q, nil
}

// mapHWError translates device-layer failures into the public taxonomy.
func (d *Device) mapHWError(op string, idx int, err error) *Error {
	port := int(d.port.Port)
	if errors.Is(err, hw.ErrConfigMismatch) {
		e := NewQueueError(op, port, idx, ErrCodeConfigMismatch, err.Error())
		e.Inner = err
		return e
	}
	e := NewQueueError(op, port, idx, ErrCodeHardware, err.Error())
	e.Inner = err
	var he *hw.Error
	if errors.As(err, &he) {
		e.Errno = he.Errno
	}
	return e
}

// Release drops one reference on the queue at idx and returns the
// remaining count. Hardware and memory-region references are released
// on every call, mirroring AcquireExisting; the final release drains
// the ring, unmaps the doorbell page and clears the table slot.
func (d *Device) Release(idx int) int {
	if idx < 0 || idx >= len(d.queues) {
		return 0
	}
	q := d.queues[idx].q
	if q == nil {
		return 0
	}
	log := d.log.WithQueue(idx)

	if q.hwq != nil {
		if q.hwq.Release() == 0 {
			q.hwq = nil
		}
	}
	for i, r := range q.regions {
		if r != nil {
			r.Release()
			q.regions[i] = nil
		}
	}

	q.refcnt--
	if q.refcnt > 0 {
		log.Debug("queue released", "remaining_refs", q.refcnt)
		return int(q.refcnt)
	}

	// A secondary that never resolved doorbells holds no page reference
	// in its own mapper; only unmap what this process mapped.
	if d.uar.Mapped(q.rawDoorbell) {
		d.uar.Release(q.rawDoorbell)
	}
	q.ring.Free()
	q.doorbell = 0
	d.queues[idx].q = nil
	d.metrics.Releases.Add(1)
	d.metrics.ActiveQueues.Add(-1)
	d.metrics.DoorbellPages.Store(int64(d.uar.MappedPages()))
	log.Info("transmit queue destroyed")
	return 0
}

// ReleaseQueue releases a queue by pointer, looking up its index in the
// table. Convenience for callers holding only the control block.
func (d *Device) ReleaseQueue(q *Queue) int {
	if q == nil {
		return 0
	}
	for i := range d.queues {
		if d.queues[i].q == q {
			return d.Release(i)
		}
	}
	return 0
}

// Releasable reports whether exactly one reference remains on the queue
// at idx. False when the slot is empty.
func (d *Device) Releasable(idx int) bool {
	if idx < 0 || idx >= len(d.queues) {
		return false
	}
	q := d.queues[idx].q
	return q != nil && q.releasable()
}

// AcquireExisting returns the queue at idx with an added reference, or
// nil when the slot is empty. The underlying queue pair and any cached
// memory-region handles gain a reference as well.
func (d *Device) AcquireExisting(idx int) *Queue {
	if idx < 0 || idx >= len(d.queues) {
		return nil
	}
	q := d.queues[idx].q
	if q == nil {
		return nil
	}
	if q.hwq != nil {
		q.hwq.Acquire()
	}
	for _, r := range q.regions {
		if r != nil {
			r.Acquire()
		}
	}
	q.refcnt++
	d.log.WithQueue(idx).Debug("queue acquired", "refs", q.refcnt)
	return q
}

// RemapDoorbells walks every registered queue and resolves its doorbell
// address in this process. The primary records addresses; a secondary
// must reproduce them byte-identically or the device is marked unusable
// for this process and AddressConsistencyViolation is returned.
func (d *Device) RemapDoorbells() error {
	const op = "REMAP_DOORBELLS"
	for idx, slot := range d.queues {
		q := slot.q
		if q == nil {
			continue
		}
		raw := q.hwq.Raw()
		addr, err := d.uar.Map(raw.DoorbellVA, raw.DoorbellMmapOff)
		if err != nil {
			return WrapError(op, ErrCodeAllocationFailure, err)
		}
		if d.role == RolePrimary {
			// Save once; later remaps must agree with the first.
			if q.doorbell == 0 {
				q.doorbell = addr
				q.rawDoorbell = raw.DoorbellVA
				continue
			}
			d.uar.Release(raw.DoorbellVA)
			continue
		}
		if q.doorbell != addr {
			// Drop the reference Map just took; the divergent mapping
			// must not linger in this process.
			d.uar.Release(raw.DoorbellVA)
			d.unusable = true
			d.log.WithQueue(idx).Error("doorbell address mismatch between processes",
				"primary", fmt.Sprintf("%#x", q.doorbell),
				"local", fmt.Sprintf("%#x", addr))
			e := NewQueueError(op, int(d.port.Port), idx, ErrCodeAddressConsistency,
				fmt.Sprintf("doorbell address %#x disagrees with primary %#x", addr, q.doorbell))
			e.Inner = uar.ErrAddressMismatch
			return e
		}
	}
	return nil
}

// Verify returns the number of queues still registered plus the number
// of hardware objects still referenced. Non-zero at shutdown means a
// leak.
func (d *Device) Verify() int {
	leaked := 0
	for idx, slot := range d.queues {
		if slot.q != nil {
			d.log.WithQueue(idx).Warn("transmit queue still referenced")
			leaked++
		}
	}
	return leaked + d.registry.Verify()
}

// Close releases every registered queue once, reports leaks, and drops
// the doorbell window. The device must not be used afterwards.
func (d *Device) Close() error {
	for idx := range d.queues {
		d.Release(idx)
	}
	leaked := d.Verify()
	if err := d.uar.Close(); err != nil {
		return WrapError("CLOSE", ErrCodeAllocationFailure, err)
	}
	if leaked != 0 {
		return NewError("CLOSE", ErrCodeQueueBusy,
			fmt.Sprintf("%d objects still referenced at close", leaked))
	}
	return nil
}

// Queue accessors. The control block itself is immutable after setup
// apart from its reference count and region cache.

func (q *Queue) releasable() bool {
	return q.refcnt == 1
}

// Index returns the queue's slot in the per-device table.
func (q *Queue) Index() int { return q.idx }

// Socket returns the NUMA socket the queue was placed on.
func (q *Queue) Socket() int { return q.socket }

// Params returns the resolved configuration.
func (q *Queue) Params() Params { return q.params }

// Refs returns the control-block reference count.
func (q *Queue) Refs() int { return int(q.refcnt) }

// Ring returns the descriptor ring. The hot path owns posting and
// completion; teardown here only drains it.
func (q *Queue) Ring() *ring.Ring { return q.ring }

// Doorbell returns the queue's doorbell register address inside the
// shared window.
func (q *Queue) Doorbell() uintptr { return q.doorbell }

// RegisterPool caches a registered-region handle for the given buffer
// pool on this queue, registering the region on first use. Returns the
// handle, or nil when the table is full and no slot matches.
func (q *Queue) RegisterPool(p *mempool.Pool) *mempool.Region {
	for _, r := range q.regions {
		if r != nil && r.Pool() == p {
			return r
		}
	}
	for i, r := range q.regions {
		if r == nil {
			reg := mempool.Register(p)
			q.regions[i] = reg
			return reg
		}
	}
	return nil
}
