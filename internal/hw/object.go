package hw

import (
	"fmt"
	"os"
	"sync/atomic"
)

// QueueConfig is what the queue-pair object needs from a resolved
// transmit-queue configuration.
type QueueConfig struct {
	Desc          int // descriptor count, power of two
	Port          uint8
	WriteCombine  bool // write-combine fast path selected
	MaxInlineData int  // bytes
	MaxTSOHeader  int  // bytes, 0 when TSO is off
}

// Object owns one device send/completion queue pair. It is reference
// counted: normally one control block points at it, with a short window
// of two during queue re-provisioning.
type Object struct {
	ctl Control
	reg *Registry

	qp  QP
	cq  CQ
	raw Raw

	state  State
	refcnt atomic.Int32
}

// Create builds the queue pair and walks it to the ready-to-send state.
//
// Any failure releases everything created so far in reverse creation
// order and returns the device-control error unchanged. Geometry the
// driver cannot use surfaces as ErrConfigMismatch.
func Create(ctl Control, caps Caps, cfg QueueConfig, reg *Registry) (*Object, error) {
	if os.Getenv(envCQECompression) != "" {
		return nil, fmt.Errorf("%w: %s must never be set", ErrConfigMismatch, envCQECompression)
	}

	// One completion entry services a threshold's worth of descriptors;
	// the write-combine path posts larger work requests and needs margin.
	cqeN := cfg.Desc/CompletionThreshold - 1
	if cqeN < 1 {
		cqeN = 1
	}
	if cfg.WriteCombine {
		cqeN += WCCompletionMargin
	}

	cq, err := ctl.CreateCQ(cqeN)
	if err != nil {
		return nil, wrapCall("create completion queue", err)
	}

	maxWR := cfg.Desc
	if caps.MaxQueueWR < maxWR {
		maxWR = caps.MaxQueueWR
	}
	qpCfg := QPConfig{
		CQ:        cq,
		MaxSendWR: maxWR,
		// Gather length stays at 1 so the control library does not
		// reserve memory for scatter entries the hot path never uses.
		MaxSendSegs:   1,
		MaxInlineData: cfg.MaxInlineData,
		MaxTSOHeader:  cfg.MaxTSOHeader,
		Port:          cfg.Port,
	}
	qp, err := ctl.CreateQP(qpCfg)
	if err != nil {
		ctl.DestroyCQ(cq)
		return nil, wrapCall("create queue pair", err)
	}

	destroyAll := func() {
		ctl.DestroyQP(qp)
		ctl.DestroyCQ(cq)
	}

	// The device accepts the transitions only in this order.
	for _, s := range []State{StateCreated, StateArmed, StateActive} {
		if err := ctl.ModifyQP(qp, s); err != nil {
			destroyAll()
			return nil, wrapCall(fmt.Sprintf("move queue pair to %s", s), err)
		}
	}

	raw, err := ctl.QueryQueue(qp, cq)
	if err != nil {
		destroyAll()
		return nil, wrapCall("query queue geometry", err)
	}
	if raw.CQESize != CacheLineSize {
		destroyAll()
		return nil, fmt.Errorf("%w: completion entry size %d, driver assumes %d",
			ErrConfigMismatch, raw.CQESize, CacheLineSize)
	}
	if raw.DoorbellMmapOff < 0 {
		destroyAll()
		return nil, fmt.Errorf("%w: control library reported no doorbell mmap offset",
			ErrConfigMismatch)
	}

	o := &Object{
		ctl:   ctl,
		reg:   reg,
		qp:    qp,
		cq:    cq,
		raw:   raw,
		state: StateActive,
	}
	o.refcnt.Store(1)
	if reg != nil {
		reg.add(o)
	}
	return o, nil
}

// Raw returns the extracted hardware geometry.
func (o *Object) Raw() Raw {
	return o.raw
}

// State returns the lifecycle state.
func (o *Object) State() State {
	return o.state
}

// Refs returns the current reference count.
func (o *Object) Refs() int {
	return int(o.refcnt.Load())
}

// Acquire adds a reference; used when a control block is handed a queue
// pair that already exists instead of provisioning a new one.
func (o *Object) Acquire() {
	o.refcnt.Add(1)
}

// Release drops one reference and returns the remaining count. At zero
// the queue pair is destroyed before its completion queue (the pair must
// not outlive the queue it reports into) and the object leaves the
// registry.
func (o *Object) Release() int {
	remaining := o.refcnt.Add(-1)
	if remaining < 0 {
		panic("hw: queue pair released more times than acquired")
	}
	if remaining == 0 {
		o.ctl.DestroyQP(o.qp)
		o.ctl.DestroyCQ(o.cq)
		o.state = StateUninitialized
		if o.reg != nil {
			o.reg.remove(o)
		}
	}
	return int(remaining)
}

// Releasable reports whether exactly one reference remains, i.e. the
// object can be torn down without orphaning another owner.
func (o *Object) Releasable() bool {
	return o.refcnt.Load() == 1
}

// Registry tracks the live queue-pair objects of one device. It exists
// so leaks are observable at device shutdown and so multiple devices in
// one process stay independent.
type Registry struct {
	objs []*Object
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(o *Object) {
	r.objs = append(r.objs, o)
}

func (r *Registry) remove(o *Object) {
	for i, e := range r.objs {
		if e == o {
			r.objs = append(r.objs[:i], r.objs[i+1:]...)
			return
		}
	}
}

// Verify returns the number of queue-pair objects still referenced.
func (r *Registry) Verify() int {
	return len(r.objs)
}
