// Package hw owns the hardware send/completion queue pair: the
// device-control capability interface, the creation state machine, and
// reference-counted lifetime of the device objects behind one transmit
// queue.
package hw

import (
	"errors"
	"fmt"
)

// Hardware geometry constants. The hot path sizes its descriptor
// segments off these; the device must agree or setup fails.
const (
	// CompletionThreshold is the send-completion request interval in
	// descriptors. Rings must hold more slots than this.
	CompletionThreshold = 32

	// CacheLineSize is the completion-entry and inline-segment
	// granularity the driver assumes.
	CacheLineSize = 64

	// MaxTSOHeaderBytes is the largest L2..L4 header inlined for
	// segmentation offload.
	MaxTSOHeaderBytes = 192

	// WQESegSize is the size of one work-request descriptor segment.
	WQESegSize = 16

	// MaxWQESegs is the per-work-request segment limit most devices
	// report; the resolver clamps inline budgets against the queried
	// value, this is only the simulator default.
	MaxWQESegs = 63

	// WQESize and WQESizeMax bound a single work request.
	WQESize    = 64
	WQESizeMax = 960

	// WCCompletionMargin is the extra completion-queue headroom carved
	// out when the write-combine fast path is active.
	WCCompletionMargin = 8
)

// envCQECompression is a debug override that switches the device to a
// completion-entry layout this driver cannot parse. It must never be
// set; creation rejects it outright instead of guessing.
const envCQECompression = "TXQ_ENABLE_CQE_COMPRESSION"

// State is the queue-pair lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateCreated             // owned by the device, not yet armed
	StateArmed               // ready to receive (RTR)
	StateActive              // ready to send (RTS)
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateArmed:
		return "armed"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CQ and QP are opaque device object handles.
type CQ uint32
type QP uint32

// Caps is the capability set reported by the device at open.
type Caps struct {
	MaxQueueWR   int  // device limit on outstanding work requests
	MaxSegsPerWR int  // per-work-request descriptor segment limit
	HWChecksum   bool // L3/L4 checksum offload
	TSO          bool // TCP segmentation offload
	Tunnel       bool // tunnel (VXLAN/GRE) offload flavors
	WriteCombine bool // enhanced multi-packet write support
}

// QPConfig carries the send-queue-pair creation attributes.
type QPConfig struct {
	CQ            CQ
	MaxSendWR     int
	MaxSendSegs   int // gather entries per WR; fixed at 1 by this driver
	MaxInlineData int // bytes, 0 disables inline capacity
	MaxTSOHeader  int // bytes, 0 disables TSO capacity
	Port          uint8
}

// Raw is the hardware geometry extracted from a live queue pair. The hot
// path consumes these addresses directly.
type Raw struct {
	QueueNum   uint32
	SQBase     uintptr
	SQEntries  int
	SQDoorbell uintptr // producer index record
	CQBase     uintptr
	CQEntries  int
	CQDoorbell uintptr // consumer index record
	CQESize    int

	// DoorbellVA is the write-combining doorbell register address as
	// handed out by the control library; DoorbellMmapOff is the file
	// offset for remapping its page. Negative when unavailable.
	DoorbellVA      uintptr
	DoorbellMmapOff int64
}

// Control is the device-control capability consumed by this subsystem.
// Calls may block briefly on kernel round-trips; none suspend.
type Control interface {
	CreateCQ(entries int) (CQ, error)
	DestroyCQ(cq CQ) error
	CreateQP(cfg QPConfig) (QP, error)
	ModifyQP(qp QP, s State) error
	DestroyQP(qp QP) error
	QueryQueue(qp QP, cq CQ) (Raw, error)
}

// Error is a device-control call failure carrying the native error code.
type Error struct {
	Op    string
	Errno int32
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("hw: %s failed (errno=%d): %v", e.Op, e.Errno, e.Inner)
	}
	return fmt.Sprintf("hw: %s failed (errno=%d)", e.Op, e.Errno)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrConfigMismatch marks failures where the device came up with
// geometry the driver cannot use, or a forbidden debug override was
// detected. Wrapped errors carry the detail.
var ErrConfigMismatch = errors.New("incompatible device configuration")

func wrapCall(op string, err error) error {
	var he *Error
	if errors.As(err, &he) {
		return &Error{Op: op, Errno: he.Errno, Inner: he}
	}
	return &Error{Op: op, Inner: err}
}
