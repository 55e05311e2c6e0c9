package txq

import "github.com/ethdrv/txq/internal/hw"

// Hardware geometry constants re-exported for callers sizing queues.
const (
	// CompletionThreshold is the send-completion request interval in
	// descriptors; requested ring sizes must exceed it.
	CompletionThreshold = hw.CompletionThreshold

	// CacheLineSize is the descriptor-segment and completion-entry
	// granularity assumed by the hot path.
	CacheLineSize = hw.CacheLineSize

	// MaxTSOHeaderBytes is the largest header inlined for segmentation.
	MaxTSOHeaderBytes = hw.MaxTSOHeaderBytes
)

const (
	// ArgUnset marks inline-tuning knobs the caller left at their default.
	ArgUnset = -1

	// wcMinQueues is the queue count a port needs before inline send
	// engages by default on the write-combine path.
	wcMinQueues = 8

	// wcMaxPacketSize caps the packet size inlined in write-combine mode.
	wcMaxPacketSize = 288

	// RegionTableSize is the per-queue registered-region cache size.
	RegionTableSize = 8
)
