package txq

import (
	"fmt"
	"math/bits"

	"github.com/ethdrv/txq/internal/hw"
	"github.com/ethdrv/txq/internal/ring"
)

// BurstMode identifies the transmit fast-path variant a queue will be
// served by. The write-combine variant batches several packets into one
// hardware work request and changes the default inline tuning.
type BurstMode int

const (
	BurstScalar BurstMode = iota
	BurstVector
	BurstWriteCombine
)

func (m BurstMode) String() string {
	switch m {
	case BurstScalar:
		return "scalar"
	case BurstVector:
		return "vector"
	case BurstWriteCombine:
		return "write-combine"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// PortConfig is the port-level configuration supplied by the device
// configuration collaborator. Inline knobs left at ArgUnset take
// mode-specific defaults.
type PortConfig struct {
	Port        uint8
	NumTxQueues int

	// Offloads is the port-level negotiated transmit offload set.
	Offloads OffloadFlags

	// TxInline is the requested inline threshold in bytes.
	TxInline int
	// TxInlineMinQueues gates inline send on the configured queue count.
	TxInlineMinQueues int
	// InlineMaxPacketSize caps the packet size eligible for inlining.
	InlineMaxPacketSize int

	// WCHeaderSeg requests a separate header descriptor segment on the
	// write-combine path.
	WCHeaderSeg bool
	// WriteCombine enables the write-combine fast path when the device
	// supports it.
	WriteCombine bool
}

// DefaultPortConfig returns a port configuration with all inline knobs
// unset.
func DefaultPortConfig(port uint8, numTxQueues int) PortConfig {
	return PortConfig{
		Port:                port,
		NumTxQueues:         numTxQueues,
		TxInline:            ArgUnset,
		TxInlineMinQueues:   ArgUnset,
		InlineMaxPacketSize: ArgUnset,
	}
}

// QueueRequest is the per-queue configuration passed to Setup.
type QueueRequest struct {
	Offloads OffloadFlags

	// SkipPortCheck preserves the legacy API path where per-queue
	// offloads are not verified against the port-negotiated set.
	SkipPortCheck bool
}

// Params is the resolved, immutable configuration of one transmit queue.
type Params struct {
	Desc     int // descriptor count: power of two, > CompletionThreshold
	Offloads OffloadFlags
	Mode     BurstMode

	TSO    bool
	Tunnel bool

	// MaxInlineSegs is the inline budget in cache-line segments, the
	// unit the hot path reasons in. MaxInlineData is the byte capacity
	// requested from the device at queue-pair creation.
	MaxInlineSegs int
	MaxInlineData int

	// MaxTSOHeader is the header byte budget reserved when any TSO
	// flavor is enabled.
	MaxTSOHeader int

	InlineMaxPacketSize int
	WCHeaderSeg         bool
}

// selectBurstMode picks the fast-path variant for a queue. Segmentation
// and multi-segment sends fall back to the scalar path; checksum-only
// workloads ride the write-combine or vector variants when available.
func selectBurstMode(caps hw.Caps, port PortConfig, offloads OffloadFlags) BurstMode {
	if offloads&(offloadTSOAny|OffloadMultiSegs) != 0 {
		return BurstScalar
	}
	if port.WriteCombine && caps.WriteCombine {
		return BurstWriteCombine
	}
	return BurstVector
}

// ResolveParams derives a queue's resolved configuration from the
// device capabilities, port configuration and per-queue request. It is
// a pure function: identical inputs yield identical outputs, and every
// correction is reported as a warning rather than an error.
func ResolveParams(caps hw.Caps, port PortConfig, req QueueRequest, desc int) (Params, []string) {
	var warnings []string

	if desc <= CompletionThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"descriptor count %d must be higher than the completion threshold %d, using %d",
			desc, CompletionThreshold, CompletionThreshold+1))
		desc = CompletionThreshold + 1
	}
	if desc&(desc-1) != 0 {
		rounded := 1 << bits.Len(uint(desc-1))
		warnings = append(warnings, fmt.Sprintf(
			"descriptor count increased to the next power of two (%d)", rounded))
		desc = rounded
	}
	if desc > ring.MaxCapacity {
		warnings = append(warnings, fmt.Sprintf(
			"descriptor count %d exceeds the %d-slot ring cursor range, using %d",
			desc, ring.MaxCapacity, ring.MaxCapacity))
		desc = ring.MaxCapacity
	}

	p := Params{
		Desc:     desc,
		Offloads: req.Offloads,
		Mode:     selectBurstMode(caps, port, req.Offloads),
		Tunnel:   caps.Tunnel,
	}

	txInline := port.TxInline
	minQueues := port.TxInlineMinQueues
	inlineMaxPkt := port.InlineMaxPacketSize
	if txInline == ArgUnset {
		txInline = 0
	}
	if minQueues == ArgUnset {
		minQueues = 0
	}
	if inlineMaxPkt == ArgUnset {
		inlineMaxPkt = 0
	}

	if p.Mode == BurstWriteCombine {
		// Write-combine work requests carry packet bytes themselves, so
		// unset knobs default to the mode limits instead of zero.
		if port.TxInline == ArgUnset {
			txInline = hw.WQESizeMax - hw.WQESize
		}
		if port.TxInlineMinQueues == ArgUnset {
			minQueues = wcMinQueues
		}
		if port.InlineMaxPacketSize == ArgUnset {
			inlineMaxPkt = wcMaxPacketSize
		}
		p.WCHeaderSeg = port.WCHeaderSeg
		p.InlineMaxPacketSize = inlineMaxPkt
	}

	if txInline > 0 && port.NumTxQueues >= minQueues {
		p.MaxInlineSegs = (txInline + CacheLineSize - 1) / CacheLineSize
		if p.Mode == BurstWriteCombine {
			// Avoid asking the device for more inline capacity than a
			// write-combine packet can use.
			data := txInline
			if inlineMaxPkt < data {
				data = inlineMaxPkt
			}
			p.MaxInlineData = ((data + CacheLineSize - 1) / CacheLineSize) * CacheLineSize
		} else {
			p.MaxInlineData = p.MaxInlineSegs * CacheLineSize
		}

		// A work request spends one segment on control and one on the
		// Ethernet header before any inline bytes.
		segs := 2 + p.MaxInlineData/hw.WQESegSize
		if segs > caps.MaxSegsPerWR {
			maxData := (caps.MaxSegsPerWR - 2) * hw.WQESegSize
			maxData -= maxData % CacheLineSize
			warnings = append(warnings, fmt.Sprintf(
				"inline threshold %d too large for %d segments per work request, clamped to %d",
				txInline, caps.MaxSegsPerWR, maxData))
			p.MaxInlineData = maxData
			p.MaxInlineSegs = maxData / CacheLineSize
		}
	}

	if req.Offloads&offloadTSOAny != 0 {
		tsoSegs := (MaxTSOHeaderBytes + CacheLineSize - 1) / CacheLineSize
		p.MaxTSOHeader = tsoSegs * CacheLineSize
		if p.MaxInlineSegs < tsoSegs {
			p.MaxInlineSegs = tsoSegs
		}
		if p.MaxInlineData < p.MaxTSOHeader {
			p.MaxInlineData = p.MaxTSOHeader
		}
		p.TSO = true
	}

	return p, warnings
}
