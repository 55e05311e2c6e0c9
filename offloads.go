package txq

import (
	"strings"

	"github.com/ethdrv/txq/internal/hw"
)

// OffloadFlags is the set of per-queue transmit offloads.
type OffloadFlags uint64

const (
	OffloadMultiSegs OffloadFlags = 1 << iota
	OffloadVLANInsert
	OffloadIPv4Checksum
	OffloadUDPChecksum
	OffloadTCPChecksum
	OffloadTSO
	OffloadOuterIPv4Checksum
	OffloadVXLANTnlTSO
	OffloadGRETnlTSO
)

// offloadTSOAny covers every segmentation flavor; any of them requires
// the TSO header budget.
const offloadTSOAny = OffloadTSO | OffloadVXLANTnlTSO | OffloadGRETnlTSO

var offloadNames = []struct {
	flag OffloadFlags
	name string
}{
	{OffloadMultiSegs, "multi-segs"},
	{OffloadVLANInsert, "vlan-insert"},
	{OffloadIPv4Checksum, "ipv4-cksum"},
	{OffloadUDPChecksum, "udp-cksum"},
	{OffloadTCPChecksum, "tcp-cksum"},
	{OffloadTSO, "tcp-tso"},
	{OffloadOuterIPv4Checksum, "outer-ipv4-cksum"},
	{OffloadVXLANTnlTSO, "vxlan-tnl-tso"},
	{OffloadGRETnlTSO, "gre-tnl-tso"},
}

func (f OffloadFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, e := range offloadNames {
		if f&e.flag != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, "|")
}

// PortOffloads derives the transmit offloads a port can support from
// the device capability set. Multi-segment sends and VLAN insertion are
// always available.
func PortOffloads(caps hw.Caps) OffloadFlags {
	offloads := OffloadMultiSegs | OffloadVLANInsert
	if caps.HWChecksum {
		offloads |= OffloadIPv4Checksum | OffloadUDPChecksum | OffloadTCPChecksum
	}
	if caps.TSO {
		offloads |= OffloadTSO
	}
	if caps.Tunnel {
		if caps.HWChecksum {
			offloads |= OffloadOuterIPv4Checksum
		}
		if caps.TSO {
			offloads |= OffloadVXLANTnlTSO | OffloadGRETnlTSO
		}
	}
	return offloads
}

// offloadsAllowed checks a per-queue offload request against what the
// device supports and, because no transmit offload is truly per-queue
// on this hardware, against the port-level negotiated set.
func offloadsAllowed(requested, portNegotiated, supported OffloadFlags) bool {
	if requested&supported != requested {
		return false
	}
	if (portNegotiated^requested)&supported != 0 {
		return false
	}
	return true
}
