package txq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ethdrv/txq/internal/hw"
)

func TestPortOffloads(t *testing.T) {
	tests := []struct {
		name string
		caps hw.Caps
		want OffloadFlags
	}{
		{
			"bare device",
			hw.Caps{},
			OffloadMultiSegs | OffloadVLANInsert,
		},
		{
			"checksum only",
			hw.Caps{HWChecksum: true},
			OffloadMultiSegs | OffloadVLANInsert |
				OffloadIPv4Checksum | OffloadUDPChecksum | OffloadTCPChecksum,
		},
		{
			"tso without tunnel",
			hw.Caps{HWChecksum: true, TSO: true},
			OffloadMultiSegs | OffloadVLANInsert |
				OffloadIPv4Checksum | OffloadUDPChecksum | OffloadTCPChecksum |
				OffloadTSO,
		},
		{
			"full device",
			hw.Caps{HWChecksum: true, TSO: true, Tunnel: true},
			OffloadMultiSegs | OffloadVLANInsert |
				OffloadIPv4Checksum | OffloadUDPChecksum | OffloadTCPChecksum |
				OffloadTSO | OffloadOuterIPv4Checksum |
				OffloadVXLANTnlTSO | OffloadGRETnlTSO,
		},
		{
			// Tunnel checksum and tunnel TSO still need the base capability.
			"tunnel without checksum or tso",
			hw.Caps{Tunnel: true},
			OffloadMultiSegs | OffloadVLANInsert,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PortOffloads(tt.caps))
		})
	}
}

func TestOffloadsAllowed(t *testing.T) {
	supported := OffloadMultiSegs | OffloadIPv4Checksum | OffloadTCPChecksum | OffloadTSO
	port := OffloadIPv4Checksum | OffloadTCPChecksum

	// Matching the port set exactly passes.
	assert.True(t, offloadsAllowed(port, port, supported))
	// Requesting less than the port negotiated fails; offloads are not
	// per-queue on this device.
	assert.False(t, offloadsAllowed(OffloadIPv4Checksum, port, supported))
	// Requesting more than the port negotiated fails.
	assert.False(t, offloadsAllowed(port|OffloadTSO, port, supported))
	// Anything outside the supported set fails regardless of the port.
	assert.False(t, offloadsAllowed(OffloadVXLANTnlTSO, port, supported))
}

func TestOffloadFlagsString(t *testing.T) {
	assert.Equal(t, "none", OffloadFlags(0).String())
	assert.Equal(t, "tcp-cksum|tcp-tso", (OffloadTCPChecksum | OffloadTSO).String())
}
