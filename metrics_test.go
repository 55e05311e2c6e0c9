package txq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()

	m.Setups.Add(3)
	m.SetupErrors.Add(1)
	m.Releases.Add(2)
	m.ActiveQueues.Add(1)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Setups)
	assert.Equal(t, int64(1), snap.SetupErrors)
	assert.Equal(t, int64(2), snap.Releases)
	assert.Equal(t, int64(1), snap.ActiveQueues)

	// Snapshot is a copy; later increments do not affect it.
	m.Setups.Add(1)
	assert.Equal(t, int64(3), snap.Setups)
}

func TestMetricsConcurrentAccess(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Setups.Add(1)
				m.ActiveQueues.Add(1)
				m.ActiveQueues.Add(-1)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(8000), snap.Setups)
	assert.Equal(t, int64(0), snap.ActiveQueues)
}
