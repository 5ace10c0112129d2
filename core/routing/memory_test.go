package routing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStartsEmpty(t *testing.T) {
	m := NewMemory()

	_, ok := m.LastRouted()
	assert.False(t, ok)
	_, ok = m.LastNotificationSource()
	assert.False(t, ok)
}

func TestMemorySlotsAreIndependent(t *testing.T) {
	m := NewMemory()
	m.SetLastRouted(addr("%1", "work:0.0"))

	got, ok := m.LastRouted()
	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)

	_, ok = m.LastNotificationSource()
	assert.False(t, ok, "setting one slot must not touch the other")
}

func TestMemoryLastWriteWins(t *testing.T) {
	m := NewMemory()
	m.SetLastRouted(addr("%1", "work:0.0"))
	m.SetLastRouted(addr("%2", "home:0.1"))

	got, ok := m.LastRouted()
	require.True(t, ok)
	assert.Equal(t, "%2", got.TargetID)
}

func TestMemoryReturnsSnapshot(t *testing.T) {
	m := NewMemory()
	m.SetLastRouted(addr("%1", "work:0.0"))

	snap, _ := m.LastRouted()
	snap.Label = "mutated"

	got, _ := m.LastRouted()
	assert.Equal(t, "work:0.0", got.Label)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory()
	m.SetLastRouted(addr("%1", "work:0.0"))
	m.SetLastNotificationSource(addr("%2", "home:0.1"))

	m.Reset()

	_, ok := m.LastRouted()
	assert.False(t, ok)
	_, ok = m.LastNotificationSource()
	assert.False(t, ok)
}

func TestMemoryConcurrentWrites(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.SetLastRouted(addr("%1", "work:0.0"))
		}()
		go func() {
			defer wg.Done()
			m.SetLastNotificationSource(addr("%2", "home:0.1"))
		}()
	}
	wg.Wait()

	got, ok := m.LastRouted()
	require.True(t, ok)
	assert.Equal(t, "%1", got.TargetID)
}
