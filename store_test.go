package rcu9

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndGet(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Observed(0x01))

	s.Set(0x01, RealValue(-45.4, "°C"))
	v, ok := s.Get(0x01)
	require.True(t, ok)
	assert.InDelta(t, -45.4, v.Real, 0.001)
	assert.True(t, s.Observed(0x01))
}

func TestStore_SetFieldIsKeyedByIndexAndName(t *testing.T) {
	s := NewStore()
	s.SetField(0x13, "Kompressor", EnumeratedValue(1, "On"))
	s.SetField(0x13, "CP1", EnumeratedValue(0, "Off"))

	v, ok := s.GetBitfield(0x13, "Kompressor")
	require.True(t, ok)
	assert.Equal(t, "On", v.Label)

	_, ok = s.GetBitfield(0x13, "missing")
	assert.False(t, ok)

	assert.True(t, s.Observed(0x13))
}

func TestStore_WaitUnblocksOnWrite(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	waited := make(chan error, 1)
	go func() { waited <- s.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	s.Set(0x01, IntegerValue(1))

	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock on write")
	}
}

func TestStore_ObservedAll(t *testing.T) {
	s := NewStore()
	s.Set(0x01, IntegerValue(1))
	assert.False(t, s.ObservedAll([]byte{0x01, 0x02}))
	s.Set(0x02, IntegerValue(2))
	assert.True(t, s.ObservedAll([]byte{0x01, 0x02}))
}

func TestStore_SnapshotIsCoherentCopy(t *testing.T) {
	s := NewStore()
	s.Set(0x01, IntegerValue(1))
	s.SetField(0x13, "Kompressor", EnumeratedValue(1, "On"))
	s.SetWarning(0x7F, UnknownParameterWarning{Index: 0x7F, Width: 2})

	snap := s.Snapshot()
	v, ok := snap.Get(0x01)
	require.True(t, ok)
	assert.Equal(t, int64(1), v.Integer)

	f, ok := snap.GetBitfield(0x13, "Kompressor")
	require.True(t, ok)
	assert.Equal(t, "On", f.Label)

	_, warned := snap.Warnings[0x7F]
	assert.True(t, warned)
	assert.False(t, snap.Partial)

	s.Set(0x01, IntegerValue(99))
	v2, _ := snap.Get(0x01)
	assert.Equal(t, int64(1), v2.Integer, "snapshot must not observe writes made after it was taken")
}
