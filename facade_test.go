package rcu9

import (
	"testing"
	"time"

	"github.com/GoAethereal/cancel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigDoc = `
test:
  baudrate: 19200
  bit_mode: "9n1"
  parity: mark-space
  cmd_data: 0xC0
  master_addr: 0x24
  rcu_addr: 0x14
  ack: 0x06
  enq: 0x05
  nak: 0x15
  etx: 0x03
  registers:
    - index: 1
      name: outdoor_temp
      size: 2
      factor: 10
      unit: "°C"
      writable: false
    - index: 11
      name: setpoint
      size: 1
      factor: 1
      writable: true
      min: 0
      max: 30
`

func newTestFacade(t *testing.T, script []FrameByte) *Facade {
	cfg := Config{
		Script:    script,
		ConfigDoc: []byte(testConfigDoc),
		PumpName:  "test",
	}
	require.NoError(t, cfg.Verify())
	f := &Facade{Config: cfg}
	t.Cleanup(func() { f.Close() })
	return f
}

// TestFacade_RunOnceIsIdempotent verifies invariant 6: running run_once
// twice against the same recorded byte stream produces byte-identical
// snapshots once collection has completed.
func TestFacade_RunOnceIsIdempotent(t *testing.T) {
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, dataPacket([]byte{0x00, 0x01, 0xFE, 0x3A})...)
	f := newTestFacade(t, script)

	sig := cancel.New()
	defer sig.Cancel()

	first, err := f.RunOnce(sig, []byte{0x01})
	require.NoError(t, err)
	assert.False(t, first.Partial)

	second, err := f.RunOnce(sig, []byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, first.Values, second.Values)
}

func TestFacade_RequestWrite_NotWritable(t *testing.T) {
	f := newTestFacade(t, []FrameByte{})
	_, err := f.RequestWrite(0x01, 5)
	assert.ErrorIs(t, err, ErrNotWritable)
}

func TestFacade_RequestWrite_OutOfRange(t *testing.T) {
	f := newTestFacade(t, []FrameByte{})
	_, err := f.RequestWrite(0x0B, 999)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFacade_GetReturnsStoredValue(t *testing.T) {
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, dataPacket([]byte{0x00, 0x01, 0xFE, 0x3A})...)
	f := newTestFacade(t, script)

	sig := cancel.New()
	defer sig.Cancel()
	_, err := f.RunOnce(sig, []byte{0x01})
	require.NoError(t, err)

	v, ok, err := f.Get(0x01)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, -45.4, v.Real, 0.01)
}

func TestFacade_RunOnceTimesOutWithPartialData(t *testing.T) {
	// No poll ever arrives, so nothing is ever observed before the
	// sub-context expires.
	f := newTestFacade(t, []FrameByte{})

	sig := cancel.New()
	go func() {
		time.Sleep(30 * time.Millisecond)
		sig.Cancel()
	}()

	snap, err := f.RunOnce(sig, []byte{0x01})
	require.NoError(t, err)
	assert.True(t, snap.Partial)
}
