package rcu9

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	reg, err := NewRegistry([]Definition{
		{Index: 0x01, Size: 2, Factor: 10, Unit: "°C"},
		{Index: 0x0B, Size: 1, Writable: true},
		{Index: 0x13, Size: 1, Bitfields: []BitfieldDef{
			{Name: "Kompressor", Mask: 0x02, SortOrder: 0, ValueMap: map[uint32]string{0: "Off", 1: "On"}},
			{Name: "CP1", Mask: 0x40, SortOrder: 1, ValueMap: map[uint32]string{0: "Off", 1: "On"}},
			{Name: "CP2", Mask: 0x01, SortOrder: 2, ValueMap: map[uint32]string{0: "Off", 1: "On"}},
		}},
	}, 2)
	require.NoError(t, err)
	return reg
}

func newTestSession(t *testing.T, script []FrameByte) (*Session, *MemTransport) {
	tr := NewMemTransport(script)
	sess := NewSession(tr, testRegistry(t), NewStore(), nil, 50*time.Millisecond, 20*time.Millisecond, 5*time.Millisecond, 5*time.Millisecond)
	return sess, tr
}

func runSessionFor(sess *Session, d time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	sess.Run(ctx)
}

func TestSession_S1SingleTemperatureReply(t *testing.T) {
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, dataPacket([]byte{0x00, 0x01, 0xFE, 0x3A})...)
	sess, tr := newTestSession(t, script)
	runSessionFor(sess, 200*time.Millisecond)

	v, ok := sess.Store.Get(0x01)
	require.True(t, ok)
	assert.Equal(t, KindReal, v.Kind)
	assert.InDelta(t, -45.4, v.Real, 0.01)

	sent := tr.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, ACK, sent[0])
	assert.Equal(t, ACK, sent[1])
	assert.Equal(t, ETX, sent[2])
}

func TestSession_S3BitfieldStatusRegister(t *testing.T) {
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, dataPacket([]byte{0x00, 0x13, 0x43})...)
	sess, _ := newTestSession(t, script)
	runSessionFor(sess, 200*time.Millisecond)

	for _, name := range []string{"Kompressor", "CP1", "CP2"} {
		v, ok := sess.Store.GetBitfield(0x13, name)
		require.Truef(t, ok, "missing field %s", name)
		assert.Equal(t, "On", v.Label)
	}
}

func TestSession_S4ChecksumFailure(t *testing.T) {
	pkt := dataPacket([]byte{0x00, 0x01, 0xFE, 0x3A})
	last := pkt[len(pkt)-1]
	pkt[len(pkt)-1] = Data(last.Value ^ 0x01)
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, pkt...)

	sess, tr := newTestSession(t, script)
	runSessionFor(sess, 200*time.Millisecond)

	_, ok := sess.Store.Get(0x01)
	assert.False(t, ok)

	sent := tr.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, ACK, sent[0])
	assert.Equal(t, NAK, sent[1])
}

func TestSession_S5WriteSingleByteParameter(t *testing.T) {
	wantPkt := EncodeWritePacket(0x0B, 1, 5)
	// Only the poll and the ENQ's ACK are preloaded; the write packet's own
	// ACK is fed in once the packet has actually gone out, since
	// MemTransport.Drain (called on entry to WRITING) would otherwise
	// consume a second preloaded reply before the packet existed on the
	// wire.
	script := []FrameByte{
		Address(pollLead), Address(RCUAddr),
		ACK, // master ACKs the ENQ
	}
	tr := NewMemTransport(script)
	// WriteSettleDelay is generous here so the feed below lands inside the
	// session's post-drain settle window rather than racing its Drain call.
	sess := NewSession(tr, testRegistry(t), NewStore(), nil, 50*time.Millisecond, 20*time.Millisecond, 5*time.Millisecond, 100*time.Millisecond)

	done := sess.EnqueueWrite(0x0B, 1, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sess.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return len(tr.Sent()) >= 1+len(wantPkt)
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the session pass its Drain call before the reply arrives
	tr.Feed(ACK)                      // master ACKs the write packet

	var writeErr error
	select {
	case writeErr = <-done:
	case <-time.After(time.Second):
		t.Fatal("write did not complete")
	}
	assert.NoError(t, writeErr)

	cancel()
	<-runDone

	sent := tr.Sent()
	require.Len(t, sent, 2+len(wantPkt))
	assert.Equal(t, ENQ, sent[0])
	for i, b := range wantPkt {
		assert.Equal(t, Data(b), sent[1+i])
	}
	assert.Equal(t, ETX, sent[len(sent)-1])
}

// TestSession_NoWriteWithoutEnqHandshake verifies invariant 5: if no ACK
// follows ENQ within the response window, the write completes with
// WriteTimeout and no write-packet bytes ever reach the wire.
func TestSession_NoWriteWithoutEnqHandshake(t *testing.T) {
	script := []FrameByte{Address(pollLead), Address(RCUAddr)} // no ACK after the poll
	sess, tr := newTestSession(t, script)

	done := sess.EnqueueWrite(0x0B, 1, 5)
	runSessionFor(sess, 300*time.Millisecond)

	select {
	case err := <-done:
		var wt *WriteTimeout
		require.ErrorAs(t, err, &wt)
	default:
		t.Fatal("write did not complete")
	}

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ENQ, sent[0])
	for _, fb := range sent {
		assert.NotEqual(t, cmdDataByte, fb.Value)
	}
}

func TestSession_UnknownIndexStoresRawWithWarning(t *testing.T) {
	script := append([]FrameByte{Address(pollLead), Address(RCUAddr)}, dataPacket([]byte{0x00, 0x7F, 0x12, 0x34})...)
	sess, _ := newTestSession(t, script)
	runSessionFor(sess, 200*time.Millisecond)

	v, ok := sess.Store.Get(0x7F)
	require.True(t, ok)
	assert.Equal(t, int64(0x1234), v.Integer)

	snap := sess.Store.Snapshot()
	_, warned := snap.Warnings[0x7F]
	assert.True(t, warned)
}
