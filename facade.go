package rcu9

import (
	"sync"
	"time"

	"github.com/GoAethereal/cancel"
)

// Facade is the public, user-facing surface of this package: run_once,
// run_forever, request_write, get, get_bitfield and diagnostic_capture. It
// owns exactly one Session/Transport pair, lazily opened on first use, and
// serializes access to that pair behind mtx.
//
// A Config embedded by value, a mutex-guarded lazily-initialized connection,
// and a public method surface that never exposes the Session/Transport types
// directly. cancel.Context is used at this boundary so callers can Promote a
// derived, independently cancelable sub-context per call without tearing
// down the Facade's own background Session.Run goroutine.
type Facade struct {
	Config

	mtx     sync.Mutex
	store   *Store
	session *Session
	cancel  func()
	done    chan struct{}
}

// init lazily opens the Transport and starts the background Session.Run
// goroutine, exactly once.
func (f *Facade) init() (*Session, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.session != nil {
		return f.session, nil
	}

	reg, err := f.Config.registry()
	if err != nil {
		return nil, err
	}
	t, err := f.Config.transport()
	if err != nil {
		return nil, err
	}

	store := NewStore()
	logger := f.Config.logger()
	sess := NewSession(t, reg, store, logger, f.Config.responseDeadline(), f.Config.idlePoll(), f.Config.enqDelay(), f.Config.writeSettleDelay())
	sess.OnBusNoisy = func() { logger.Warn("bus_noisy", "consecutive_checksum_errors", 3) }

	sig := cancel.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sess.Run(sig); err != nil {
			logger.Error("session stopped", "err", err)
		}
	}()

	f.store, f.session, f.cancel, f.done = store, sess, sig.Cancel, done
	return sess, nil
}

// Close stops the background session and releases the transport.
func (f *Facade) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.session == nil {
		return nil
	}
	f.cancel()
	<-f.done
	err := f.session.Transport.Close()
	f.session, f.store, f.cancel, f.done = nil, nil, nil, nil
	return err
}

// RunOnce blocks until every index in want has been observed at least once,
// or ctx expires first, and returns a Snapshot. Partial is set when the
// deadline won the race. A nil want collects the full register set declared
// by the Config's parameter catalog.
func (f *Facade) RunOnce(ctx cancel.Context, want []byte) (Snapshot, error) {
	sess, err := f.init()
	if err != nil {
		return Snapshot{}, err
	}
	if want == nil {
		want = sess.Registry.Indices()
	}
	for !f.store.ObservedAll(want) {
		if err := f.store.Wait(ctx); err != nil {
			snap := f.store.Snapshot()
			snap.Partial = true
			return snap, nil
		}
	}
	return f.store.Snapshot(), nil
}

// RunForever invokes onValue for every newly decoded parameter or bitfield
// until ctx is done.
func (f *Facade) RunForever(ctx cancel.Context, onValue func(idx byte, field string, v DecodedValue)) error {
	sess, err := f.init()
	if err != nil {
		return err
	}
	sess.setOnDecoded(onValue)
	defer sess.setOnDecoded(nil)
	<-ctx.Done()
	return nil
}

// RequestWrite synchronously validates writability and range against the
// Registry, then enqueues the write and returns a channel that receives the
// eventual outcome (nil on acceptance, *WriteRejected or *WriteTimeout
// otherwise).
func (f *Facade) RequestWrite(idx byte, value int64) (<-chan error, error) {
	sess, err := f.init()
	if err != nil {
		return nil, err
	}
	def, ok := sess.Registry.Definition(idx)
	if !ok || !def.Writable {
		return nil, ErrNotWritable
	}
	if def.Min != nil && value < *def.Min {
		return nil, ErrOutOfRange
	}
	if def.Max != nil && value > *def.Max {
		return nil, ErrOutOfRange
	}
	raw := uint16(value)
	return sess.EnqueueWrite(idx, def.Size, raw), nil
}

// Get returns the last decoded value of a plain parameter.
func (f *Facade) Get(idx byte) (DecodedValue, bool, error) {
	if _, err := f.init(); err != nil {
		return DecodedValue{}, false, err
	}
	v, ok := f.store.Get(idx)
	return v, ok, nil
}

// GetBitfield returns the last decoded value of a projected bitfield subfield.
func (f *Facade) GetBitfield(idx byte, name string) (DecodedValue, bool, error) {
	if _, err := f.init(); err != nil {
		return DecodedValue{}, false, err
	}
	v, ok := f.store.GetBitfield(idx, name)
	return v, ok, nil
}

// DiagnosticCapture records every FrameByte the Transport sends and receives
// for duration and returns them as a flat, timestamped trace for offline
// inspection. It does not format, colorize or persist the trace — callers
// handle presentation.
func (f *Facade) DiagnosticCapture(duration time.Duration) ([]CapturedFrame, error) {
	sess, err := f.init()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var frames []CapturedFrame
	sess.setRecord(func(dir Direction, fb FrameByte) {
		mu.Lock()
		frames = append(frames, CapturedFrame{Direction: dir, Frame: fb, At: time.Now()})
		mu.Unlock()
	})

	time.Sleep(duration)

	sess.setRecord(nil)

	mu.Lock()
	defer mu.Unlock()
	return frames, nil
}

// CapturedFrame is one entry of a DiagnosticCapture trace.
type CapturedFrame struct {
	Direction Direction
	Frame     FrameByte
	At        time.Time
}

// Direction distinguishes the two halves of a capture trace.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}
