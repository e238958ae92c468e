package rcu9

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// sessionState is one state of the RCU-side session state machine.
type sessionState int

const (
	stateIDLE sessionState = iota
	stateIDLEPrime
	statePolledRead
	statePolledWrite
	stateReceiving
	stateWriting
)

func (s sessionState) String() string {
	switch s {
	case stateIDLE:
		return "IDLE"
	case stateIDLEPrime:
		return "IDLE'"
	case statePolledRead:
		return "POLLED(read)"
	case statePolledWrite:
		return "POLLED(write)"
	case stateReceiving:
		return "RECEIVING"
	case stateWriting:
		return "WRITING"
	default:
		return "?"
	}
}

// writeRequest is one entry of the single-slot write queue.
// Synchronous NotWritable/OutOfRange validation happens before a writeRequest
// is ever constructed (in Façade.RequestWrite); done carries the eventual
// WriteAccepted (nil)/WriteTimeout/WriteRejected outcome.
type writeRequest struct {
	idx  byte
	size int
	raw  uint16
	done chan error
}

// Session is the RCU-side protocol logic: recognizing the bus's poll of this
// node's address, emitting ACK or ENQ, receiving and validating data
// packets, running the write handshake and enforcing response-time
// deadlines. Exactly one Session instance owns a Transport.
//
// Run advances the state machine by one state per loop iteration and exits
// on ctx.Done, the same shape as an accept-and-handle server loop.
type Session struct {
	Transport Transport
	Registry  *Registry
	Store     *Store
	Log       *log.Logger

	// ResponseDeadline bounds how long the RCU waits for the master's next
	// byte once it must respond (POLLED, RECEIVING, WRITING). Not hard-coded:
	// callers size it to the observed master timeout.
	ResponseDeadline time.Duration
	// IdlePoll bounds each Recv while waiting for a poll in IDLE/IDLE'.
	IdlePoll time.Duration
	// EnqDelay is the pause after emitting ENQ before listening for the
	// master's ACK, at least 100ms and below the master's timeout. A
	// constructor parameter, never a constant.
	EnqDelay time.Duration
	// WriteSettleDelay is the pause after emitting a write packet before
	// expecting the master's ACK/NAK, around 200ms.
	WriteSettleDelay time.Duration

	// OnBusNoisy, if set, is invoked after three consecutive ChecksumErrors.
	// Set once before Run starts; Run never mutates it.
	OnBusNoisy func()

	// hooksMu guards onDecoded and record, which Facade can install and
	// clear concurrently with Run reading them on every decode/send/recv.
	hooksMu   sync.Mutex
	onDecoded func(idx byte, field string, v DecodedValue)
	record    func(dir Direction, fb FrameByte)

	writeQueue chan *writeRequest
	checksums  int
}

// NewSession constructs a Session with the given collaborators and deadlines.
func NewSession(t Transport, reg *Registry, store *Store, logger *log.Logger, responseDeadline, idlePoll, enqDelay, writeSettleDelay time.Duration) *Session {
	return &Session{
		Transport:        t,
		Registry:         reg,
		Store:            store,
		Log:              logger,
		ResponseDeadline: responseDeadline,
		IdlePoll:         idlePoll,
		EnqDelay:         enqDelay,
		WriteSettleDelay: writeSettleDelay,
		writeQueue:       make(chan *writeRequest, 1),
	}
}

// setOnDecoded installs or clears the callback invoked in decode order for
// every successfully decoded parameter or bitfield. Safe to call while Run
// is active.
func (s *Session) setOnDecoded(fn func(idx byte, field string, v DecodedValue)) {
	s.hooksMu.Lock()
	s.onDecoded = fn
	s.hooksMu.Unlock()
}

func (s *Session) getOnDecoded() func(idx byte, field string, v DecodedValue) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return s.onDecoded
}

// setRecord installs or clears the callback invoked for every frame byte the
// session sends or receives. It must not block. Safe to call while Run is
// active.
func (s *Session) setRecord(fn func(dir Direction, fb FrameByte)) {
	s.hooksMu.Lock()
	s.record = fn
	s.hooksMu.Unlock()
}

func (s *Session) getRecord() func(dir Direction, fb FrameByte) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return s.record
}

// EnqueueWrite hands a validated write request to the session's single-slot
// queue. It blocks only while the slot holds a write that Run has not yet
// picked up; Run holds at most one picked-up write in flight at a time.
func (s *Session) EnqueueWrite(idx byte, size int, raw uint16) <-chan error {
	wr := &writeRequest{idx: idx, size: size, raw: raw, done: make(chan error, 1)}
	s.writeQueue <- wr
	return wr.done
}

// Run drives the state machine until ctx is canceled or the Transport fails.
// It returns nil on context cancellation; protocol-level errors (framing, checksum, addressing, unknown
// parameter) never escape Run — only TransportError does.
func (s *Session) Run(ctx context.Context) error {
	state := stateIDLE
	var pending *writeRequest
	var partial FrameByte // first byte of a data packet, consumed by POLLED(read), replayed into DecodeDataPacket

	finishWrite := func(err error) {
		if pending == nil {
			return
		}
		pending.done <- err
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if pending == nil {
			select {
			case wr := <-s.writeQueue:
				pending = wr
			default:
			}
		}

		switch state {
		case stateIDLE:
			fb, err := s.recv(s.IdlePoll)
			switch {
			case errors.Is(err, ErrRecvTimeout):
				continue
			case err != nil:
				return s.fatal(err)
			case fb.Value == pollLead:
				state = stateIDLEPrime
			}

		case stateIDLEPrime:
			fb, err := s.recv(s.IdlePoll)
			switch {
			case errors.Is(err, ErrRecvTimeout):
				state = stateIDLE
			case err != nil:
				return s.fatal(err)
			case fb.Value == RCUAddr:
				// A 0x00 followed within one inter-byte-gap by RCUAddr is
				// treated as Address-tagged even when the transport cannot
				// report the ninth bit.
				if pending != nil {
					if err := s.send(ENQ); err != nil {
						return s.fatal(err)
					}
					state = statePolledWrite
				} else {
					if err := s.send(ACK); err != nil {
						return s.fatal(err)
					}
					state = statePolledRead
				}
			default:
				state = stateIDLE
			}

		case statePolledRead:
			fb, err := s.recv(s.ResponseDeadline)
			switch {
			case errors.Is(err, ErrRecvTimeout):
				s.logWarn("poll timeout waiting for data packet")
				state = stateIDLE
			case err != nil:
				return s.fatal(err)
			case fb == CmdData:
				partial = fb
				state = stateReceiving
			default:
				// FramingError: drop, do not emit, reset.
				state = stateIDLE
			}

		case stateReceiving:
			consumed := false
			next := func() (FrameByte, error) {
				if !consumed {
					consumed = true
					return partial, nil
				}
				return s.recv(s.ResponseDeadline)
			}
			sender, payload, err := DecodeDataPacket(next)
			if err == nil {
				var records []ParamRecord
				records, err = ParseParameters(payload, s.Registry)
				if err == nil {
					s.applyRecords(records)
					if sendErr := s.send(ACK); sendErr != nil {
						return s.fatal(sendErr)
					}
					if sendErr := s.send(ETX); sendErr != nil {
						return s.fatal(sendErr)
					}
					s.checksums = 0
					state = stateIDLE
					continue
				}
			}
			switch err.(type) {
			case *ChecksumError:
				if sendErr := s.send(NAK); sendErr != nil {
					return s.fatal(sendErr)
				}
				s.checksums++
				if s.checksums >= 3 {
					s.checksums = 0
					if s.OnBusNoisy != nil {
						s.OnBusNoisy()
					}
					s.logWarn("bus noisy: three consecutive checksum failures")
				}
				state = stateIDLE
			case *FramingError, *AddressingError:
				state = stateIDLE
			default:
				if errors.Is(err, ErrRecvTimeout) {
					state = stateIDLE
				} else {
					return s.fatal(err)
				}
			}
			_ = sender

		case statePolledWrite:
			time.Sleep(s.EnqDelay)
			fb, err := s.recv(s.ResponseDeadline)
			switch {
			case errors.Is(err, ErrRecvTimeout):
				finishWrite(&WriteTimeout{Index: pendingIndex(pending)})
				state = stateIDLE
			case err != nil:
				return s.fatal(err)
			case fb == ACK:
				s.Transport.Drain()
				pkt := EncodeWritePacket(pending.idx, pending.size, pending.raw)
				if sendErr := s.sendMany(dataFrame(pkt)); sendErr != nil {
					return s.fatal(sendErr)
				}
				state = stateWriting
			default:
				finishWrite(&WriteRejected{Index: pendingIndex(pending)})
				state = stateIDLE
			}

		case stateWriting:
			s.Transport.Drain()
			time.Sleep(s.WriteSettleDelay)
			fb, err := s.recv(s.ResponseDeadline)
			switch {
			case errors.Is(err, ErrRecvTimeout):
				finishWrite(&WriteTimeout{Index: pendingIndex(pending)})
				state = stateIDLE
			case err != nil:
				return s.fatal(err)
			case fb == ACK:
				if sendErr := s.send(ETX); sendErr != nil {
					return s.fatal(sendErr)
				}
				finishWrite(nil)
				state = stateIDLE
			case fb == NAK:
				finishWrite(&WriteRejected{Index: pendingIndex(pending)})
				state = stateIDLE
			default:
				finishWrite(&WriteRejected{Index: pendingIndex(pending)})
				state = stateIDLE
			}
		}
	}
}

func (s *Session) send(fb FrameByte) error {
	if err := s.Transport.Send(fb); err != nil {
		return err
	}
	if rec := s.getRecord(); rec != nil {
		rec(DirectionOut, fb)
	}
	return nil
}

func (s *Session) sendMany(seq []FrameByte) error {
	if err := s.Transport.SendMany(seq); err != nil {
		return err
	}
	if rec := s.getRecord(); rec != nil {
		for _, fb := range seq {
			rec(DirectionOut, fb)
		}
	}
	return nil
}

func (s *Session) recv(timeout time.Duration) (FrameByte, error) {
	fb, err := s.Transport.Recv(timeout)
	if err == nil {
		if rec := s.getRecord(); rec != nil {
			rec(DirectionIn, fb)
		}
	}
	return fb, err
}

func pendingIndex(wr *writeRequest) byte {
	if wr == nil {
		return 0
	}
	return wr.idx
}

// dataFrame tags every byte of a wire-ready packet as Data. The trailing
// Address-tagged ETX is emitted separately by Session on acceptance.
func dataFrame(pkt []byte) []FrameByte {
	out := make([]FrameByte, len(pkt))
	for i, b := range pkt {
		out[i] = Data(b)
	}
	return out
}

// applyRecords decodes each ParamRecord via the Registry and writes the
// result(s) into the Store, invoking the onDecoded hook in decode (packet)
// order.
func (s *Session) applyRecords(records []ParamRecord) {
	onDecoded := s.getOnDecoded()
	for _, rec := range records {
		if rec.Unknown {
			w := UnknownParameterWarning{Index: rec.Index, Width: rec.Size}
			s.Store.SetWarning(rec.Index, w)
			s.logWarn(w.Error())
		}
		scalar, fields := s.Registry.Decode(rec)
		if scalar != nil {
			s.Store.Set(rec.Index, *scalar)
			if onDecoded != nil {
				onDecoded(rec.Index, "", *scalar)
			}
			continue
		}
		for _, f := range fields {
			s.Store.SetField(rec.Index, f.Name, f.Value)
			if onDecoded != nil {
				onDecoded(rec.Index, f.Name, f.Value)
			}
		}
	}
}

func (s *Session) fatal(err error) error {
	if _, ok := err.(*TransportError); ok {
		return err
	}
	return &TransportError{Op: "recv", Err: err}
}

func (s *Session) logWarn(msg string) {
	if s.Log != nil {
		s.Log.Warn(msg)
	}
}
