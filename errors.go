package rcu9

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that have no useful associated state.
var (
	// ErrNotWritable is returned synchronously by request_write when the
	// addressed parameter's definition marks it read-only.
	ErrNotWritable = errors.New("rcu9: parameter is not writable")
	// ErrOutOfRange is returned synchronously by request_write when the raw
	// value falls outside the parameter's declared (min, max) bounds.
	ErrOutOfRange = errors.New("rcu9: raw value out of range")
	// ErrInvalidConfig signals a malformed configuration document or Config.
	ErrInvalidConfig = errors.New("rcu9: invalid configuration")
)

// TransportError wraps a failure to open, read or write the serial port.
// It is fatal at the Session level and always propagates to the Façade.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rcu9: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FramingError indicates an unexpected byte where the packet grammar
// required a specific one. It is local to the Session: drop, return to IDLE,
// do not emit anything on the wire.
type FramingError struct {
	Want byte
	Got  byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("rcu9: framing error: want 0x%02X, got 0x%02X", e.Want, e.Got)
}

// AddressingError indicates a data packet whose sender byte did not match the
// expected master address. Treated identically to FramingError.
type AddressingError struct {
	Want byte
	Got  byte
}

func (e *AddressingError) Error() string {
	return fmt.Sprintf("rcu9: addressing error: want sender 0x%02X, got 0x%02X", e.Want, e.Got)
}

// ChecksumError indicates an XOR mismatch on a received data packet. The
// Session emits NAK and returns to IDLE; three consecutive occurrences invoke
// Session.OnBusNoisy (which the Façade installs to log a warning).
type ChecksumError struct {
	Want byte
	Got  byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("rcu9: checksum error: want 0x%02X, computed 0x%02X", e.Want, e.Got)
}

// ErrBusNoisy names the three-consecutive-ChecksumErrors condition. The
// Session reports that condition through OnBusNoisy and a log warning; no
// function in this package returns ErrBusNoisy.
var ErrBusNoisy = errors.New("rcu9: bus noisy: three consecutive checksum failures")

// UnknownParameterWarning is a non-fatal annotation attached to a Store entry
// when a packet carries a parameter index absent from the Registry. The raw
// value is still stored, decoded at the Registry's configured fallback width.
type UnknownParameterWarning struct {
	Index byte
	Width int
}

func (w *UnknownParameterWarning) Error() string {
	return fmt.Sprintf("rcu9: unknown parameter index 0x%02X, defaulted to width %d", w.Index, w.Width)
}

// WriteTimeout is delivered through a write request's completion channel when
// no master response arrives within the configured window.
type WriteTimeout struct {
	Index byte
}

func (e *WriteTimeout) Error() string {
	return fmt.Sprintf("rcu9: write timeout for parameter 0x%02X", e.Index)
}

// WriteRejected is delivered through a write request's completion channel
// when the master responds with NAK instead of ACK.
type WriteRejected struct {
	Index byte
}

func (e *WriteRejected) Error() string {
	return fmt.Sprintf("rcu9: write rejected for parameter 0x%02X", e.Index)
}
