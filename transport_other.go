//go:build !linux

package rcu9

import "errors"

// OpenSerialTransport is only implemented on Linux, where the ninth-bit
// trick is realized via stick parity (CMSPAR). Other platforms can still
// build and test this package against MemTransport.
func OpenSerialTransport(port string, baud int) (Transport, error) {
	return nil, &TransportError{Op: "open", Err: errors.New("rcu9: serial transport is only supported on linux")}
}
