//go:build linux

package rcu9

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// settlingDelay is the tiny pause before an emission when switching parity
// mode: about two bit times at 19200 baud (one bit ≈ 52µs, one 11-bit byte
// ≈ 573µs), bounded well under the response-deadline budget a master
// enforces.
const settlingDelay = 100 * time.Microsecond

// SerialTransport is the real Transport implementation: it realizes the
// ninth bit by driving the line's parity to MARK (address/control) or SPACE
// (payload) immediately before each emission, using Linux's "stick parity"
// (CMSPAR) mode, driven through golang.org/x/sys/unix's termios ioctls.
type SerialTransport struct {
	f       *os.File
	fd      int
	mu      sync.Mutex
	cur     Tag
	haveCur bool
}

var _ Transport = (*SerialTransport)(nil)

// OpenSerialTransport opens port at baud with 8 data bits, 1 stop bit and
// stick parity enabled in SPACE mode; each Send then switches to MARK or
// SPACE as its tag requires. The default baud rate for this protocol is 19200.
func OpenSerialTransport(port string, baud int) (*SerialTransport, error) {
	f, err := os.OpenFile(port, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, &TransportError{Op: "open", Err: err}
	}

	rate, ok := baudConst(baud)
	if !ok {
		f.Close()
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("unsupported baud rate %d", baud)}
	}

	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CMSPAR | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | unix.PARENB | unix.CMSPAR
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	t.Ispeed = rate
	t.Ospeed = rate
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, &TransportError{Op: "open", Err: err}
	}

	return &SerialTransport{f: f, fd: fd}, nil
}

func baudConst(baud int) (uint32, bool) {
	switch baud {
	case 1200:
		return unix.B1200, true
	case 2400:
		return unix.B2400, true
	case 4800:
		return unix.B4800, true
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	default:
		return 0, false
	}
}

// setParityLocked flips the line to MARK (stick bit = 1, Address) or SPACE
// (stick bit = 0, Data) parity. Callers must hold s.mu; all parity
// transitions are serialized this way to avoid a race between a Send and a
// concurrent parity change landing mid-byte.
func (s *SerialTransport) setParityLocked(tag Tag) error {
	if s.haveCur && s.cur == tag {
		return nil
	}
	t, err := unix.IoctlGetTermios(s.fd, unix.TCGETS)
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	t.Cflag &^= unix.PARODD
	t.Cflag |= unix.PARENB | unix.CMSPAR
	if tag == TagAddress {
		t.Cflag |= unix.PARODD // stick bit fixed to 1: MARK
	}
	if err := unix.IoctlSetTermios(s.fd, unix.TCSETS, t); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	time.Sleep(settlingDelay)
	s.cur, s.haveCur = tag, true
	return nil
}

func (s *SerialTransport) Send(fb FrameByte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setParityLocked(fb.Tag); err != nil {
		return err
	}
	if _, err := s.f.Write([]byte{fb.Value}); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// SendMany coalesces a run of Data bytes into one parity-set plus one write;
// Address bytes are written individually.
func (s *SerialTransport) SendMany(seq []FrameByte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(seq); {
		fb := seq[i]
		if fb.Tag == TagAddress {
			if err := s.setParityLocked(TagAddress); err != nil {
				return err
			}
			if _, err := s.f.Write([]byte{fb.Value}); err != nil {
				return &TransportError{Op: "send", Err: err}
			}
			i++
			continue
		}
		j := i
		var buf []byte
		for j < len(seq) && seq[j].Tag == TagData {
			buf = append(buf, seq[j].Value)
			j++
		}
		if err := s.setParityLocked(TagData); err != nil {
			return err
		}
		if _, err := s.f.Write(buf); err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		i = j
	}
	return nil
}

// Recv reads one byte within timeout. On hosts where the ninth bit cannot be
// read back reliably (the common case for stick-parity receive), the tag is
// always reported as Data; the Session infers Address framing itself.
func (s *SerialTransport) Recv(timeout time.Duration) (FrameByte, error) {
	if err := s.f.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return FrameByte{}, &TransportError{Op: "recv", Err: err}
	}
	buf := make([]byte, 1)
	n, err := s.f.Read(buf)
	if err != nil {
		if os.IsTimeout(err) {
			return FrameByte{}, ErrRecvTimeout
		}
		return FrameByte{}, &TransportError{Op: "recv", Err: err}
	}
	if n == 0 {
		return FrameByte{}, ErrRecvTimeout
	}
	return Data(buf[0]), nil
}

func (s *SerialTransport) Drain() {
	s.f.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 256)
	for {
		n, err := s.f.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
