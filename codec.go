package rcu9

import "errors"

// ErrRecvTimeout is returned by a frameReader when no byte arrives within the
// caller-supplied deadline. The Session treats this distinctly from a
// FramingError: no protocol violation occurred, the bus was simply silent.
var ErrRecvTimeout = errors.New("rcu9: receive timeout")

// frameReader pulls one tagged byte at a time, blocking up to an
// implementation-defined deadline. The Session builds one as a closure over
// its recv wrapper, bound to its ResponseDeadline.
type frameReader func() (FrameByte, error)

// ParamRecord is one decoded `0x00 IDX [HI] LO` group from a data packet
// payload, with the raw bits assembled big-endian but not yet scaled or
// projected through bitfields — that is the Registry's job.
type ParamRecord struct {
	Index   byte
	Size    int // 1 or 2, resolved via the Registry (or UnknownWidth fallback)
	Raw     uint16
	Unknown bool // true if Index was absent from the Registry
}

// xorChecksum computes the XOR of every byte in buf: CHK = XOR(0xC0 ..
// last payload byte).
func xorChecksum(buf []byte) byte {
	var chk byte
	for _, b := range buf {
		chk ^= b
	}
	return chk
}

// DecodeDataPacket reads CMD_DATA, the 0x00/sender header, LEN, the LEN
// payload bytes and CHK from next, validating framing, addressing and
// checksum. On success it returns the sender address and the raw payload
// (not yet parsed into parameter records — see ParseParameters).
func DecodeDataPacket(next frameReader) (sender byte, payload []byte, err error) {
	fb, err := next()
	if err != nil {
		return 0, nil, err
	}
	if fb != CmdData {
		return 0, nil, &FramingError{Want: cmdDataByte, Got: fb.Value}
	}

	fb, err = next()
	if err != nil {
		return 0, nil, err
	}
	if fb != Data(pollLead) {
		return 0, nil, &FramingError{Want: pollLead, Got: fb.Value}
	}

	fb, err = next()
	if err != nil {
		return 0, nil, err
	}
	if fb.Tag != TagData {
		return 0, nil, &FramingError{Want: MasterAddr, Got: fb.Value}
	}
	sender = fb.Value
	if sender != MasterAddr {
		return 0, nil, &AddressingError{Want: MasterAddr, Got: sender}
	}

	fb, err = next()
	if err != nil {
		return 0, nil, err
	}
	if fb.Tag != TagData {
		return 0, nil, &FramingError{Want: 0, Got: fb.Value}
	}
	length := fb.Value

	header := []byte{cmdDataByte, pollLead, sender, length}
	payload = make([]byte, length)
	for i := range payload {
		fb, err = next()
		if err != nil {
			return 0, nil, err
		}
		if fb.Tag != TagData {
			return 0, nil, &FramingError{Want: 0, Got: fb.Value}
		}
		payload[i] = fb.Value
	}

	fb, err = next()
	if err != nil {
		return 0, nil, err
	}
	if fb.Tag != TagData {
		return 0, nil, &FramingError{Want: 0, Got: fb.Value}
	}
	want := xorChecksum(append(header, payload...))
	if fb.Value != want {
		return 0, nil, &ChecksumError{Want: fb.Value, Got: want}
	}
	return sender, payload, nil
}

// ParseParameters walks a decoded payload as repeated groups of one 0x00
// separator, one index byte and size(index) value bytes, big-endian
// assembled. Unknown indices default to reg.UnknownWidth.
func ParseParameters(payload []byte, reg *Registry) ([]ParamRecord, error) {
	var records []ParamRecord
	for i := 0; i < len(payload); {
		if payload[i] != pollLead {
			return records, &FramingError{Want: pollLead, Got: payload[i]}
		}
		i++
		if i >= len(payload) {
			return records, &FramingError{Want: 0, Got: 0}
		}
		idx := payload[i]
		i++

		size, unknown := reg.sizeOf(idx)
		if i+size > len(payload) {
			return records, &FramingError{Want: 0, Got: 0}
		}

		var raw uint16
		if size == 2 {
			raw = uint16(payload[i])<<8 | uint16(payload[i+1])
		} else {
			raw = uint16(payload[i])
		}
		i += size

		records = append(records, ParamRecord{Index: idx, Size: size, Raw: raw, Unknown: unknown})
	}
	return records, nil
}

// EncodeWritePacket builds an RCU-originated write packet: 0xC0 00 RCU_ADDR
// LEN 0x00 IDX [HI] LO CHK, carrying exactly one parameter.
func EncodeWritePacket(idx byte, size int, raw uint16) []byte {
	var valueBytes []byte
	if size == 2 {
		valueBytes = []byte{byte(raw >> 8), byte(raw)}
	} else {
		valueBytes = []byte{byte(raw)}
	}

	length := byte(2 + len(valueBytes)) // 0x00, IDX, value bytes
	body := make([]byte, 0, 4+len(valueBytes))
	body = append(body, cmdDataByte, pollLead, RCUAddr, length, pollLead, idx)
	body = append(body, valueBytes...)
	chk := xorChecksum(body)
	return append(body, chk)
}
