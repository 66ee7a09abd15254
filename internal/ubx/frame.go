// Package ubx implements the subset of the u-blox UBX binary protocol used to
// configure the receiver: framing, ACK/NAK correlated commands, ordered
// command sequences and CFG-VALGET read-back verification.
package ubx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Sync1 = 0xB5
	Sync2 = 0x62

	// MaxPayload is the decode buffer capacity. Longer payloads are still
	// framed and checksummed, but only the first MaxPayload bytes are kept.
	MaxPayload = 196

	// MinCommandSize is sync(2) + class + id + length(2) + checksum(2).
	MinCommandSize = 8

	// MaxCommandSize bounds one outbound frame, including user supplied ones.
	MaxCommandSize = 256
)

// Message classes and ids.
const (
	ClassACK byte = 0x05
	ClassCFG byte = 0x06
	ClassMON byte = 0x0A

	IDAckNak    byte = 0x00
	IDAckAck    byte = 0x01
	IDCfgValSet byte = 0x8A
	IDCfgValGet byte = 0x8B
	IDMonVer    byte = 0x04
)

var (
	ErrPayloadTooLarge = errors.New("ubx: payload too large")
	ErrInvalidCommand  = errors.New("ubx: invalid command")
)

// Frame is one checksum-validated inbound message.
type Frame struct {
	Class   byte
	ID      byte
	Length  uint16
	Payload [MaxPayload]byte
	// Stored is the number of payload bytes kept in Payload.
	Stored int
}

// Data returns the stored part of the payload.
func (f *Frame) Data() []byte {
	return f.Payload[:f.Stored]
}

// Truncated reports whether the payload did not fit the decode buffer.
func (f *Frame) Truncated() bool {
	return int(f.Length) > f.Stored
}

// Command is one fully formed outbound frame: sync, class, id, length,
// payload and checksum.
type Command []byte

func (c Command) Class() byte {
	if len(c) < 4 {
		return 0
	}
	return c[2]
}

func (c Command) ID() byte {
	if len(c) < 4 {
		return 0
	}
	return c[3]
}

// Validate checks sync bytes, the length field and the checksum.
func (c Command) Validate() error {
	if len(c) < MinCommandSize {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidCommand, len(c), MinCommandSize)
	}
	if len(c) > MaxCommandSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidCommand, len(c), MaxCommandSize)
	}
	if c[0] != Sync1 || c[1] != Sync2 {
		return fmt.Errorf("%w: missing sync bytes", ErrInvalidCommand)
	}
	n := int(binary.LittleEndian.Uint16(c[4:6]))
	if n+MinCommandSize != len(c) {
		return fmt.Errorf("%w: length field %d does not match %d payload bytes", ErrInvalidCommand, n, len(c)-MinCommandSize)
	}
	ckA, ckB := Checksum(c[2 : len(c)-2])
	if ckA != c[len(c)-2] || ckB != c[len(c)-1] {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidCommand)
	}
	return nil
}

// Sequence is an ordered list of commands. An empty sequence is a no-op.
type Sequence []Command

// Checksum computes the 8-bit Fletcher checksum over class..payload.
func Checksum(data []byte) (ckA, ckB byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// Encode builds a complete frame for class/id with the given payload.
func Encode(class, id byte, payload []byte) (Command, error) {
	if len(payload) > MaxCommandSize-MinCommandSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, 0, MinCommandSize+len(payload))
	buf = append(buf, Sync1, Sync2, class, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	ckA, ckB := Checksum(buf[2:])
	buf = append(buf, ckA, ckB)
	return Command(buf), nil
}

func mustEncode(class, id byte, payload []byte) Command {
	c, err := Encode(class, id, payload)
	if err != nil {
		panic(err)
	}
	return c
}
