// Package serialport opens the receiver UART and the host console as
// non-blocking byte ports: Read returns 0 bytes instead of waiting.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// Supported rate range for the receiver link.
const (
	MinBaud = 4800
	MaxBaud = 921600
)

// StandardBauds are the rates every backend can set. Termios has no
// constant for anything in between.
var StandardBauds = []int{4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 500000, 576000, 921600}

// Supported reports whether baud is one of StandardBauds.
func Supported(baud int) bool { return slices.Contains(StandardBauds, baud) }

var ErrClosed = errors.New("serialport: closed")

// Port is a non-blocking 8N1 serial port.
type Port interface {
	io.ReadWriteCloser
	// SetBaud reconfigures the line rate and discards pending input.
	SetBaud(baud int) error
	// Flush discards pending input.
	Flush() error
}

// Open opens the receiver UART. Linux uses termios directly; other platforms
// go through go-serial with a read pump.
func Open(path string, baud int) (Port, error) {
	if path == "" {
		return nil, fmt.Errorf("serialport: device path is required")
	}
	if !Supported(baud) {
		return nil, fmt.Errorf("serialport: unsupported baud %d", baud)
	}
	return openNative(path, baud)
}
