package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jacobsa/go-serial/serial"
)

const pumpDepth = 64

// Pump turns a blocking stream into a Port. A goroutine reads chunks into a
// bounded channel; Read takes whatever has arrived and never waits. When the
// channel is full the reader goroutine blocks, which back-pressures the
// device rather than dropping bytes.
type Pump struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	ch     chan []byte
	done   chan struct{}
	rest   []byte
	err    error
	gen    int
	closed bool

	reopen func(baud int) (io.ReadWriteCloser, error)
}

// NewPump starts pumping rw. reopen, when set, is used by SetBaud.
func NewPump(rw io.ReadWriteCloser, reopen func(baud int) (io.ReadWriteCloser, error)) *Pump {
	p := &Pump{reopen: reopen}
	p.start(rw)
	return p
}

func openOptions(path string, baud int) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
}

// OpenPump opens path with go-serial.
func OpenPump(path string, baud int) (*Pump, error) {
	open := func(b int) (io.ReadWriteCloser, error) {
		return serial.Open(openOptions(path, b))
	}
	rw, err := open(baud)
	if err != nil {
		return nil, fmt.Errorf("serialport %s: %w", path, err)
	}
	return NewPump(rw, open), nil
}

// OpenConsole opens the host console: stdin/stdout for "" or "-", otherwise
// a serial device (for example a USB gadget tty).
func OpenConsole(path string, baud int) (*Pump, error) {
	if path == "" || path == "-" {
		return NewPump(stdio{}, nil), nil
	}
	return OpenPump(path, baud)
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

func (p *Pump) start(rw io.ReadWriteCloser) {
	ch := make(chan []byte, pumpDepth)
	done := make(chan struct{})
	p.rw = rw
	p.ch = ch
	p.done = done
	p.rest = nil
	p.gen++
	gen := p.gen
	go func() {
		defer close(ch)
		buf := make([]byte, 256)
		for {
			n, err := rw.Read(buf)
			if n > 0 {
				select {
				case ch <- append([]byte(nil), buf[:n]...):
				case <-done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.mu.Lock()
					if p.gen == gen {
						p.err = err
					}
					p.mu.Unlock()
				}
				return
			}
		}
	}()
}

func (p *Pump) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	n := 0
	for n < len(b) {
		if len(p.rest) == 0 {
			select {
			case chunk, ok := <-p.ch:
				if !ok {
					if n > 0 {
						return n, nil
					}
					if p.err != nil {
						return 0, p.err
					}
					return 0, io.EOF
				}
				p.rest = chunk
			default:
				return n, nil
			}
		}
		c := copy(b[n:], p.rest)
		p.rest = p.rest[c:]
		n += c
	}
	return n, nil
}

func (p *Pump) Write(b []byte) (int, error) {
	p.mu.Lock()
	rw, closed := p.rw, p.closed
	p.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return rw.Write(b)
}

func (p *Pump) SetBaud(baud int) error {
	if !Supported(baud) {
		return fmt.Errorf("serialport: unsupported baud %d", baud)
	}
	if p.reopen == nil {
		return fmt.Errorf("serialport: baud change not supported")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	close(p.done)
	_ = p.rw.Close()
	rw, err := p.reopen(baud)
	if err != nil {
		p.closed = true
		return err
	}
	p.err = nil
	p.start(rw)
	return nil
}

func (p *Pump) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rest = nil
	for {
		select {
		case _, ok := <-p.ch:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (p *Pump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return p.rw.Close()
}
