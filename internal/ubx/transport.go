package ubx

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Protocol timing.
const (
	AckTimeout        = 600 * time.Millisecond
	ResponseTimeout   = 1200 * time.Millisecond
	InterCommandDelay = 30 * time.Millisecond
	DrainWindow       = 50 * time.Millisecond
	PowerUpSettle     = 250 * time.Millisecond

	pollInterval = time.Millisecond
)

var (
	ErrTimeout = errors.New("ubx: timeout")
	ErrNak     = errors.New("ubx: command rejected")
)

// Port is the byte stream to the receiver. Read must not block: it returns
// 0 bytes (and a nil error or io.EOF) when nothing is waiting.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Stats counts transport events since creation.
type Stats struct {
	Frames   uint64
	Resyncs  uint64
	Acks     uint64
	Naks     uint64
	Timeouts uint64
}

// Transport exchanges UBX frames with the receiver. All waits are blocking
// polls bounded by a wall-clock timeout; none of them can be cancelled.
//
// A Transport is not safe for concurrent use.
type Transport struct {
	port   Port
	parser Parser
	log    zerolog.Logger

	now   func() time.Time
	sleep func(time.Duration)

	buf     [128]byte
	pending []byte

	acks, naks, timeouts uint64
}

type Option func(*Transport)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time, sleep func(time.Duration)) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

func NewTransport(port Port, opts ...Option) *Transport {
	t := &Transport{
		port:  port,
		log:   zerolog.Nop(),
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Sleep waits d using the transport clock.
func (t *Transport) Sleep(d time.Duration) {
	t.sleep(d)
}

// SendExpectingAck writes cmd and waits for the ACK-ACK or ACK-NAK naming
// its class and id. It returns nil, ErrNak or ErrTimeout. There is no retry.
func (t *Transport) SendExpectingAck(cmd Command, timeout time.Duration) error {
	if len(cmd) < MinCommandSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidCommand, len(cmd))
	}
	if err := t.write(cmd); err != nil {
		return err
	}
	var nak bool
	err := t.poll(timeout, func(f *Frame) bool {
		if f.Class != ClassACK || f.Stored < 2 {
			return false
		}
		if f.Payload[0] != cmd.Class() || f.Payload[1] != cmd.ID() {
			return false
		}
		switch f.ID {
		case IDAckAck:
			return true
		case IDAckNak:
			nak = true
			return true
		}
		return false
	})
	if err != nil {
		t.log.Debug().Uint8("class", cmd.Class()).Uint8("id", cmd.ID()).Msg("ack timeout")
		return err
	}
	if nak {
		t.naks++
		return fmt.Errorf("%w: class=0x%02X id=0x%02X", ErrNak, cmd.Class(), cmd.ID())
	}
	t.acks++
	return nil
}

// WaitForFrame returns a copy of the first frame with the given class and id.
// Other frames are skipped.
func (t *Transport) WaitForFrame(class, id byte, timeout time.Duration) (*Frame, error) {
	var out Frame
	err := t.poll(timeout, func(f *Frame) bool {
		if f.Class == class && f.ID == id {
			out = *f
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Request writes cmd and waits for the response frame class/id.
func (t *Transport) Request(cmd Command, class, id byte, timeout time.Duration) (*Frame, error) {
	if err := t.write(cmd); err != nil {
		return nil, err
	}
	return t.WaitForFrame(class, id, timeout)
}

// Probe checks the link with a MON-VER poll.
func (t *Transport) Probe() error {
	f, err := t.Request(PingCommand, ClassMON, IDMonVer, ResponseTimeout)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	t.log.Debug().Int("len", int(f.Length)).Msg("receiver answered MON-VER")
	return nil
}

// Drain reads and discards input for window, then drops parser state.
func (t *Transport) Drain(window time.Duration) {
	deadline := t.now().Add(window)
	for t.now().Before(deadline) {
		n, _ := t.port.Read(t.buf[:])
		if n == 0 {
			t.sleep(pollInterval)
		}
	}
	t.Reset()
}

// Reset drops buffered input and any partial frame.
func (t *Transport) Reset() {
	t.pending = t.pending[:0]
	t.parser.Reset()
}

func (t *Transport) Stats() Stats {
	ps := t.parser.Stats()
	return Stats{
		Frames:   ps.Frames,
		Resyncs:  ps.Resyncs,
		Acks:     t.acks,
		Naks:     t.naks,
		Timeouts: t.timeouts,
	}
}

func (t *Transport) write(cmd Command) error {
	n, err := t.port.Write(cmd)
	if err != nil {
		return fmt.Errorf("ubx: write: %w", err)
	}
	if n != len(cmd) {
		return fmt.Errorf("ubx: short write %d/%d", n, len(cmd))
	}
	return nil
}

// poll feeds received bytes to the parser and hands every complete frame to
// match until match returns true or timeout elapses. Bytes after the matched
// frame stay buffered for the next call.
func (t *Transport) poll(timeout time.Duration, match func(*Frame) bool) error {
	deadline := t.now().Add(timeout)
	for {
		if len(t.pending) == 0 {
			if !t.now().Before(deadline) {
				t.timeouts++
				return ErrTimeout
			}
			n, err := t.port.Read(t.buf[:])
			if err != nil && !errors.Is(err, io.EOF) {
				t.log.Debug().Err(err).Msg("read")
			}
			if n == 0 {
				t.sleep(pollInterval)
				continue
			}
			t.pending = append(t.pending[:0], t.buf[:n]...)
		}

		for len(t.pending) > 0 {
			b := t.pending[0]
			t.pending = t.pending[1:]
			switch t.parser.Push(b) {
			case Complete:
				f := t.parser.Frame()
				if match(f) {
					return nil
				}
				t.log.Debug().Uint8("class", f.Class).Uint8("id", f.ID).Msg("skip frame")
			case Resync:
				t.log.Debug().Msg("checksum mismatch, resync")
			}
		}
	}
}
