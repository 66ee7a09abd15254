// Package gpio drives the receiver enable line and watches the PPS input
// through the Linux GPIO character device.
package gpio

import (
	"fmt"
	"io"
	"sync"
	"time"
)

type outputLine interface {
	SetValue(v int) error
	Close() error
}

var sleepFn = time.Sleep

// PowerLine is the receiver enable output. High powers the receiver.
type PowerLine struct {
	mu   sync.Mutex
	line outputLine
}

// OpenPowerLine claims BCM GPIO pin as an output, initially high.
func OpenPowerLine(pin int) (*PowerLine, error) {
	line, err := openOutputFn(pin, 1, "gnss-bridge-power")
	if err != nil {
		return nil, err
	}
	return &PowerLine{line: line}, nil
}

func (p *PowerLine) set(v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return fmt.Errorf("gpio: power line closed")
	}
	return p.line.SetValue(v)
}

func (p *PowerLine) On() error  { return p.set(1) }
func (p *PowerLine) Off() error { return p.set(0) }

// Cycle drives the line low for off, then high again.
func (p *PowerLine) Cycle(off time.Duration) error {
	if err := p.Off(); err != nil {
		return err
	}
	sleepFn(off)
	return p.On()
}

// Close releases the line and leaves the receiver powered.
func (p *PowerLine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.line == nil {
		return nil
	}
	_ = p.line.SetValue(1)
	err := p.line.Close()
	p.line = nil
	return err
}

// WatchPPS calls onPulse for every rising edge on pin. The callback runs on
// the edge event goroutine and must not block.
func WatchPPS(pin int, onPulse func(time.Time)) (io.Closer, error) {
	return watchRisingFn(pin, "gnss-bridge-pps", onPulse)
}
