//go:build linux && (arm || arm64)

package gpio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// requestLine finds BCM GPIO pin on any gpiochip and requests it.
func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if pin <= 0 {
		return nil, nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}

	// On Pi, line names are commonly "GPIO18", etc.
	lineName := fmt.Sprintf("GPIO%d", pin)

	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g.line == nil {
		return fmt.Errorf("gpio: line not initialized")
	}
	return g.line.SetValue(v)
}

func (g *gpiodLine) Close() error {
	if g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}

func openOutput(pin, initial int, consumer string) (outputLine, error) {
	chip, line, err := requestLine(pin, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

func watchRising(pin int, consumer string, fn func(time.Time)) (io.Closer, error) {
	handler := func(evt gpiocdev.LineEvent) {
		if evt.Type == gpiocdev.LineEventRisingEdge {
			fn(time.Now())
		}
	}
	chip, line, err := requestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(handler),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, err
	}
	return &gpiodLine{chip: chip, line: line}, nil
}

var (
	openOutputFn  = openOutput
	watchRisingFn = watchRising
)
