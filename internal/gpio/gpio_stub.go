//go:build !linux || (!arm && !arm64)

package gpio

import (
	"fmt"
	"io"
	"time"
)

// Stub implementation for non-Linux and/or non-ARM platforms.
func openOutput(pin, initial int, consumer string) (outputLine, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

func watchRising(pin int, consumer string, fn func(time.Time)) (io.Closer, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}

var (
	openOutputFn  = openOutput
	watchRisingFn = watchRising
)
