package gpio

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLine struct {
	values []int
	closed bool
}

func (f *fakeLine) SetValue(v int) error {
	f.values = append(f.values, v)
	return nil
}

func (f *fakeLine) Close() error {
	f.closed = true
	return nil
}

func withFakes(t *testing.T, line *fakeLine) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	oldOpen, oldSleep := openOutputFn, sleepFn
	openOutputFn = func(pin, initial int, consumer string) (outputLine, error) {
		if pin <= 0 {
			return nil, errors.New("bad pin")
		}
		line.values = append(line.values, initial)
		return line, nil
	}
	sleepFn = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() {
		openOutputFn, sleepFn = oldOpen, oldSleep
	})
	return &slept
}

func TestPowerLineCycle(t *testing.T) {
	line := &fakeLine{}
	slept := withFakes(t, line)

	p, err := OpenPowerLine(17)
	require.NoError(t, err)
	require.NoError(t, p.Cycle(100*time.Millisecond))

	assert.Equal(t, []int{1, 0, 1}, line.values)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, *slept)

	require.NoError(t, p.Close())
	assert.True(t, line.closed)
	assert.Error(t, p.On())
	require.NoError(t, p.Close())
}

func TestOpenPowerLineError(t *testing.T) {
	withFakes(t, &fakeLine{})
	_, err := OpenPowerLine(0)
	require.Error(t, err)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func TestWatchPPS(t *testing.T) {
	old := watchRisingFn
	t.Cleanup(func() { watchRisingFn = old })

	var edge func(time.Time)
	watchRisingFn = func(pin int, consumer string, fn func(time.Time)) (io.Closer, error) {
		edge = fn
		return nopCloser{}, nil
	}

	var pulses int
	c, err := WatchPPS(18, func(time.Time) { pulses++ })
	require.NoError(t, err)
	defer c.Close()

	edge(time.Now())
	edge(time.Now())
	assert.Equal(t, 2, pulses)
}
