package gps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DoRunsOnLoop(t *testing.T) {
	h := newHarness(t)
	l := NewLoop(h.e, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	var baud int
	err := l.Do(context.Background(), func(e *Engine) { baud = e.Baud() })
	require.NoError(t, err)
	assert.Equal(t, 115200, baud)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_DoHonoursContext(t *testing.T) {
	h := newHarness(t)
	l := NewLoop(h.e, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Do(ctx, func(*Engine) { t.Error("must not run") })
	require.ErrorIs(t, err, context.Canceled)
}
