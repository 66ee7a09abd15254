package main

import (
	"context"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/profile"
	"gnss-bridge/internal/ubx"
)

// control runs web requests on the engine loop. Mode changes go straight
// to the mode service; the engine picks them up on its next tick.
type control struct {
	loop  *gps.Loop
	modes *mode.Service
}

type applyResult struct {
	rep gps.ApplyReport
	err error
}

// call runs fn on the loop. The result travels over a buffered channel so
// a request abandoned by ctx never shares memory with the loop goroutine.
func call[T any](ctx context.Context, l *gps.Loop, fn func(*gps.Engine) T) (T, error) {
	ch := make(chan T, 1)
	if err := l.Do(ctx, func(e *gps.Engine) { ch <- fn(e) }); err != nil {
		var zero T
		return zero, err
	}
	return <-ch, nil
}

func (c *control) SetProfile(ctx context.Context, p profile.Constellation) (gps.ApplyReport, error) {
	res, err := call(ctx, c.loop, func(e *gps.Engine) applyResult {
		rep, err := e.SetProfile(p)
		return applyResult{rep, err}
	})
	if err != nil {
		return gps.ApplyReport{}, err
	}
	return res.rep, res.err
}

func (c *control) SetSettingsProfile(ctx context.Context, s profile.Settings) (gps.ApplyReport, error) {
	res, err := call(ctx, c.loop, func(e *gps.Engine) applyResult {
		rep, err := e.SetSettingsProfile(s)
		return applyResult{rep, err}
	})
	if err != nil {
		return gps.ApplyReport{}, err
	}
	return res.rep, res.err
}

func (c *control) SetCustomProfileCommand(ctx context.Context, cmd ubx.Command) error {
	return callErr(ctx, c.loop, func(e *gps.Engine) error { return e.SetCustomProfileCommand(cmd) })
}

func (c *control) SetCustomSettingsCommand(ctx context.Context, cmd ubx.Command) error {
	return callErr(ctx, c.loop, func(e *gps.Engine) error { return e.SetCustomSettingsCommand(cmd) })
}

func (c *control) SetBaud(ctx context.Context, baud int) error {
	return callErr(ctx, c.loop, func(e *gps.Engine) error { return e.SetBaud(baud) })
}

func callErr(ctx context.Context, l *gps.Loop, fn func(*gps.Engine) error) error {
	err, derr := call(ctx, l, fn)
	if derr != nil {
		return derr
	}
	return err
}

func (c *control) SetMode(_ context.Context, m mode.Mode) (bool, error) {
	return c.modes.SetMode(m)
}
