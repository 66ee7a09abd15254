// Package status holds the device status code shown by the indicator and
// the PPS pulse flag raised by the GPIO edge handler.
package status

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Code uint8

const (
	Booting Code = 1
	NoFix   Code = 2
	FixSync Code = 3
	NoModem Code = 4
	Ready   Code = 5
)

// BootDuration is how long Booting is held after start.
const BootDuration = 3 * time.Second

func (c Code) String() string {
	switch c {
	case Booting:
		return "booting"
	case NoFix:
		return "no_fix"
	case FixSync:
		return "fix_sync"
	case NoModem:
		return "no_modem"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("status(%d)", uint8(c))
	}
}

func (c Code) describe() string {
	switch c {
	case Booting:
		return "boot"
	case NoFix:
		return "no fix"
	case FixSync:
		return "fix with pps"
	case NoModem:
		return "modem lost"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Indicator is the status state holder. Status and SetStatus may be called
// from any goroutine. OnPPS is the only method the edge handler calls.
type Indicator struct {
	log zerolog.Logger

	mu       sync.Mutex
	code     Code
	boot     time.Time
	onChange func(Code)

	pps       atomic.Bool
	lastPulse atomic.Int64
	pulses    atomic.Uint64
}

// NewIndicator starts in Booting at now.
func NewIndicator(now time.Time, log zerolog.Logger) *Indicator {
	log.Info().Str("status", Booting.describe()).Msg("status set")
	return &Indicator{
		log:  log,
		code: Booting,
		boot: now,
	}
}

// OnChange registers a callback invoked after every status change. It runs
// on the goroutine that changed the status.
func (i *Indicator) OnChange(fn func(Code)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.onChange = fn
}

func (i *Indicator) Status() Code {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.code
}

func (i *Indicator) SetStatus(c Code) {
	i.mu.Lock()
	if i.code == c {
		i.mu.Unlock()
		return
	}
	i.code = c
	fn := i.onChange
	i.mu.Unlock()

	i.log.Info().Str("status", c.describe()).Uint8("code", uint8(c)).Msg("status set")
	if fn != nil {
		fn(c)
	}
}

// Update ends the boot override once BootDuration has passed and consumes
// the PPS flag.
func (i *Indicator) Update(now time.Time) {
	i.mu.Lock()
	expired := i.code == Booting && now.Sub(i.boot) >= BootDuration
	i.mu.Unlock()
	if expired {
		i.SetStatus(NoFix)
	}
	if i.TakePPS() {
		i.pulses.Add(1)
	}
}

// OnPPS records one pulse. Safe to call from the edge event goroutine.
func (i *Indicator) OnPPS(at time.Time) {
	i.lastPulse.Store(at.UnixNano())
	i.pps.Store(true)
}

// TakePPS reports whether a pulse arrived since the last call and clears it.
func (i *Indicator) TakePPS() bool {
	return i.pps.Swap(false)
}

// LastPulse is the time of the most recent PPS edge, zero if none.
func (i *Indicator) LastPulse() time.Time {
	n := i.lastPulse.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Pulses counts PPS pulses consumed by Update.
func (i *Indicator) Pulses() uint64 {
	return i.pulses.Load()
}
