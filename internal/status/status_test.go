package status

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootOverrideExpires(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	ind := NewIndicator(t0, zerolog.Nop())
	require.Equal(t, Booting, ind.Status())

	ind.Update(t0.Add(2999 * time.Millisecond))
	assert.Equal(t, Booting, ind.Status())

	ind.Update(t0.Add(BootDuration))
	assert.Equal(t, NoFix, ind.Status())
}

func TestUpdateLeavesOtherStatus(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	ind := NewIndicator(t0, zerolog.Nop())
	ind.SetStatus(Ready)
	ind.Update(t0.Add(time.Minute))
	assert.Equal(t, Ready, ind.Status())
}

func TestOnChange(t *testing.T) {
	ind := NewIndicator(time.Now(), zerolog.Nop())
	var got []Code
	ind.OnChange(func(c Code) { got = append(got, c) })

	ind.SetStatus(NoModem)
	ind.SetStatus(NoModem)
	ind.SetStatus(FixSync)
	assert.Equal(t, []Code{NoModem, FixSync}, got)
}

func TestPPSFlag(t *testing.T) {
	ind := NewIndicator(time.Now(), zerolog.Nop())
	assert.False(t, ind.TakePPS())
	assert.True(t, ind.LastPulse().IsZero())

	at := time.Unix(1_700_000_001, 5)
	ind.OnPPS(at)
	assert.True(t, at.Equal(ind.LastPulse()))
	assert.True(t, ind.TakePPS())
	assert.False(t, ind.TakePPS())

	ind.OnPPS(at)
	ind.Update(time.Now())
	assert.Equal(t, uint64(1), ind.Pulses())
	assert.False(t, ind.TakePPS())
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "no_modem", NoModem.String())
	assert.Equal(t, "status(9)", Code(9).String())
}
