package profile

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnss-bridge/internal/store"
	"gnss-bridge/internal/ubx"
)

func TestBuiltinSequencesValidate(t *testing.T) {
	want := map[Constellation][2]byte{
		FullSystems:          {0xA9, 0xC3},
		GlonassBeiDouGalileo: {0xA5, 0x38},
		GlonassOnly:          {0x9F, 0x65},
	}
	for c, ck := range want {
		seq := BuiltinSequence(c)
		require.Len(t, seq, 1, c.String())
		cmd := seq[0]
		require.NoError(t, cmd.Validate())
		assert.Len(t, cmd, 82)
		assert.Equal(t, ck[0], cmd[len(cmd)-2], c.String())
		assert.Equal(t, ck[1], cmd[len(cmd)-1], c.String())
		assert.Len(t, BuiltinTargets(c), 14)
	}
	assert.Nil(t, BuiltinSequence(Custom))
	assert.Nil(t, BuiltinTargets(Custom))
}

func TestFullSystemsTargets(t *testing.T) {
	for _, kv := range BuiltinTargets(FullSystems) {
		if kv.Key == 0x1031000D {
			assert.Equal(t, byte(0), kv.Value)
			continue
		}
		assert.Equal(t, byte(1), kv.Value, "key 0x%08X", kv.Key)
	}
}

func TestDefaultSettingsSequence(t *testing.T) {
	seq := DefaultSettingsSequence()
	require.Len(t, seq, 2)
	for i, layer := range []byte{ubx.LayerRAM, ubx.LayerBBR} {
		require.NoError(t, seq[i].Validate())
		assert.Len(t, seq[i], 55)
		assert.Equal(t, layer, seq[i][7])
	}
	assert.Equal(t, []byte{0xF3, 0xCB}, []byte(seq[0][53:]))
	assert.Equal(t, []byte{0xF4, 0xF9}, []byte(seq[1][53:]))
}

func TestCharForm(t *testing.T) {
	assert.Equal(t, byte('2'), GlonassOnly.Char())
	c, ok := ConstellationFromChar('3')
	require.True(t, ok)
	assert.Equal(t, Custom, c)
	_, ok = ConstellationFromChar('4')
	assert.False(t, ok)
	_, ok = ConstellationFromChar('/')
	assert.False(t, ok)

	s, ok := SettingsFromChar('1')
	require.True(t, ok)
	assert.Equal(t, CustomRAM, s)
	_, ok = SettingsFromChar('2')
	assert.False(t, ok)
}

func TestDecode(t *testing.T) {
	c, ok := DecodeConstellation(2)
	assert.True(t, ok)
	assert.Equal(t, GlonassOnly, c)

	c, ok = DecodeConstellation(17)
	assert.False(t, ok)
	assert.Equal(t, FullSystems, c)

	s, ok := DecodeSettings(9)
	assert.False(t, ok)
	assert.Equal(t, DefaultRAMAndBBR, s)
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Constellation{
		"full":                   FullSystems,
		"GLONASS only":           GlonassOnly,
		"glonass-beidou-galileo": GlonassBeiDouGalileo,
		"3":                      Custom,
	} {
		got, err := ParseConstellation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseConstellation("gps-only")
	assert.Error(t, err)
	_, err = ParseConstellation("4")
	assert.Error(t, err)

	s, err := ParseSettings("custom")
	require.NoError(t, err)
	assert.Equal(t, CustomRAM, s)
	_, err = ParseSettings("flash")
	assert.Error(t, err)
}

func newManager(t *testing.T) (*Manager, store.Namespace) {
	t.Helper()
	ns := store.NewMemory().Namespace(Namespace)
	return NewManager(ns, zerolog.Nop()), ns
}

func TestLoadDefaults(t *testing.T) {
	m, _ := newManager(t)
	m.Load()
	assert.Equal(t, FullSystems, m.Constellation())
	assert.Equal(t, DefaultRAMAndBBR, m.Settings())
	assert.Empty(t, m.CustomProfileCommand())
}

func TestLoadInvalidFallsBack(t *testing.T) {
	m, ns := newManager(t)
	require.NoError(t, ns.PutUint8(KeyConstellation, 9))
	require.NoError(t, ns.PutUint8(KeySettings, 200))
	require.NoError(t, ns.PutBytes(KeyCustomProfile, []byte{0xB5, 0x62, 0x06}))
	m.Load()
	assert.Equal(t, FullSystems, m.Constellation())
	assert.Equal(t, DefaultRAMAndBBR, m.Settings())
	assert.Empty(t, m.CustomProfileCommand())
}

func TestSelectPersists(t *testing.T) {
	m, ns := newManager(t)
	require.NoError(t, m.SelectConstellation(GlonassOnly))
	require.NoError(t, m.SelectSettings(CustomRAM))

	b, ok := ns.Uint8(KeyConstellation)
	require.True(t, ok)
	assert.Equal(t, uint8(GlonassOnly), b)

	m2 := NewManager(ns, zerolog.Nop())
	m2.Load()
	assert.Equal(t, GlonassOnly, m2.Constellation())
	assert.Equal(t, CustomRAM, m2.Settings())

	require.ErrorIs(t, m.SelectConstellation(Constellation(7)), ErrInvalidProfile)
	assert.Equal(t, GlonassOnly, m.Constellation())
}

func TestCustomSlots(t *testing.T) {
	m, ns := newManager(t)

	err := m.SetCustomProfileCommand(ubx.Command{0xB5, 0x62, 0x06, 0x8A, 0x00, 0x00, 0x00, 0x00})
	require.ErrorIs(t, err, ubx.ErrInvalidCommand)

	cmd := ubx.DisableNMEA[0]
	require.NoError(t, m.SetCustomProfileCommand(cmd))
	assert.Equal(t, cmd, m.CustomProfileCommand())

	m2 := NewManager(ns, zerolog.Nop())
	m2.Load()
	assert.Equal(t, cmd, m2.CustomProfileCommand())

	require.NoError(t, m.SetCustomProfileCommand(nil))
	assert.Empty(t, m.CustomProfileCommand())
	_, ok := ns.Bytes(KeyCustomProfile)
	assert.False(t, ok)
}

func TestCustomFallback(t *testing.T) {
	m, _ := newManager(t)

	r := m.ConstellationSequence(Custom)
	assert.True(t, r.Substituted)
	assert.Equal(t, FullSystems.String(), r.Name)
	assert.Equal(t, BuiltinSequence(FullSystems), r.Sequence)
	assert.Equal(t, BuiltinTargets(FullSystems), m.VerificationTargets(Custom))

	s := m.SettingsSequence(CustomRAM)
	assert.True(t, s.Substituted)
	assert.Equal(t, DefaultSettingsSequence(), s.Sequence)
}

func TestCustomPopulated(t *testing.T) {
	m, _ := newManager(t)
	require.NoError(t, m.SetCustomProfileCommand(ubx.EnableNMEA[0]))
	require.NoError(t, m.SetCustomSettingsCommand(ubx.DisableNMEA[0]))

	r := m.ConstellationSequence(Custom)
	assert.False(t, r.Substituted)
	assert.Equal(t, "Custom", r.Name)
	assert.Equal(t, ubx.Sequence{ubx.EnableNMEA[0]}, r.Sequence)
	assert.Empty(t, m.VerificationTargets(Custom))

	s := m.SettingsSequence(CustomRAM)
	assert.False(t, s.Substituted)
	assert.Equal(t, ubx.Sequence{ubx.DisableNMEA[0]}, s.Sequence)

	// Built-in selections ignore the custom slots.
	assert.Equal(t, BuiltinSequence(GlonassOnly), m.ConstellationSequence(GlonassOnly).Sequence)
	assert.Equal(t, DefaultSettingsSequence(), m.SettingsSequence(DefaultRAMAndBBR).Sequence)
}
