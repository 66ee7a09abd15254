package ubx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumKnownFrame(t *testing.T) {
	a, b := Checksum([]byte{0x0A, 0x04, 0x00, 0x00})
	assert.Equal(t, byte(0x0E), a)
	assert.Equal(t, byte(0x34), b)
}

func TestBuiltinCommandsValidate(t *testing.T) {
	require.NoError(t, PingCommand.Validate())
	for _, seq := range []Sequence{DisableNMEA, EnableNMEA} {
		for _, cmd := range seq {
			require.NoError(t, cmd.Validate(), cmd.String())
		}
	}
}

func TestEncodeRejectsLargePayload(t *testing.T) {
	_, err := Encode(0x06, 0x8A, make([]byte, MaxCommandSize-MinCommandSize+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	cmd, err := Encode(0x06, 0x8A, make([]byte, MaxCommandSize-MinCommandSize))
	require.NoError(t, err)
	assert.Len(t, cmd, MaxCommandSize)
}

func TestValidate(t *testing.T) {
	good, _ := Encode(0x06, 0x8A, []byte{0, 1, 0, 0})

	cases := []struct {
		name string
		cmd  Command
	}{
		{"short", Command{0xB5, 0x62, 0x06}},
		{"no sync", append(Command{0xB4}, good[1:]...)},
		{"length", append(append(Command{}, good...), 0x00)},
		{"checksum", append(append(Command{}, good[:len(good)-1]...), good[len(good)-1]^0xFF)},
		{"oversize", make(Command, MaxCommandSize+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cmd.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidCommand))
		})
	}
}

func TestValSetMatchesBuiltin(t *testing.T) {
	cmd, err := ValSet(LayerRAM,
		CfgValue{Key: 0x10730002, Value: 0},
		CfgValue{Key: 0x10740002, Value: 0},
	)
	require.NoError(t, err)
	assert.Equal(t, DisableNMEA[0], cmd)
}

func TestValSetRejectsUnsizedKey(t *testing.T) {
	_, err := ValSet(LayerRAM, CfgValue{Key: 0x00000001})
	require.Error(t, err)
}

func TestKeySize(t *testing.T) {
	assert.Equal(t, 1, KeySize(0x10310001))
	assert.Equal(t, 1, KeySize(0x20110021))
	assert.Equal(t, 2, KeySize(0x30210001))
	assert.Equal(t, 4, KeySize(0x40520001))
	assert.Equal(t, 8, KeySize(0x50000000))
	assert.Equal(t, 0, KeySize(0x00000000))
}

func TestValGetEncodesMaskedKey(t *testing.T) {
	cmd := ValGet(ValGetLayerRAM, 0xFF31F001)
	require.NoError(t, cmd.Validate())
	assert.Equal(t, ClassCFG, cmd.Class())
	assert.Equal(t, IDCfgValGet, cmd.ID())
	assert.Equal(t, []byte{0x01, 0xF0 & 0x0F, 0x31, 0x70 & 0xFF}, []byte(cmd[10:14]))
}

func TestParseHex(t *testing.T) {
	cmd, err := ParseHex("B5 62 0a 04 00 00 0E 34")
	require.NoError(t, err)
	assert.Equal(t, PingCommand, cmd)

	cmd, err = ParseHex("0xB5,0x62,0x0A,0x04,0x00,0x00,0x0E,0x34")
	require.NoError(t, err)
	assert.Equal(t, PingCommand, cmd)

	cmd, err = ParseHex("B5:62:0A:04:00:00:0E:34\n")
	require.NoError(t, err)
	assert.Equal(t, PingCommand, cmd)

	for _, bad := range []string{"", "B5 6", "zz", "B5 62 0A 04 00 00 0E 35"} {
		_, err := ParseHex(bad)
		assert.ErrorIs(t, err, ErrInvalidCommand, bad)
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "B5 62 0A 04 00 00 0E 34", PingCommand.String())
}
