package profile

import (
	"encoding/binary"

	"gnss-bridge/internal/ubx"
)

// CFG-SIGNAL enable keys, in the order they appear in every GNSS block.
var gnssKeys = [14]uint32{
	0x10310001, // GPS L1C/A
	0x10310005, // SBAS L1C/A
	0x10310007, // Galileo E1
	0x1031000D, // BeiDou B1I
	0x1031000F, // BeiDou B1C
	0x10310012, // QZSS L1C/A
	0x10310014, // QZSS L1S
	0x10310018, // GLONASS L1
	0x1031001F, // GPS ena
	0x10310020, // SBAS ena
	0x10310021, // Galileo ena
	0x10310022, // BeiDou ena
	0x10310024, // QZSS ena
	0x10310025, // GLONASS ena
}

type builtin struct {
	seq     ubx.Sequence
	targets []ubx.KeyValue
}

var builtins = [...]builtin{
	FullSystems:          gnssProfile([14]byte{1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}),
	GlonassBeiDouGalileo: gnssProfile([14]byte{0, 1, 1, 0, 1, 0, 1, 1, 0, 1, 1, 1, 0, 1}),
	GlonassOnly:          gnssProfile([14]byte{0, 0, 0, 0, 0, 0, 1, 1, 0, 0, 0, 0, 0, 1}),
}

// gnssProfile builds a version 1 CFG-VALSET (RAM, no transaction) carrying
// every GNSS key, plus the matching read-back table.
func gnssProfile(bits [14]byte) builtin {
	payload := []byte{0x01, ubx.LayerRAM, 0x00, 0x00}
	targets := make([]ubx.KeyValue, 0, len(gnssKeys))
	for i, key := range gnssKeys {
		payload = binary.LittleEndian.AppendUint32(payload, key)
		payload = append(payload, bits[i])
		targets = append(targets, ubx.KeyValue{Key: key, Value: bits[i]})
	}
	cmd, err := ubx.Encode(ubx.ClassCFG, ubx.IDCfgValSet, payload)
	if err != nil {
		panic(err)
	}
	return builtin{seq: ubx.Sequence{cmd}, targets: targets}
}

// Navigation defaults written to RAM and to battery backed RAM.
var defaultSettingsValues = []ubx.CfgValue{
	{Key: 0x50360006, Value: 0},   // CFG-SBAS-PRNSCANMASK
	{Key: 0x20110021, Value: 4},   // CFG-NAVSPG-DYNMODEL automotive
	{Key: 0x10230001, Value: 1},   // CFG-ANA-USE_ANA
	{Key: 0x1041000D, Value: 1},   // CFG-ITFM-ENABLE
	{Key: 0x20410001, Value: 8},   // CFG-ITFM-BBTHRESHOLD
	{Key: 0x20410002, Value: 8},   // CFG-ITFM-CWTHRESHOLD
	{Key: 0x30210001, Value: 150}, // CFG-RATE-MEAS
}

var defaultSettingsSequence = func() ubx.Sequence {
	var seq ubx.Sequence
	for _, layer := range []byte{ubx.LayerRAM, ubx.LayerBBR} {
		cmd, err := ubx.ValSet(layer, defaultSettingsValues...)
		if err != nil {
			panic(err)
		}
		seq = append(seq, cmd)
	}
	return seq
}()

// BuiltinSequence returns the command sequence of a built-in constellation
// profile, or nil for Custom.
func BuiltinSequence(c Constellation) ubx.Sequence {
	if int(c) >= len(builtins) {
		return nil
	}
	return builtins[c].seq
}

// BuiltinTargets returns the read-back table of a built-in profile.
func BuiltinTargets(c Constellation) []ubx.KeyValue {
	if int(c) >= len(builtins) {
		return nil
	}
	return builtins[c].targets
}

// DefaultSettingsSequence is the RAM then BBR settings write.
func DefaultSettingsSequence() ubx.Sequence {
	return defaultSettingsSequence
}
