package ubx

import (
	"encoding/binary"
	"fmt"
)

// Configuration layers for CFG-VALSET.
const (
	LayerRAM   byte = 0x01
	LayerBBR   byte = 0x02
	LayerFlash byte = 0x04
)

// ValGetLayerRAM selects the RAM layer in a CFG-VALGET poll.
const ValGetLayerRAM byte = 0x00

// KeyMask clears the reserved bits (31, 24..27, 12..15) of a configuration
// key id.
const KeyMask uint32 = 0x70FF0FFF

// KeyValue is one verification target: the first value byte expected for key.
type KeyValue struct {
	Key   uint32
	Value byte
}

// CfgValue is one key/value item of a CFG-VALSET message.
type CfgValue struct {
	Key   uint32
	Value uint64
}

// KeySize returns the value storage size in bytes encoded in key bits 28..30.
func KeySize(key uint32) int {
	switch (key >> 28) & 0x7 {
	case 1, 2:
		return 1
	case 3:
		return 2
	case 4:
		return 4
	case 5:
		return 8
	default:
		return 0
	}
}

// ValSet builds a version 0 CFG-VALSET command for the given layers.
func ValSet(layers byte, values ...CfgValue) (Command, error) {
	payload := []byte{0x00, layers, 0x00, 0x00}
	for _, v := range values {
		size := KeySize(v.Key)
		if size == 0 {
			return nil, fmt.Errorf("ubx: key 0x%08X has no valid size", v.Key)
		}
		payload = binary.LittleEndian.AppendUint32(payload, v.Key)
		for i := 0; i < size; i++ {
			payload = append(payload, byte(v.Value>>(8*i)))
		}
	}
	return Encode(ClassCFG, IDCfgValSet, payload)
}

// ValGet builds a CFG-VALGET poll for a single key.
func ValGet(layer byte, key uint32) Command {
	payload := make([]byte, 8)
	payload[0] = 0x00
	payload[1] = layer
	binary.LittleEndian.PutUint32(payload[4:], key&KeyMask)
	return mustEncode(ClassCFG, IDCfgValGet, payload)
}

// valGetResponse returns the first value byte of a CFG-VALGET response if the
// frame answers key.
func valGetResponse(f *Frame, key uint32) (byte, bool) {
	if f.Class != ClassCFG || f.ID != IDCfgValGet || f.Stored < 9 {
		return 0, false
	}
	got := binary.LittleEndian.Uint32(f.Payload[4:8])
	if got&KeyMask != key&KeyMask {
		return 0, false
	}
	return f.Payload[8], true
}
