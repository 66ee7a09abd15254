// Package ubxtest provides a simulated u-blox receiver for tests.
package ubxtest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"gnss-bridge/internal/ubx"
)

// Message is one frame the receiver got from the host.
type Message struct {
	Class   byte
	ID      byte
	Payload []byte
}

// Receiver implements ubx.Port. Commands written to it are parsed and
// answered immediately: CFG-VALSET is applied to its RAM map and acknowledged,
// CFG-VALGET is answered from the RAM map (NAK for unknown keys) and MON-VER
// gets a version frame. Anything else is rejected with ACK-NAK.
type Receiver struct {
	mu       sync.Mutex
	parser   ubx.Parser
	out      []byte
	written  []byte
	messages []Message
	ram      map[uint32]uint64

	silent bool
	nak    map[[2]byte]bool
	mute   map[[2]byte]bool
	// override forces VALGET answers regardless of RAM.
	override map[uint32]byte
}

func NewReceiver() *Receiver {
	return &Receiver{
		ram:      make(map[uint32]uint64),
		nak:      make(map[[2]byte]bool),
		mute:     make(map[[2]byte]bool),
		override: make(map[uint32]byte),
	}
}

// SetSilent stops all answers, as if the receiver were unplugged.
func (r *Receiver) SetSilent(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = v
}

// NakMessage makes the receiver reject class/id.
func (r *Receiver) NakMessage(class, id byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nak[[2]byte{class, id}] = true
}

// MuteMessage makes the receiver ignore class/id without answering.
func (r *Receiver) MuteMessage(class, id byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mute[[2]byte{class, id}] = true
}

// ForceValue makes VALGET for key answer value no matter what was set.
func (r *Receiver) ForceValue(key uint32, value byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.override[key&ubx.KeyMask] = value
}

// SetValue preloads the RAM layer.
func (r *Receiver) SetValue(key uint32, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ram[key&ubx.KeyMask] = value
}

// Value returns the RAM layer value of key.
func (r *Receiver) Value(key uint32) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.ram[key&ubx.KeyMask]
	return v, ok
}

// Messages returns the frames received so far.
func (r *Receiver) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Written returns every byte the host wrote.
func (r *Receiver) Written() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.written...)
}

// Inject queues raw bytes for the host to read.
func (r *Receiver) Inject(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, b...)
}

// InjectNMEA queues "$payload*CS\r\n".
func (r *Receiver) InjectNMEA(payload string) {
	r.Inject([]byte(NMEALine(payload)))
}

// NMEALine adds the leading '$', checksum and line terminator.
func NMEALine(payload string) string {
	var cs byte
	for i := 0; i < len(payload); i++ {
		cs ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X\r\n", payload, cs)
}

// Pending reports how many bytes are waiting to be read.
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.out)
}

func (r *Receiver) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *Receiver) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, p...)
	for _, b := range p {
		if r.parser.Push(b) == ubx.Complete {
			r.handle(r.parser.Frame())
		}
	}
	return len(p), nil
}

func (r *Receiver) handle(f *ubx.Frame) {
	data := append([]byte(nil), f.Data()...)
	r.messages = append(r.messages, Message{Class: f.Class, ID: f.ID, Payload: data})
	if r.silent {
		return
	}
	pair := [2]byte{f.Class, f.ID}
	if r.mute[pair] {
		return
	}
	if r.nak[pair] {
		r.reply(ubx.ClassACK, ubx.IDAckNak, []byte{f.Class, f.ID})
		return
	}
	switch {
	case f.Class == ubx.ClassCFG && f.ID == ubx.IDCfgValSet:
		if err := r.applyValSet(data); err != nil {
			r.reply(ubx.ClassACK, ubx.IDAckNak, []byte{f.Class, f.ID})
			return
		}
		r.reply(ubx.ClassACK, ubx.IDAckAck, []byte{f.Class, f.ID})
	case f.Class == ubx.ClassCFG && f.ID == ubx.IDCfgValGet:
		r.answerValGet(data)
	case f.Class == ubx.ClassMON && f.ID == ubx.IDMonVer:
		payload := make([]byte, 40)
		copy(payload, "ROM SPG 5.10 (7b202e)")
		copy(payload[30:], "00190000")
		r.reply(ubx.ClassMON, ubx.IDMonVer, payload)
	default:
		r.reply(ubx.ClassACK, ubx.IDAckNak, []byte{f.Class, f.ID})
	}
}

func (r *Receiver) applyValSet(p []byte) error {
	if len(p) < 4 {
		return fmt.Errorf("short valset")
	}
	layers := p[1]
	values := make(map[uint32]uint64)
	for i := 4; i < len(p); {
		if i+4 > len(p) {
			return fmt.Errorf("truncated key")
		}
		key := binary.LittleEndian.Uint32(p[i:])
		i += 4
		size := ubx.KeySize(key)
		if size == 0 || i+size > len(p) {
			return fmt.Errorf("bad value for key 0x%08X", key)
		}
		var v uint64
		for j := 0; j < size; j++ {
			v |= uint64(p[i+j]) << (8 * j)
		}
		i += size
		values[key&ubx.KeyMask] = v
	}
	if layers&ubx.LayerRAM != 0 {
		for k, v := range values {
			r.ram[k] = v
		}
	}
	return nil
}

func (r *Receiver) answerValGet(p []byte) {
	if len(p) < 8 {
		r.reply(ubx.ClassACK, ubx.IDAckNak, []byte{ubx.ClassCFG, ubx.IDCfgValGet})
		return
	}
	key := binary.LittleEndian.Uint32(p[4:]) & ubx.KeyMask
	var value []byte
	if v, ok := r.override[key]; ok {
		value = []byte{v}
	} else if v, ok := r.ram[key]; ok {
		size := ubx.KeySize(key)
		for j := 0; j < size; j++ {
			value = append(value, byte(v>>(8*j)))
		}
	} else {
		r.reply(ubx.ClassACK, ubx.IDAckNak, []byte{ubx.ClassCFG, ubx.IDCfgValGet})
		return
	}
	out := []byte{0x01, p[1], 0x00, 0x00}
	out = binary.LittleEndian.AppendUint32(out, key)
	out = append(out, value...)
	r.reply(ubx.ClassCFG, ubx.IDCfgValGet, out)
	r.reply(ubx.ClassACK, ubx.IDAckAck, []byte{ubx.ClassCFG, ubx.IDCfgValGet})
}

func (r *Receiver) reply(class, id byte, payload []byte) {
	cmd, err := ubx.Encode(class, id, payload)
	if err != nil {
		panic(err)
	}
	r.out = append(r.out, cmd...)
}
