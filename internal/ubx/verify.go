package ubx

import (
	"errors"
	"fmt"
	"strings"
)

var ErrVerifyMismatch = errors.New("ubx: configuration read-back mismatch")

// KeyFailure describes one target that could not be confirmed.
type KeyFailure struct {
	Key      uint32
	Expected byte
	Got      byte
	// Err is set when the key could not be read at all.
	Err error
}

func (k KeyFailure) String() string {
	if k.Err != nil {
		return fmt.Sprintf("0x%08X unreadable (%v)", k.Key, k.Err)
	}
	return fmt.Sprintf("0x%08X expected %d got %d", k.Key, k.Expected, k.Got)
}

// VerifyReport is the outcome of a read-back pass.
type VerifyReport struct {
	Checked  int
	Failures []KeyFailure
}

func (r VerifyReport) OK() bool {
	return len(r.Failures) == 0
}

// Err returns nil when every target matched, otherwise an error wrapping
// ErrVerifyMismatch that lists the failed keys.
func (r VerifyReport) Err() error {
	if r.OK() {
		return nil
	}
	parts := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		parts = append(parts, f.String())
	}
	return fmt.Errorf("%w: %s", ErrVerifyMismatch, strings.Join(parts, "; "))
}

// ReadValue polls one key at the given CFG-VALGET layer and returns the first
// value byte.
func (t *Transport) ReadValue(key uint32, layer byte) (byte, error) {
	key &= KeyMask
	if err := t.write(ValGet(layer, key)); err != nil {
		return 0, err
	}
	var (
		value byte
		nak   bool
	)
	err := t.poll(ResponseTimeout, func(f *Frame) bool {
		if f.Class == ClassACK && f.ID == IDAckNak && f.Stored >= 2 &&
			f.Payload[0] == ClassCFG && f.Payload[1] == IDCfgValGet {
			nak = true
			return true
		}
		v, ok := valGetResponse(f, key)
		if ok {
			value = v
		}
		return ok
	})
	if err != nil {
		return 0, err
	}
	if nak {
		t.naks++
		return 0, fmt.Errorf("%w: key 0x%08X", ErrNak, key)
	}
	return value, nil
}

// Verify reads every target back from the RAM layer. Unreadable and
// mismatching keys are recorded and checking continues with the next key.
// No targets means nothing to check and the report is OK.
func (t *Transport) Verify(targets []KeyValue) VerifyReport {
	var r VerifyReport
	for _, kv := range targets {
		r.Checked++
		got, err := t.ReadValue(kv.Key, ValGetLayerRAM)
		switch {
		case err != nil:
			r.Failures = append(r.Failures, KeyFailure{Key: kv.Key, Expected: kv.Value, Err: err})
		case got != kv.Value:
			r.Failures = append(r.Failures, KeyFailure{Key: kv.Key, Expected: kv.Value, Got: got})
		}
	}
	if !r.OK() {
		t.log.Warn().Int("checked", r.Checked).Int("failed", len(r.Failures)).Msg("verification failed")
	}
	return r
}
