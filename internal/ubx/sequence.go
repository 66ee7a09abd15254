package ubx

import "fmt"

// Run sends every command of seq in order, each through SendExpectingAck with
// AckTimeout, pausing InterCommandDelay between commands. The first failure
// aborts the rest; commands already acknowledged stay applied on the
// receiver. An empty sequence succeeds.
func (t *Transport) Run(seq Sequence, label string) error {
	for i, cmd := range seq {
		if len(cmd) < MinCommandSize {
			t.log.Warn().Str("seq", label).Int("index", i).Int("len", len(cmd)).Msg("malformed command, sequence aborted")
			return fmt.Errorf("%s[%d]: %w: %d bytes", label, i, ErrInvalidCommand, len(cmd))
		}
		if i > 0 {
			t.sleep(InterCommandDelay)
		}
		if err := t.SendExpectingAck(cmd, AckTimeout); err != nil {
			t.log.Warn().Str("seq", label).Int("index", i).Err(err).Msg("sequence failed")
			return fmt.Errorf("%s[%d]: %w", label, i, err)
		}
	}
	t.log.Debug().Str("seq", label).Int("commands", len(seq)).Msg("sequence acknowledged")
	return nil
}
