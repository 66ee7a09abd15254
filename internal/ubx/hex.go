package ubx

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHex decodes a user supplied command written as hex text. Whitespace,
// "0x" prefixes and ',' or ':' separators are ignored. The result must be a
// complete, checksum-valid frame.
func ParseHex(text string) (Command, error) {
	var sb strings.Builder
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ',' || r == ':'
	}) {
		tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
		sb.WriteString(tok)
	}
	clean := sb.String()
	if clean == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCommand)
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits", ErrInvalidCommand)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd := Command(b)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// String renders the command as spaced upper-case hex.
func (c Command) String() string {
	var sb strings.Builder
	for i, b := range c {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
