// Package profile maps constellation and settings selections to UBX command
// sequences and read-back targets, and persists the selections together with
// the two user supplied custom commands.
package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// Constellation selects which satellite systems the receiver tracks.
type Constellation uint8

const (
	FullSystems Constellation = iota
	GlonassBeiDouGalileo
	GlonassOnly
	Custom

	constellationCount
)

const DefaultConstellation = FullSystems

var constellationNames = [constellationCount]string{
	FullSystems:          "Full systems",
	GlonassBeiDouGalileo: "GLONASS+BeiDou+Galileo",
	GlonassOnly:          "GLONASS only",
	Custom:               "Custom",
}

var constellationSlugs = [constellationCount]string{
	FullSystems:          "full",
	GlonassBeiDouGalileo: "glonass-beidou-galileo",
	GlonassOnly:          "glonass",
	Custom:               "custom",
}

func (c Constellation) Valid() bool { return c < constellationCount }

func (c Constellation) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Constellation(%d)", uint8(c))
	}
	return constellationNames[c]
}

// Slug is the short name used by the HTTP API.
func (c Constellation) Slug() string {
	if !c.Valid() {
		return ""
	}
	return constellationSlugs[c]
}

// Char is the one-character wire form: '0' + index.
func (c Constellation) Char() byte { return '0' + byte(c) }

// ConstellationFromChar parses the one-character wire form.
func ConstellationFromChar(ch byte) (Constellation, bool) {
	if ch < '0' || ch >= '0'+byte(constellationCount) {
		return DefaultConstellation, false
	}
	return Constellation(ch - '0'), true
}

// DecodeConstellation turns a persisted byte into a selection. Out of range
// values decode to DefaultConstellation and report false.
func DecodeConstellation(b uint8) (Constellation, bool) {
	c := Constellation(b)
	if !c.Valid() {
		return DefaultConstellation, false
	}
	return c, true
}

// ParseConstellation accepts a slug, the display name, the index or the
// one-character form.
func ParseConstellation(s string) (Constellation, error) {
	s = strings.TrimSpace(s)
	for i := Constellation(0); i < constellationCount; i++ {
		if strings.EqualFold(s, constellationSlugs[i]) || strings.EqualFold(s, constellationNames[i]) {
			return i, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if c, ok := DecodeConstellation(uint8(n)); ok {
			return c, nil
		}
	}
	return DefaultConstellation, fmt.Errorf("%w: unknown constellation profile %q", ErrInvalidProfile, s)
}

// Settings selects where configuration changes are saved.
type Settings uint8

const (
	DefaultRAMAndBBR Settings = iota
	CustomRAM

	settingsCount
)

const DefaultSettings = DefaultRAMAndBBR

var settingsNames = [settingsCount]string{
	DefaultRAMAndBBR: "Default RAM+BBR",
	CustomRAM:        "Custom RAM",
}

var settingsSlugs = [settingsCount]string{
	DefaultRAMAndBBR: "default",
	CustomRAM:        "custom",
}

func (s Settings) Valid() bool { return s < settingsCount }

func (s Settings) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Settings(%d)", uint8(s))
	}
	return settingsNames[s]
}

func (s Settings) Slug() string {
	if !s.Valid() {
		return ""
	}
	return settingsSlugs[s]
}

func (s Settings) Char() byte { return '0' + byte(s) }

func SettingsFromChar(ch byte) (Settings, bool) {
	if ch < '0' || ch >= '0'+byte(settingsCount) {
		return DefaultSettings, false
	}
	return Settings(ch - '0'), true
}

func DecodeSettings(b uint8) (Settings, bool) {
	s := Settings(b)
	if !s.Valid() {
		return DefaultSettings, false
	}
	return s, true
}

func ParseSettings(s string) (Settings, error) {
	s = strings.TrimSpace(s)
	for i := Settings(0); i < settingsCount; i++ {
		if strings.EqualFold(s, settingsSlugs[i]) || strings.EqualFold(s, settingsNames[i]) {
			return i, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if v, ok := DecodeSettings(uint8(n)); ok {
			return v, nil
		}
	}
	return DefaultSettings, fmt.Errorf("%w: unknown settings profile %q", ErrInvalidProfile, s)
}
