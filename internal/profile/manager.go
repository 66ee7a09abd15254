package profile

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gnss-bridge/internal/store"
	"gnss-bridge/internal/ubx"
)

// Keys in the receiver preferences namespace.
const (
	Namespace = "gpscfg"

	KeyConstellation  = "ubx_profile"
	KeySettings       = "ubx_settings"
	KeyCustomProfile  = "ubx_custom_profile"
	KeyCustomSettings = "ubx_custom_settings"
)

var ErrInvalidProfile = errors.New("profile: invalid selection")

// Resolution is the sequence a selection resolves to.
type Resolution struct {
	Sequence ubx.Sequence
	// Name is the effective profile name, which differs from the selection
	// when Substituted is set.
	Name string
	// Substituted is set when a custom selection had no stored command and
	// the built-in default was used instead.
	Substituted bool
}

// Manager owns the active selections and the custom command slots. It is not
// safe for concurrent use; the engine loop serializes access.
type Manager struct {
	ns  store.Namespace
	log zerolog.Logger

	constellation  Constellation
	settings       Settings
	customProfile  ubx.Command
	customSettings ubx.Command
}

func NewManager(ns store.Namespace, log zerolog.Logger) *Manager {
	return &Manager{
		ns:            ns,
		log:           log,
		constellation: DefaultConstellation,
		settings:      DefaultSettings,
	}
}

// Load reads the persisted selections and custom commands. Invalid values
// fall back to the defaults.
func (m *Manager) Load() {
	if b, ok := m.ns.Uint8(KeyConstellation); ok {
		c, valid := DecodeConstellation(b)
		if !valid {
			m.log.Warn().Uint8("stored", b).Str("using", c.String()).Msg("invalid stored constellation profile")
		}
		m.constellation = c
	}
	if b, ok := m.ns.Uint8(KeySettings); ok {
		s, valid := DecodeSettings(b)
		if !valid {
			m.log.Warn().Uint8("stored", b).Str("using", s.String()).Msg("invalid stored settings profile")
		}
		m.settings = s
	}
	m.customProfile = m.loadCustom(KeyCustomProfile)
	m.customSettings = m.loadCustom(KeyCustomSettings)

	m.log.Info().
		Str("profile", m.constellation.String()).
		Str("settings", m.settings.String()).
		Bool("custom_profile", len(m.customProfile) > 0).
		Bool("custom_settings", len(m.customSettings) > 0).
		Msg("profiles loaded")
}

func (m *Manager) loadCustom(key string) ubx.Command {
	b, ok := m.ns.Bytes(key)
	if !ok || len(b) == 0 {
		return nil
	}
	cmd := ubx.Command(b)
	if err := cmd.Validate(); err != nil {
		m.log.Warn().Str("key", key).Err(err).Msg("ignoring stored custom command")
		return nil
	}
	return cmd
}

func (m *Manager) Constellation() Constellation { return m.constellation }

func (m *Manager) Settings() Settings { return m.settings }

// SelectConstellation makes c active and persists it. The in-memory
// selection changes even when the write fails.
func (m *Manager) SelectConstellation(c Constellation) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidProfile, uint8(c))
	}
	m.constellation = c
	if err := m.ns.PutUint8(KeyConstellation, uint8(c)); err != nil {
		return fmt.Errorf("persist constellation profile: %w", err)
	}
	return nil
}

func (m *Manager) SelectSettings(s Settings) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidProfile, uint8(s))
	}
	m.settings = s
	if err := m.ns.PutUint8(KeySettings, uint8(s)); err != nil {
		return fmt.Errorf("persist settings profile: %w", err)
	}
	return nil
}

// SetCustomProfileCommand stores the custom constellation command. An empty
// command clears the slot.
func (m *Manager) SetCustomProfileCommand(cmd ubx.Command) error {
	c, err := m.storeCustom(KeyCustomProfile, cmd)
	if err != nil {
		return err
	}
	m.customProfile = c
	return nil
}

// SetCustomSettingsCommand stores the custom settings command. An empty
// command clears the slot.
func (m *Manager) SetCustomSettingsCommand(cmd ubx.Command) error {
	c, err := m.storeCustom(KeyCustomSettings, cmd)
	if err != nil {
		return err
	}
	m.customSettings = c
	return nil
}

func (m *Manager) storeCustom(key string, cmd ubx.Command) (ubx.Command, error) {
	if len(cmd) == 0 {
		if err := m.ns.Remove(key); err != nil {
			return nil, fmt.Errorf("clear %s: %w", key, err)
		}
		return nil, nil
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	c := append(ubx.Command(nil), cmd...)
	if err := m.ns.PutBytes(key, c); err != nil {
		return nil, fmt.Errorf("persist %s: %w", key, err)
	}
	return c, nil
}

func (m *Manager) CustomProfileCommand() ubx.Command {
	return append(ubx.Command(nil), m.customProfile...)
}

func (m *Manager) CustomSettingsCommand() ubx.Command {
	return append(ubx.Command(nil), m.customSettings...)
}

// ConstellationSequence resolves c. Custom uses the stored command when there
// is one, otherwise the FullSystems sequence and Substituted is set.
func (m *Manager) ConstellationSequence(c Constellation) Resolution {
	if c == Custom {
		if len(m.customProfile) > 0 {
			return Resolution{Sequence: ubx.Sequence{m.customProfile}, Name: Custom.String()}
		}
		m.log.Warn().Str("using", DefaultConstellation.String()).Msg("custom profile selected but empty")
		return Resolution{
			Sequence:    BuiltinSequence(DefaultConstellation),
			Name:        DefaultConstellation.String(),
			Substituted: true,
		}
	}
	if !c.Valid() {
		c = DefaultConstellation
	}
	return Resolution{Sequence: BuiltinSequence(c), Name: c.String()}
}

// SettingsSequence resolves s the same way for the settings slot.
func (m *Manager) SettingsSequence(s Settings) Resolution {
	if s == CustomRAM {
		if len(m.customSettings) > 0 {
			return Resolution{Sequence: ubx.Sequence{m.customSettings}, Name: CustomRAM.String()}
		}
		m.log.Warn().Str("using", DefaultSettings.String()).Msg("custom settings selected but empty")
		return Resolution{
			Sequence:    DefaultSettingsSequence(),
			Name:        DefaultSettings.String(),
			Substituted: true,
		}
	}
	return Resolution{Sequence: DefaultSettingsSequence(), Name: DefaultSettings.String()}
}

// VerificationTargets returns what to read back after applying c. A
// populated custom profile has no targets; an empty one is checked against
// the FullSystems table.
func (m *Manager) VerificationTargets(c Constellation) []ubx.KeyValue {
	if c == Custom {
		if len(m.customProfile) > 0 {
			return nil
		}
		return BuiltinTargets(DefaultConstellation)
	}
	if !c.Valid() {
		c = DefaultConstellation
	}
	return BuiltinTargets(c)
}
