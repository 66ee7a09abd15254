// Package mode tracks the operating mode (navigation or raw serial
// passthrough), persists it and power cycles the receiver on every change.
package mode

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gnss-bridge/internal/store"
)

type Mode uint8

const (
	Navigation        Mode = 0
	SerialPassthrough Mode = 1
)

const (
	Namespace = "sysmode"
	Key       = "mode"

	// ResetPulse is how long the receiver enable line is held low.
	ResetPulse = 100 * time.Millisecond

	maxListeners = 4
)

var (
	ErrInvalidMode  = errors.New("mode: invalid mode")
	ErrTooManyUsers = errors.New("mode: listener table full")
)

func (m Mode) String() string {
	switch m {
	case Navigation:
		return "navigation"
	case SerialPassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) Valid() bool { return m <= SerialPassthrough }

func Parse(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "navigation", "nav", "0":
		return Navigation, nil
	case "passthrough", "serial-passthrough", "serial_passthrough", "1":
		return SerialPassthrough, nil
	}
	return Navigation, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Listener is notified after a mode change. Implementations must be
// comparable (pointer receivers) so duplicates can be detected.
type Listener interface {
	ModeChanged(Mode)
}

// Resetter power cycles the receiver.
type Resetter interface {
	Cycle(off time.Duration) error
}

type Service struct {
	ns    store.Namespace
	power Resetter
	log   zerolog.Logger

	mu        sync.Mutex
	mode      Mode
	listeners [maxListeners]Listener
	count     int
}

// NewService restores the persisted mode. power may be nil.
func NewService(ns store.Namespace, power Resetter, log zerolog.Logger) *Service {
	s := &Service{ns: ns, power: power, log: log}
	if b, ok := ns.Uint8(Key); ok {
		if m := Mode(b); m.Valid() {
			s.mode = m
		} else {
			log.Warn().Uint8("stored", b).Msg("invalid stored mode, using navigation")
		}
	}
	log.Info().Str("mode", s.mode.String()).Msg("mode restored")
	return s
}

func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Service) IsSerialPassthrough() bool {
	return s.Mode() == SerialPassthrough
}

// LogsEnabled is false in passthrough, where the console carries receiver
// traffic.
func (s *Service) LogsEnabled() bool {
	return !s.IsSerialPassthrough()
}

// SetMode switches to m. It returns false when m is already active. A
// failure to persist is logged; the switch still happens.
func (s *Service) SetMode(m Mode) (bool, error) {
	if !m.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	s.mu.Lock()
	if s.mode == m {
		s.mu.Unlock()
		return false, nil
	}
	s.mode = m
	listeners := append([]Listener(nil), s.listeners[:s.count]...)
	s.mu.Unlock()

	if err := s.ns.PutUint8(Key, uint8(m)); err != nil {
		s.log.Error().Err(err).Msg("persist mode")
	}
	s.log.Info().Str("mode", m.String()).Msg("mode changed")
	if s.power != nil {
		if err := s.power.Cycle(ResetPulse); err != nil {
			s.log.Warn().Err(err).Msg("receiver power cycle failed")
		}
	}
	for _, l := range listeners {
		l.ModeChanged(m)
	}
	return true, nil
}

// Subscribe adds l. Nil and already registered listeners are ignored.
func (s *Service) Subscribe(l Listener) error {
	if l == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.count; i++ {
		if s.listeners[i] == l {
			return nil
		}
	}
	if s.count == maxListeners {
		return ErrTooManyUsers
	}
	s.listeners[s.count] = l
	s.count++
	return nil
}
