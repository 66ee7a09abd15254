package gps

import (
	"time"

	"gnss-bridge/internal/ubx"
)

// Snapshot is a copy of the engine state safe to read from any goroutine.
type Snapshot struct {
	Mode           string `json:"mode"`
	Baud           int    `json:"baud"`
	LinkOK         bool   `json:"ubx_link_ok"`
	Configured     bool   `json:"ubx_configured"`
	Constellation  string `json:"constellation"`
	Settings       string `json:"settings"`
	CustomProfile  string `json:"custom_profile,omitempty"`
	CustomSettings string `json:"custom_settings,omitempty"`

	Fix        bool    `json:"fix"`
	LatDeg     float64 `json:"lat_deg,omitempty"`
	LonDeg     float64 `json:"lon_deg,omitempty"`
	AltM       float64 `json:"alt_m,omitempty"`
	SpeedMS    float64 `json:"speed_ms,omitempty"`
	HeadingDeg float64 `json:"heading_deg,omitempty"`
	HDOP       float64 `json:"hdop,omitempty"`

	SatellitesUsed    uint8          `json:"satellites_used"`
	VisibleSatellites uint8          `json:"visible_satellites"`
	ActiveSatellites  uint8          `json:"active_satellites"`
	Signals           SignalLevels   `json:"signals"`
	SatelliteTable    []SatelliteRow `json:"satellite_table,omitempty"`

	TTFFSeconds      int32  `json:"ttff_s"`
	NavUpdateCounter int    `json:"nav_update_counter"`
	Sentences        uint64 `json:"nmea_sentences"`
	SentenceErrors   uint64 `json:"nmea_errors"`

	RelayedToConsole  uint64 `json:"relayed_to_console"`
	RelayedToReceiver uint64 `json:"relayed_to_receiver"`

	UBX ubx.Stats `json:"ubx"`

	UpdatedUTC string `json:"updated_utc"`
}

// Snapshot returns the last published state.
func (e *Engine) Snapshot() Snapshot {
	s, _ := e.snap.Load().(Snapshot)
	s.RelayedToConsole = e.relayed.toConsole.Load()
	s.RelayedToReceiver = e.relayed.toReceiver.Load()
	return s
}

func (e *Engine) publishSnapshot() {
	now := nowFn()
	mode := "navigation"
	if e.state.PassthroughActive {
		mode = "passthrough"
	}
	s := Snapshot{
		Mode:              mode,
		Baud:              e.baud,
		LinkOK:            e.state.UBXLinkOK,
		Configured:        e.state.UBXConfigured,
		Constellation:     e.profiles.Constellation().String(),
		Settings:          e.profiles.Settings().String(),
		Fix:               e.nav.fix(now),
		HDOP:              e.nav.hdop,
		SatellitesUsed:    clampByte(int64(e.nav.satsUsed)),
		VisibleSatellites: e.state.VisibleSatellites,
		ActiveSatellites:  e.state.ActiveSatellites,
		Signals:           e.state.Signals,
		TTFFSeconds:       e.state.TTFFSeconds,
		NavUpdateCounter:  e.state.NavUpdateCounter,
		Sentences:         e.nav.sentences,
		SentenceErrors:    e.nav.errors,
		UBX:               e.tr.Stats(),
		UpdatedUTC:        now.UTC().Format(time.RFC3339Nano),
	}
	if cmd := e.profiles.CustomProfileCommand(); len(cmd) > 0 {
		s.CustomProfile = cmd.String()
	}
	if cmd := e.profiles.CustomSettingsCommand(); len(cmd) > 0 {
		s.CustomSettings = cmd.String()
	}
	if s.Fix {
		s.LatDeg = e.nav.latDeg
		s.LonDeg = e.nav.lonDeg
		s.AltM = e.nav.altM
		s.SpeedMS = e.nav.speedMS
		s.HeadingDeg = e.nav.courseDeg
	}
	for _, row := range e.state.Satellites {
		if row.ID != 0 {
			s.SatelliteTable = append(s.SatelliteTable, row)
		}
	}
	e.snap.Store(s)
}
