package gps

import (
	"strings"
	"time"
)

// MaxSatellites is the number of rows in the satellite table.
const MaxSatellites = 32

// Constellation codes stored in SatelliteRow.Constellation.
const (
	ConstellationUnknown uint8 = 0
	ConstellationGPS     uint8 = 1
	ConstellationGLONASS uint8 = 2
	ConstellationGalileo uint8 = 3
	ConstellationBeiDou  uint8 = 4
	ConstellationQZSS    uint8 = 5
)

// Signal strength buckets, dB-Hz.
const (
	weakBelow    = 20
	strongAbove  = 30
	signalWeak   = '1'
	signalMedium = '2'
	signalStrong = '3'
)

// SatelliteRow is one tracked satellite. A zero ID marks a free row.
type SatelliteRow struct {
	ID            uint16 `json:"id"`
	SNR           uint8  `json:"snr"`
	Constellation uint8  `json:"constellation"`
	Active        bool   `json:"active"`
	Elevation     uint8  `json:"elevation"`
	AzimuthLo     uint8  `json:"azimuth_lo"`
	AzimuthHi     uint8  `json:"azimuth_hi"`
}

func (r SatelliteRow) Azimuth() uint16 {
	return uint16(r.AzimuthHi)<<8 | uint16(r.AzimuthLo)
}

type SignalLevels struct {
	Weak   uint8 `json:"weak"`
	Medium uint8 `json:"medium"`
	Strong uint8 `json:"strong"`
}

// RuntimeState is the per-session state. It is reset on every passthrough
// entry and exit; the link flags and the boot time survive.
type RuntimeState struct {
	Satellites        [MaxSatellites]SatelliteRow
	Signals           SignalLevels
	VisibleSatellites uint8
	ActiveSatellites  uint8

	// TTFF is measured from Started.
	Started          time.Time
	FirstFixCaptured bool
	TTFFSeconds      int32

	PassthroughActive bool
	UBXLinkOK         bool
	UBXConfigured     bool

	NavUpdateCounter int
	LastOutput       time.Time
}

// classifySignals buckets every active row with a non-zero id.
func (s *RuntimeState) classifySignals() SignalLevels {
	var lv SignalLevels
	var visible, active uint8
	for _, row := range s.Satellites {
		if row.ID == 0 {
			continue
		}
		visible++
		if !row.Active {
			continue
		}
		active++
		switch {
		case row.SNR > strongAbove:
			lv.Strong++
		case row.SNR >= weakBelow:
			lv.Medium++
		default:
			lv.Weak++
		}
	}
	s.Signals = lv
	s.VisibleSatellites = visible
	s.ActiveSatellites = active
	return lv
}

// signalsJSON renders the per-satellite levels, weakest first: [1,2,2,3].
func signalsJSON(lv SignalLevels) string {
	var sb strings.Builder
	sb.WriteByte('[')
	first := true
	add := func(n uint8, c byte) {
		for i := uint8(0); i < n; i++ {
			if !first {
				sb.WriteByte(',')
			}
			sb.WriteByte(c)
			first = false
		}
	}
	add(lv.Weak, signalWeak)
	add(lv.Medium, signalMedium)
	add(lv.Strong, signalStrong)
	sb.WriteByte(']')
	return sb.String()
}
