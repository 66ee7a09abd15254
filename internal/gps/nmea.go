package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// FixTimeout is how long a fix stays valid without a fresh RMC/GGA.
const FixTimeout = 1500 * time.Millisecond

const (
	maxLineLen = 128
	knotsToMS  = 1852.0 / 3600.0
)

// lineAssembler collects NMEA sentences from a byte stream that may also
// carry UBX frames. Every '$' starts a new line; overlong lines are dropped.
type lineAssembler struct {
	buf  [maxLineLen]byte
	n    int
	skip bool
}

// push adds one byte and returns a complete line when b ends one.
func (a *lineAssembler) push(b byte) (string, bool) {
	switch b {
	case '$':
		a.buf[0] = b
		a.n = 1
		a.skip = false
		return "", false
	case '\r', '\n':
		if a.n == 0 || a.skip {
			a.n = 0
			a.skip = false
			return "", false
		}
		line := string(a.buf[:a.n])
		a.n = 0
		return line, true
	}
	if a.n == 0 || a.skip {
		return "", false
	}
	if a.n == len(a.buf) {
		a.skip = true
		return "", false
	}
	a.buf[a.n] = b
	a.n++
	return "", false
}

func (a *lineAssembler) reset() {
	a.n = 0
	a.skip = false
}

// navState is the navigation picture built from RMC, GGA, GSA and GSV.
type navState struct {
	latDeg    float64
	lonDeg    float64
	speedMS   float64
	courseDeg float64
	altM      float64
	hdop      float64
	satsUsed  int

	lastFix time.Time

	// Satellites reported by GSA for the epoch being received, and for the
	// last complete one.
	pendingActive map[satKey]struct{}
	active        map[satKey]struct{}

	sentences uint64
	errors    uint64
}

func newNavState() navState {
	return navState{
		pendingActive: make(map[satKey]struct{}),
		active:        make(map[satKey]struct{}),
	}
}

// satKey identifies a satellite. PRNs repeat across constellations.
type satKey struct {
	cons uint8
	prn  uint16
}

// fix reports whether a valid position arrived within FixTimeout.
func (s *navState) fix(now time.Time) bool {
	return !s.lastFix.IsZero() && now.Sub(s.lastFix) <= FixTimeout
}

// apply parses one line and updates the state and the satellite table. It
// returns false for lines that failed to parse.
func (s *navState) apply(now time.Time, line string, sats *[MaxSatellites]SatelliteRow) bool {
	line = strings.TrimSpace(line)
	sent, err := nmea.Parse(line)
	if err != nil {
		// Receivers without a fix send RMC/GGA with empty position fields,
		// which go-nmea may refuse. They still end the fix.
		if raw, rerr := parseNMEASentence(line); rerr == nil && raw.voidFix() {
			s.lastFix = time.Time{}
			return true
		}
		s.errors++
		return false
	}
	s.sentences++

	switch m := sent.(type) {
	case nmea.RMC:
		s.commitEpoch(sats)
		if m.Validity != nmea.ValidRMC {
			s.lastFix = time.Time{}
			return true
		}
		s.latDeg = m.Latitude
		s.lonDeg = m.Longitude
		s.speedMS = m.Speed * knotsToMS
		s.courseDeg = math.Mod(m.Course+360.0, 360.0)
		s.lastFix = now
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid || m.FixQuality == "" {
			s.lastFix = time.Time{}
			s.satsUsed = int(m.NumSatellites)
			return true
		}
		s.latDeg = m.Latitude
		s.lonDeg = m.Longitude
		s.altM = m.Altitude
		s.hdop = m.HDOP
		s.satsUsed = int(m.NumSatellites)
		s.lastFix = now
	case nmea.GSA:
		if m.HDOP > 0 {
			s.hdop = m.HDOP
		}
		for _, sv := range m.SV {
			if id, ok := parsePRN(sv); ok {
				s.pendingActive[satKey{cons: gsaConstellation(m, id), prn: id}] = struct{}{}
			}
		}
	case nmea.GSV:
		s.applyGSV(m, sats)
	}
	return true
}

// commitEpoch promotes the GSA PRNs gathered since the previous RMC and
// refreshes the active flags.
func (s *navState) commitEpoch(sats *[MaxSatellites]SatelliteRow) {
	if len(s.pendingActive) == 0 && len(s.active) == 0 {
		return
	}
	s.active, s.pendingActive = s.pendingActive, s.active
	for k := range s.pendingActive {
		delete(s.pendingActive, k)
	}
	for i := range sats {
		if sats[i].ID == 0 {
			continue
		}
		_, ok := s.active[satKey{cons: sats[i].Constellation, prn: sats[i].ID}]
		sats[i].Active = ok
	}
}

func (s *navState) applyGSV(m nmea.GSV, sats *[MaxSatellites]SatelliteRow) {
	cons := constellationForTalker(m.Talker)
	if m.MessageNumber == 1 {
		// A new GSV cycle replaces this constellation's rows.
		for i := range sats {
			if sats[i].ID != 0 && sats[i].Constellation == cons {
				sats[i] = SatelliteRow{}
			}
		}
	}
	for _, info := range m.Info {
		if info.SVPRNNumber <= 0 {
			continue
		}
		id := uint16(info.SVPRNNumber)
		row := SatelliteRow{
			ID:            id,
			SNR:           clampByte(info.SNR),
			Constellation: cons,
			Elevation:     clampByte(info.Elevation),
			AzimuthLo:     uint8(info.Azimuth & 0xFF),
			AzimuthHi:     uint8((info.Azimuth >> 8) & 0xFF),
		}
		_, row.Active = s.active[satKey{cons: cons, prn: id}]
		placeRow(sats, row)
	}
}

// placeRow updates the row for the same satellite or takes a free one. A
// full table drops the satellite.
func placeRow(sats *[MaxSatellites]SatelliteRow, row SatelliteRow) {
	free := -1
	for i := range sats {
		if sats[i].ID == row.ID && sats[i].Constellation == row.Constellation {
			sats[i] = row
			return
		}
		if free < 0 && sats[i].ID == 0 {
			free = i
		}
	}
	if free >= 0 {
		sats[free] = row
	}
}

func constellationForTalker(talker string) uint8 {
	switch strings.ToUpper(talker) {
	case "GP":
		return ConstellationGPS
	case "GL":
		return ConstellationGLONASS
	case "GA":
		return ConstellationGalileo
	case "GB", "BD":
		return ConstellationBeiDou
	case "GQ", "QZ":
		return ConstellationQZSS
	default:
		return ConstellationUnknown
	}
}

// gsaConstellation uses the NMEA 4.1 system ID when present, else the
// talker. A legacy GNGSA falls back to the NMEA PRN ranges (65..96 is
// GLONASS).
func gsaConstellation(m nmea.GSA, prn uint16) uint8 {
	if m.SystemID >= int64(ConstellationGPS) && m.SystemID <= int64(ConstellationQZSS) {
		return uint8(m.SystemID)
	}
	if c := constellationForTalker(m.Talker); c != ConstellationUnknown {
		return c
	}
	if prn >= 65 && prn <= 96 {
		return ConstellationGLONASS
	}
	return ConstellationGPS
}

func parsePRN(s string) (uint16, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var v uint16
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint16(c-'0')
	}
	return v, v != 0
}

func clampByte(v int64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (s *navState) sample() NavDataSample {
	return NavDataSample{
		Latitude:  s.latDeg,
		Longitude: s.lonDeg,
		Heading:   s.courseDeg,
		Speed:     s.speedMS,
		Altitude:  s.altM,
	}
}

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

// parseNMEASentence checks the checksum and splits the payload.
func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	if len(parts[0]) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept GNxxx/GPxxx, etc; normalize to last 3 chars.
	t := parts[0]
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// voidFix reports an RMC with status V or a GGA with fix quality 0.
func (s nmeaSentence) voidFix() bool {
	switch s.Type {
	case "RMC":
		return len(s.Fields) > 2 && strings.TrimSpace(s.Fields[2]) == "V"
	case "GGA":
		if len(s.Fields) < 7 {
			return false
		}
		q := strings.TrimSpace(s.Fields[6])
		return q == "" || q == "0"
	}
	return false
}
