// Package publish delivers engine samples to the network: UDP datagrams,
// MQTT topics and WebSocket clients. Payloads use the compact JSON of the
// original BLE characteristics.
package publish

import (
	"fmt"
	"math"

	"gnss-bridge/internal/gps"
)

// Change thresholds for navigation samples.
const (
	latLonEps  = 1e-5
	headingEps = 1.0
	speedEps   = 0.2
	altEps     = 0.5
)

// InitialStatus is sent to new subscribers before the first real sample.
var InitialStatus = gps.SystemStatusSample{HDOP: 100, TTFFSeconds: -1, SignalsJSON: "[]"}

// NavJSON renders {"lt","lg","hd","spd","alt"}.
func NavJSON(s gps.NavDataSample) []byte {
	return []byte(fmt.Sprintf(`{"lt":%.6f,"lg":%.6f,"hd":%.1f,"spd":%.1f,"alt":%.1f}`,
		s.Latitude, s.Longitude, s.Heading, s.Speed, s.Altitude))
}

// StatusJSON renders {"fix","hdop","signals","ttff"}.
func StatusJSON(s gps.SystemStatusSample) []byte {
	signals := s.SignalsJSON
	if signals == "" {
		signals = "[]"
	}
	return []byte(fmt.Sprintf(`{"fix":%d,"hdop":%.1f,"signals":%s,"ttff":%d}`,
		s.Fix, s.HDOP, signals, s.TTFFSeconds))
}

// navFilter passes a sample when any field moved past its threshold since
// the last passed one. Not safe for concurrent use.
type navFilter struct {
	last gps.NavDataSample
	have bool
}

func (f *navFilter) allow(s gps.NavDataSample) bool {
	if f.have &&
		!exceeds(s.Latitude, f.last.Latitude, latLonEps) &&
		!exceeds(s.Longitude, f.last.Longitude, latLonEps) &&
		!exceeds(s.Heading, f.last.Heading, headingEps) &&
		!exceeds(s.Speed, f.last.Speed, speedEps) &&
		!exceeds(s.Altitude, f.last.Altitude, altEps) {
		return false
	}
	f.last = s
	f.have = true
	return true
}

func exceeds(a, b, eps float64) bool { return math.Abs(a-b) > eps }
