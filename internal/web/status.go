package web

import (
	"runtime"
	"runtime/debug"
	"time"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/status"
)

// EngineSource is satisfied by *gps.Engine.
type EngineSource interface {
	Snapshot() gps.Snapshot
}

// IndicatorSource is satisfied by *status.Indicator.
type IndicatorSource interface {
	Status() status.Code
	Pulses() uint64
	LastPulse() time.Time
}

type Status struct {
	start     time.Time
	engine    EngineSource
	indicator IndicatorSource
	build     BuildInfo
}

func NewStatus(engine EngineSource, indicator IndicatorSource) *Status {
	return &Status{
		start:     time.Now().UTC(),
		engine:    engine,
		indicator: indicator,
		build:     readBuildInfo(),
	}
}

type BuildInfo struct {
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}

type IndicatorSnapshot struct {
	Code         uint8  `json:"code"`
	Name         string `json:"name"`
	PPSPulses    uint64 `json:"pps_pulses"`
	LastPulseUTC string `json:"last_pulse_utc,omitempty"`
}

type StatusSnapshot struct {
	Service   string             `json:"service"`
	NowUTC    string             `json:"now_utc"`
	UptimeSec int64              `json:"uptime_sec"`
	Build     BuildInfo          `json:"build"`
	Indicator *IndicatorSnapshot `json:"indicator,omitempty"`
	GNSS      *gps.Snapshot      `json:"gnss,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service:   "gnss-bridge",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(s.start).Seconds()),
		Build:     s.build,
	}
	if s.indicator != nil {
		code := s.indicator.Status()
		ind := &IndicatorSnapshot{
			Code:      uint8(code),
			Name:      code.String(),
			PPSPulses: s.indicator.Pulses(),
		}
		if last := s.indicator.LastPulse(); !last.IsZero() {
			ind.LastPulseUTC = last.UTC().Format(time.RFC3339Nano)
		}
		snap.Indicator = ind
	}
	if s.engine != nil {
		g := s.engine.Snapshot()
		snap.GNSS = &g
	}
	return snap
}
