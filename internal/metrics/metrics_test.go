package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/status"
	"gnss-bridge/internal/ubx"
)

type fakeEngine struct{ s gps.Snapshot }

func (f fakeEngine) Snapshot() gps.Snapshot { return f.s }

type fakeIndicator struct {
	code   status.Code
	pulses uint64
	last   time.Time
}

func (f fakeIndicator) Status() status.Code  { return f.code }
func (f fakeIndicator) Pulses() uint64       { return f.pulses }
func (f fakeIndicator) LastPulse() time.Time { return f.last }

type fakeSink struct{ sent, failed uint64 }

func (f fakeSink) Stats() (uint64, uint64) { return f.sent, f.failed }

func gather(t *testing.T, c prometheus.Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			out[key] = value(m)
		}
	}
	return out
}

func value(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	return m.GetCounter().GetValue()
}

func TestCollector(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	eng := fakeEngine{s: gps.Snapshot{
		Mode:             "navigation",
		Baud:             115200,
		LinkOK:           true,
		Fix:              true,
		HDOP:             0.9,
		SatellitesUsed:   8,
		Signals:          gps.SignalLevels{Weak: 1, Medium: 2, Strong: 3},
		TTFFSeconds:      27,
		Sentences:        100,
		UBX:              ubx.Stats{Acks: 4, Timeouts: 1},
		RelayedToConsole: 12,
	}}
	ind := fakeIndicator{code: status.FixSync, pulses: 5, last: now.Add(-1500 * time.Millisecond)}
	c := NewCollector(eng, ind, map[string]SinkStats{"udp": fakeSink{sent: 9, failed: 1}})
	c.now = func() time.Time { return now }

	got := gather(t, c)
	assert.Equal(t, 1.0, got["gnss_bridge_ubx_link_ok"])
	assert.Equal(t, 0.0, got["gnss_bridge_ubx_configured"])
	assert.Equal(t, 0.0, got["gnss_bridge_passthrough"])
	assert.Equal(t, 0.9, got["gnss_bridge_hdop"])
	assert.Equal(t, 8.0, got["gnss_bridge_satellites{kind=used}"])
	assert.Equal(t, 3.0, got["gnss_bridge_signal_satellites{level=strong}"])
	assert.Equal(t, 27.0, got["gnss_bridge_ttff_seconds"])
	assert.Equal(t, 115200.0, got["gnss_bridge_receiver_baud"])
	assert.Equal(t, 4.0, got["gnss_bridge_ubx_events_total{event=ack}"])
	assert.Equal(t, 1.0, got["gnss_bridge_ubx_events_total{event=timeout}"])
	assert.Equal(t, 12.0, got["gnss_bridge_passthrough_bytes_total{direction=to_console}"])
	assert.Equal(t, 3.0, got["gnss_bridge_status_code"])
	assert.Equal(t, 5.0, got["gnss_bridge_pps_pulses_total"])
	assert.InDelta(t, 1.5, got["gnss_bridge_pps_age_seconds"], 1e-9)
	assert.Equal(t, 9.0, got["gnss_bridge_publish_sent_total{sink=udp}"])
	assert.Equal(t, 1.0, got["gnss_bridge_publish_failed_total{sink=udp}"])
}

func TestCollector_NoPPSYet(t *testing.T) {
	c := NewCollector(nil, fakeIndicator{code: status.Booting}, nil)
	got := gather(t, c)
	assert.Equal(t, -1.0, got["gnss_bridge_pps_age_seconds"])
	_, ok := got["gnss_bridge_fix"]
	assert.False(t, ok)
}

func TestHandler(t *testing.T) {
	c := NewCollector(fakeEngine{s: gps.Snapshot{Baud: 9600}}, nil, nil)
	srv := httptest.NewServer(Handler(c))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "gnss_bridge_receiver_baud 9600"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
