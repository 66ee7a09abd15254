// Package metrics exports engine, PPS and publisher counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/status"
)

const namespace = "gnss_bridge"

// SnapshotSource is satisfied by *gps.Engine.
type SnapshotSource interface {
	Snapshot() gps.Snapshot
}

// IndicatorSource is satisfied by *status.Indicator.
type IndicatorSource interface {
	Status() status.Code
	Pulses() uint64
	LastPulse() time.Time
}

// SinkStats is implemented by the UDP and MQTT publishers.
type SinkStats interface {
	Stats() (sent, failed uint64)
}

// Collector reads everything at scrape time; it holds no state of its own.
type Collector struct {
	engine    SnapshotSource
	indicator IndicatorSource
	sinks     map[string]SinkStats
	now       func() time.Time

	linkOK      *prometheus.Desc
	configured  *prometheus.Desc
	passthrough *prometheus.Desc
	fix         *prometheus.Desc
	hdop        *prometheus.Desc
	satellites  *prometheus.Desc
	signals     *prometheus.Desc
	ttff        *prometheus.Desc
	baud        *prometheus.Desc
	sentences   *prometheus.Desc
	nmeaErrors  *prometheus.Desc
	ubxEvents   *prometheus.Desc
	relayed     *prometheus.Desc
	statusCode  *prometheus.Desc
	ppsPulses   *prometheus.Desc
	ppsAge      *prometheus.Desc
	sinkSent    *prometheus.Desc
	sinkFailed  *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func NewCollector(engine SnapshotSource, indicator IndicatorSource, sinks map[string]SinkStats) *Collector {
	return &Collector{
		engine:    engine,
		indicator: indicator,
		sinks:     sinks,
		now:       time.Now,

		linkOK:      desc("ubx_link_ok", "1 when the receiver answered the probe and the read-back matched."),
		configured:  desc("ubx_configured", "1 when the active profiles were applied and verified."),
		passthrough: desc("passthrough", "1 while the UART is relayed to the host console."),
		fix:         desc("fix", "1 while a position fix is current."),
		hdop:        desc("hdop", "Horizontal dilution of precision."),
		satellites:  desc("satellites", "Satellite counts.", "kind"),
		signals:     desc("signal_satellites", "Active satellites per signal bucket.", "level"),
		ttff:        desc("ttff_seconds", "Time to first fix of the current session, -1 before the first fix."),
		baud:        desc("receiver_baud", "Host UART baud rate."),
		sentences:   desc("nmea_sentences_total", "NMEA sentences parsed."),
		nmeaErrors:  desc("nmea_errors_total", "NMEA lines that failed to parse."),
		ubxEvents:   desc("ubx_events_total", "UBX transport events.", "event"),
		relayed:     desc("passthrough_bytes_total", "Bytes relayed in serial passthrough.", "direction"),
		statusCode:  desc("status_code", "Status indicator code (1 booting, 2 no fix, 3 fix, 4 no modem, 5 ready)."),
		ppsPulses:   desc("pps_pulses_total", "PPS pulses consumed by the indicator."),
		ppsAge:      desc("pps_age_seconds", "Seconds since the last PPS edge, -1 when none was seen."),
		sinkSent:    desc("publish_sent_total", "Samples delivered per sink.", "sink"),
		sinkFailed:  desc("publish_failed_total", "Samples that could not be delivered per sink.", "sink"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.linkOK, c.configured, c.passthrough, c.fix, c.hdop, c.satellites,
		c.signals, c.ttff, c.baud, c.sentences, c.nmeaErrors, c.ubxEvents,
		c.relayed, c.statusCode, c.ppsPulses, c.ppsAge, c.sinkSent, c.sinkFailed,
	} {
		ch <- d
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	if c.engine != nil {
		s := c.engine.Snapshot()
		gauge(c.linkOK, boolValue(s.LinkOK))
		gauge(c.configured, boolValue(s.Configured))
		gauge(c.passthrough, boolValue(s.Mode == "passthrough"))
		gauge(c.fix, boolValue(s.Fix))
		gauge(c.hdop, s.HDOP)
		gauge(c.satellites, float64(s.SatellitesUsed), "used")
		gauge(c.satellites, float64(s.VisibleSatellites), "visible")
		gauge(c.satellites, float64(s.ActiveSatellites), "active")
		gauge(c.signals, float64(s.Signals.Weak), "weak")
		gauge(c.signals, float64(s.Signals.Medium), "medium")
		gauge(c.signals, float64(s.Signals.Strong), "strong")
		gauge(c.ttff, float64(s.TTFFSeconds))
		gauge(c.baud, float64(s.Baud))
		counter(c.sentences, s.Sentences)
		counter(c.nmeaErrors, s.SentenceErrors)
		counter(c.ubxEvents, s.UBX.Frames, "frame")
		counter(c.ubxEvents, s.UBX.Resyncs, "resync")
		counter(c.ubxEvents, s.UBX.Acks, "ack")
		counter(c.ubxEvents, s.UBX.Naks, "nak")
		counter(c.ubxEvents, s.UBX.Timeouts, "timeout")
		counter(c.relayed, s.RelayedToConsole, "to_console")
		counter(c.relayed, s.RelayedToReceiver, "to_receiver")
	}

	if c.indicator != nil {
		gauge(c.statusCode, float64(c.indicator.Status()))
		counter(c.ppsPulses, c.indicator.Pulses())
		age := -1.0
		if last := c.indicator.LastPulse(); !last.IsZero() {
			age = c.now().Sub(last).Seconds()
		}
		gauge(c.ppsAge, age)
	}

	for name, s := range c.sinks {
		sent, failed := s.Stats()
		counter(c.sinkSent, sent, name)
		counter(c.sinkFailed, failed, name)
	}
}

// Handler serves the collector together with the Go runtime and process
// collectors on a private registry.
func Handler(cs ...prometheus.Collector) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(cs...)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
