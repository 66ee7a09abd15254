package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"gnss-bridge/internal/config"
	"gnss-bridge/internal/gpio"
	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/profile"
	"gnss-bridge/internal/publish"
	"gnss-bridge/internal/serialport"
	"gnss-bridge/internal/status"
	"gnss-bridge/internal/store"
	"gnss-bridge/internal/web"
)

const indicatorInterval = 10 * time.Millisecond

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./gnss-bridge.yaml", "Path to YAML config")
	flag.Parse()

	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg, err := config.Load(configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		boot.Fatal().Err(err).Msg("gnss-bridge failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	console := &gatedWriter{w: os.Stderr}
	log := newLogger(cfg.Log, console, logs)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}

	var power *gpio.PowerLine
	if cfg.Receiver.PowerPin >= 0 {
		power, err = gpio.OpenPowerLine(cfg.Receiver.PowerPin)
		if err != nil {
			log.Warn().Err(err).Int("pin", cfg.Receiver.PowerPin).Msg("receiver power line unavailable")
			power = nil
		} else {
			defer power.Close()
		}
	}

	var resetter mode.Resetter
	if power != nil {
		resetter = power
	}
	modes := mode.NewService(st.Namespace(mode.Namespace), resetter, log.With().Str("component", "mode").Logger())
	console.enabled = modes.LogsEnabled

	indicator := status.NewIndicator(time.Now(), log.With().Str("component", "status").Logger())
	if cfg.Receiver.PPSPin >= 0 {
		pps, err := gpio.WatchPPS(cfg.Receiver.PPSPin, indicator.OnPPS)
		if err != nil {
			log.Warn().Err(err).Int("pin", cfg.Receiver.PPSPin).Msg("pps input unavailable")
		} else {
			defer pps.Close()
		}
	}

	port, err := serialport.Open(cfg.Receiver.Device, cfg.Receiver.Baud)
	if err != nil {
		return err
	}
	defer port.Close()

	host, err := serialport.OpenConsole(cfg.Console.Device, cfg.Console.Baud)
	if err != nil {
		return err
	}
	defer host.Close()

	sinks := map[string]metrics.SinkStats{}
	publog := log.With().Str("component", "publish").Logger()

	hub := publish.NewHub(publog)
	defer hub.Close()
	publishers := []publisher{hub}
	events := publish.EventFanout{hub}

	if cfg.Publish.UDP.Enable {
		udp, err := publish.NewUDP(cfg.Publish.UDP.Dest, publog)
		if err != nil {
			return err
		}
		defer udp.Close()
		publishers = append(publishers, udp)
		sinks["udp"] = udp
	}

	if m := cfg.Publish.MQTT; m.Enable {
		mq, err := publish.NewMQTT(publish.MQTTConfig{
			Broker:         m.Broker,
			ClientID:       m.ClientID,
			Username:       m.Username,
			Password:       m.Password,
			Topic:          m.Topic,
			QoS:            m.QoS,
			Retain:         m.Retain,
			ConnectTimeout: m.ConnectTimeout,
		}, publog)
		if err != nil {
			return err
		}
		defer mq.Close()
		publishers = append(publishers, mq)
		events = append(events, mq)
		sinks["mqtt"] = mq
	}

	for _, e := range events {
		if err := modes.Subscribe(e); err != nil {
			return err
		}
	}
	indicator.OnChange(events.PublishIndicator)

	engineCfg := gps.Config{
		Port:         port,
		Console:      host,
		Store:        st.Namespace(profile.Namespace),
		Mode:         modes,
		Status:       indicator,
		Logger:       log,
		DefaultBaud:  cfg.Receiver.Baud,
		StatusEvery:  cfg.Engine.StatusEvery,
		OnBaudChange: events.PublishBaud,
	}
	if power != nil {
		engineCfg.Power = power
	}
	engine, err := gps.New(engineCfg)
	if err != nil {
		return err
	}
	for _, p := range publishers {
		if err := addPublisher(engine, p); err != nil {
			return err
		}
	}
	events.ModeChanged(modes.Mode())

	loop := gps.NewLoop(engine, cfg.Engine.TickInterval)

	log.Info().
		Str("receiver", cfg.Receiver.Device).
		Int("baud", cfg.Receiver.Baud).
		Str("mode", modes.Mode().String()).
		Msg("gnss-bridge starting")

	go runIndicator(ctx, indicator)

	if cfg.Web.Enable {
		collector := metrics.NewCollector(engine, indicator, sinks)
		handler := web.Handler(
			web.NewStatus(engine, indicator),
			&control{loop: loop, modes: modes},
			logs,
			web.Routes{
				WebSocket: hub,
				Metrics:   metrics.Handler(collector, logCounter(logs)),
			},
			log,
		)
		go func() {
			log.Info().Str("listen", cfg.Web.Listen).Msg("web listening")
			if err := web.Serve(ctx, cfg.Web.Listen, handler); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("web server stopped")
			}
		}()
	}

	loop.Run(ctx)
	log.Info().Msg("gnss-bridge stopping")
	return ctx.Err()
}

type publisher interface {
	gps.NavPublisher
	gps.StatusPublisher
}

func addPublisher(e *gps.Engine, p publisher) error {
	if err := e.AddNavPublisher(p); err != nil {
		return err
	}
	return e.AddStatusPublisher(p)
}

func runIndicator(ctx context.Context, ind *status.Indicator) {
	t := time.NewTicker(indicatorInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			ind.Update(now)
		}
	}
}

func newLogger(cfg config.LogConfig, console io.Writer, logs *web.LogBuffer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := console
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}
	buf := zerolog.ConsoleWriter{Out: logs, NoColor: true, TimeFormat: time.RFC3339}
	w := zerolog.MultiLevelWriter(out, levelTee{w: buf, levels: logs})
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// levelTee formats through w and counts levels on the buffer.
type levelTee struct {
	w      io.Writer
	levels *web.LogBuffer
}

func (t levelTee) Write(p []byte) (int, error) { return t.w.Write(p) }

func (t levelTee) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.levels.CountLevel(level)
	return t.w.Write(p)
}

// gatedWriter drops output while enabled reports false. The host console
// carries raw receiver traffic in passthrough.
type gatedWriter struct {
	w       io.Writer
	enabled func() bool
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	if g.enabled != nil && !g.enabled() {
		return len(p), nil
	}
	return g.w.Write(p)
}

func logCounter(logs *web.LogBuffer) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "gnss_bridge_log_errors_total",
		Help: "Error level log events.",
	}, func() float64 {
		_, errs := logs.Counts()
		return float64(errs)
	})
}
