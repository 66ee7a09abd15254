package gps

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"gnss-bridge/internal/profile"
	"gnss-bridge/internal/serialport"
	"gnss-bridge/internal/status"
	"gnss-bridge/internal/store"
	"gnss-bridge/internal/ubx"
)

const (
	// OutputInterval is the minimum spacing of navigation updates.
	OutputInterval = 100 * time.Millisecond

	// DefaultStatusEvery is how many navigation updates pass between status
	// change checks.
	DefaultStatusEvery = 5

	DefaultBaud = 115200

	// KeyBaud is the store key holding the receiver baud rate.
	KeyBaud = "baud"

	minActiveForFix = 4
	relayChunk      = 256
)

var (
	ErrPassthrough    = errors.New("gps: receiver is in serial passthrough")
	ErrBaudOutOfRange = fmt.Errorf("gps: baud must be a standard rate in [%d, %d]", serialport.MinBaud, serialport.MaxBaud)
	ErrBaudUnchanged  = errors.New("gps: baud unchanged")
)

// Swapped by tests.
var (
	nowFn   = time.Now
	sleepFn = time.Sleep
)

// NavDataSample is one position report. Speed is m/s, heading degrees
// 0..360, altitude metres.
type NavDataSample struct {
	Latitude  float64
	Longitude float64
	Heading   float64
	Speed     float64
	Altitude  float64
}

// SystemStatusSample summarizes receiver health for subscribers.
type SystemStatusSample struct {
	Fix         uint8
	HDOP        float64
	Satellites  uint8
	TTFFSeconds int32
	// SignalsJSON lists one level per active satellite, e.g. [1,2,2,3].
	SignalsJSON string
}

type NavPublisher interface {
	PublishNavData(NavDataSample)
}

type StatusPublisher interface {
	PublishSystemStatus(SystemStatusSample)
}

// ModeSource is polled every tick.
type ModeSource interface {
	IsSerialPassthrough() bool
}

type StatusSink interface {
	Status() status.Code
	SetStatus(status.Code)
}

// Power switches the receiver supply on at startup.
type Power interface {
	On() error
}

// Port is the receiver UART. Read must not block.
type Port interface {
	io.ReadWriter
	SetBaud(baud int) error
	Flush() error
}

type Config struct {
	Port    Port
	Console io.ReadWriter
	Store   store.Namespace
	Mode    ModeSource
	Status  StatusSink
	Power   Power
	Logger  zerolog.Logger

	// DefaultBaud is used when nothing valid is stored.
	DefaultBaud int
	// StatusEvery defaults to DefaultStatusEvery.
	StatusEvery int

	// OnBaudChange is called after a successful SetBaud.
	OnBaudChange func(baud int)
}

// ApplyReport describes one profile change.
type ApplyReport struct {
	Requested   string
	Effective   string
	Substituted bool
	Err         error
	Verify      ubx.VerifyReport
}

// OK reports whether the sequence was acknowledged and read back intact.
func (r ApplyReport) OK() bool { return r.Err == nil && r.Verify.OK() }

// Engine drives one u-blox receiver. All methods except Snapshot must be
// called from a single goroutine (see Loop).
type Engine struct {
	port     Port
	console  io.ReadWriter
	ns       store.Namespace
	mode     ModeSource
	status   StatusSink
	power    Power
	log      zerolog.Logger
	profiles *profile.Manager
	tr       *ubx.Transport

	defaultBaud  int
	baud         int
	statusEvery  int
	onBaudChange func(int)

	lines lineAssembler
	nav   navState
	state RuntimeState

	navPubs    registry[NavPublisher]
	statusPubs registry[StatusPublisher]

	prevFix     uint8
	prevHDOP10  int
	prevSignals SignalLevels

	parserEnabled bool
	relayed       relayCounters
	buf           [relayChunk]byte

	snap atomic.Value
}

type relayCounters struct {
	toConsole  atomic.Uint64
	toReceiver atomic.Uint64
}

func New(cfg Config) (*Engine, error) {
	if cfg.Port == nil {
		return nil, fmt.Errorf("gps: port is required")
	}
	if cfg.Store == nil || cfg.Mode == nil || cfg.Status == nil {
		return nil, fmt.Errorf("gps: store, mode and status are required")
	}
	if cfg.DefaultBaud == 0 {
		cfg.DefaultBaud = DefaultBaud
	}
	if !serialport.Supported(cfg.DefaultBaud) {
		return nil, fmt.Errorf("gps: default baud %d: %w", cfg.DefaultBaud, ErrBaudOutOfRange)
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = DefaultStatusEvery
	}

	log := cfg.Logger.With().Str("component", "gps").Logger()
	e := &Engine{
		port:         cfg.Port,
		console:      cfg.Console,
		ns:           cfg.Store,
		mode:         cfg.Mode,
		status:       cfg.Status,
		power:        cfg.Power,
		log:          log,
		profiles:     profile.NewManager(cfg.Store, cfg.Logger.With().Str("component", "profile").Logger()),
		defaultBaud:  cfg.DefaultBaud,
		baud:         cfg.DefaultBaud,
		statusEvery:  cfg.StatusEvery,
		onBaudChange: cfg.OnBaudChange,
		nav:          newNavState(),
	}
	e.tr = ubx.NewTransport(cfg.Port,
		ubx.WithLogger(cfg.Logger.With().Str("component", "ubx").Logger()),
		ubx.WithClock(func() time.Time { return nowFn() }, func(d time.Duration) { sleepFn(d) }),
	)
	e.resetState(nowFn())
	e.publishSnapshot()
	return e, nil
}

// Profiles exposes the profile manager for read access.
func (e *Engine) Profiles() *profile.Manager { return e.profiles }

func (e *Engine) Baud() int { return e.baud }

func (e *Engine) AddNavPublisher(p NavPublisher) error {
	return e.navPubs.add(p)
}

func (e *Engine) AddStatusPublisher(p StatusPublisher) error {
	return e.statusPubs.add(p)
}

// Begin powers the receiver and runs the startup configuration. In
// passthrough the configuration is skipped and the first Tick enters the
// relay.
func (e *Engine) Begin() {
	e.resetState(nowFn())
	e.baud = e.loadBaud()
	e.profiles.Load()

	if e.power != nil {
		if err := e.power.On(); err != nil {
			e.log.Warn().Err(err).Msg("receiver power on failed")
		}
	}
	e.configurePort(true)

	if e.mode.IsSerialPassthrough() {
		e.log.Info().Int("baud", e.baud).Msg("starting in serial passthrough; skipping receiver configuration")
		e.publishSnapshot()
		return
	}

	sleepFn(ubx.PowerUpSettle)
	e.startup()
	e.publishSnapshot()
}

func (e *Engine) startup() {
	if err := e.tr.Run(ubx.DisableNMEA, "disable-nmea"); err != nil {
		e.log.Warn().Err(err).Msg("disable NMEA failed")
	}

	probeErr := e.tr.Probe()
	var (
		settingsErr = errSkipped
		profileErr  = errSkipped
		report      ubx.VerifyReport
	)
	if probeErr == nil {
		settings := e.profiles.SettingsSequence(e.profiles.Settings())
		settingsErr = e.tr.Run(settings.Sequence, "settings")
		if settingsErr != nil {
			e.log.Warn().Err(settingsErr).Str("profile", settings.Name).Msg("settings profile failed")
		}

		c := e.profiles.Constellation()
		cons := e.profiles.ConstellationSequence(c)
		profileErr = e.tr.Run(cons.Sequence, "constellation")
		if profileErr != nil {
			e.log.Warn().Err(profileErr).Str("profile", cons.Name).Msg("constellation profile failed")
		}

		report = e.tr.Verify(e.profiles.VerificationTargets(c))
		if !report.OK() {
			e.log.Warn().Err(report.Err()).Int("failures", len(report.Failures)).Msg("configuration read-back failed")
		}
	} else {
		e.log.Warn().Err(probeErr).Msg("receiver did not answer; configuration skipped")
	}

	if err := e.tr.Run(ubx.EnableNMEA, "enable-nmea"); err != nil {
		e.log.Warn().Err(err).Msg("enable NMEA failed")
	}
	e.tr.Drain(ubx.DrainWindow)

	e.state.UBXLinkOK = probeErr == nil && report.OK()
	e.state.UBXConfigured = e.state.UBXLinkOK && settingsErr == nil && profileErr == nil
	e.log.Info().
		Bool("link", e.state.UBXLinkOK).
		Bool("configured", e.state.UBXConfigured).
		Str("constellation", e.profiles.Constellation().String()).
		Str("settings", e.profiles.Settings().String()).
		Msg("receiver startup done")
}

var errSkipped = errors.New("skipped")

func (e *Engine) loadBaud() int {
	v, ok := e.ns.Uint32(KeyBaud)
	if !ok {
		return e.defaultBaud
	}
	if !serialport.Supported(int(v)) {
		e.log.Warn().Uint32("stored", v).Int("default", e.defaultBaud).Msg("stored baud not supported")
		return e.defaultBaud
	}
	return int(v)
}

// configurePort re-applies the line rate, which also flushes the input, and
// restarts framing.
func (e *Engine) configurePort(parser bool) {
	if err := e.port.SetBaud(e.baud); err != nil {
		e.log.Warn().Err(err).Int("baud", e.baud).Msg("receiver port configure failed")
	}
	e.tr.Reset()
	e.lines.reset()
	e.parserEnabled = parser
}

func (e *Engine) resetState(now time.Time) {
	link, configured, passthrough := e.state.UBXLinkOK, e.state.UBXConfigured, e.state.PassthroughActive
	e.state = RuntimeState{
		Started:           now,
		LastOutput:        now,
		TTFFSeconds:       -1,
		PassthroughActive: passthrough,
		UBXLinkOK:         link,
		UBXConfigured:     configured,
	}
	e.nav = newNavState()
	e.prevFix = 255
	e.prevHDOP10 = -1
	e.prevSignals = SignalLevels{Weak: 255, Medium: 255, Strong: 255}
}

// Tick runs one step: mode changes, then either the relay or navigation.
func (e *Engine) Tick() {
	now := nowFn()
	want := e.mode.IsSerialPassthrough()
	if want != e.state.PassthroughActive {
		if want {
			e.enterPassthrough(now)
		} else {
			e.enterNavigation(now)
		}
		e.publishSnapshot()
	}

	if e.state.PassthroughActive {
		e.relay()
		return
	}
	e.feed(now)
	if now.Sub(e.state.LastOutput) > OutputInterval {
		e.state.LastOutput = now
		e.processNavigation(now)
	}
}

func (e *Engine) enterPassthrough(now time.Time) {
	e.configurePort(false)
	e.status.SetStatus(status.Ready)
	e.state.PassthroughActive = true
	e.resetState(now)
	e.log.Info().Int("baud", e.baud).Msg("serial passthrough on")
}

func (e *Engine) enterNavigation(now time.Time) {
	e.configurePort(true)
	e.state.PassthroughActive = false
	e.resetState(now)
	e.log.Info().Int("baud", e.baud).Msg("navigation mode on")
}

// relay copies whatever is waiting in either direction.
func (e *Engine) relay() {
	for {
		n, err := e.port.Read(e.buf[:])
		if n > 0 && e.console != nil {
			if _, werr := e.console.Write(e.buf[:n]); werr != nil {
				e.log.Debug().Err(werr).Msg("console write")
			}
			e.relayed.toConsole.Add(uint64(n))
		}
		if n == 0 || err != nil {
			break
		}
	}
	if e.console == nil {
		return
	}
	for {
		n, err := e.console.Read(e.buf[:])
		if n > 0 {
			if _, werr := e.port.Write(e.buf[:n]); werr != nil {
				e.log.Debug().Err(werr).Msg("receiver write")
			}
			e.relayed.toReceiver.Add(uint64(n))
		}
		if n == 0 || err != nil {
			break
		}
	}
}

// feed hands pending receiver bytes to the NMEA line assembler.
func (e *Engine) feed(now time.Time) {
	for reads := 0; reads < 4; reads++ {
		n, err := e.port.Read(e.buf[:])
		for _, b := range e.buf[:n] {
			line, ok := e.lines.push(b)
			if !ok {
				continue
			}
			if !e.nav.apply(now, line, &e.state.Satellites) {
				e.log.Debug().Str("line", line).Msg("nmea parse failed")
			}
		}
		if n == 0 || err != nil {
			if err != nil && !errors.Is(err, io.EOF) {
				e.log.Debug().Err(err).Msg("receiver read")
			}
			return
		}
	}
}

// activeCount is the number of satellites used in the fix.
func (e *Engine) activeCount() uint8 {
	if e.nav.satsUsed > 0 {
		return clampByte(int64(e.nav.satsUsed))
	}
	return e.state.ActiveSatellites
}

func (e *Engine) processNavigation(now time.Time) {
	fix := e.nav.fix(now)
	lv := e.state.classifySignals()
	active := e.activeCount()

	code := e.DetermineSystemStatus(fix, active)
	if code != e.status.Status() {
		e.status.SetStatus(code)
	}

	if fix {
		if !e.state.FirstFixCaptured {
			e.state.FirstFixCaptured = true
			e.state.TTFFSeconds = int32(now.Sub(e.state.Started) / time.Second)
			e.log.Info().Int32("ttff_s", e.state.TTFFSeconds).Msg("first fix")
		}
		sample := e.nav.sample()
		e.navPubs.each(func(p NavPublisher) { p.PublishNavData(sample) })
	}

	// Counts output ticks, fix or not, so a lost fix is still reported.
	e.state.NavUpdateCounter++
	if e.state.NavUpdateCounter >= e.statusEvery {
		var fixByte uint8
		if fix {
			fixByte = 1
		}
		hdop10 := int(e.nav.hdop*10 + 0.5)
		if fixByte != e.prevFix || hdop10 != e.prevHDOP10 || lv != e.prevSignals {
			sample := SystemStatusSample{
				Fix:         fixByte,
				HDOP:        e.nav.hdop,
				Satellites:  active,
				TTFFSeconds: e.state.TTFFSeconds,
				SignalsJSON: signalsJSON(lv),
			}
			e.statusPubs.each(func(p StatusPublisher) { p.PublishSystemStatus(sample) })
			e.prevFix = fixByte
			e.prevHDOP10 = hdop10
			e.prevSignals = lv
			e.state.NavUpdateCounter = 0
		}
	}
	e.publishSnapshot()
}

// DetermineSystemStatus ranks the boot override first, then link health,
// then fix quality.
func (e *Engine) DetermineSystemStatus(fix bool, active uint8) status.Code {
	if e.status.Status() == status.Booting {
		return status.Booting
	}
	if !e.state.UBXLinkOK {
		return status.NoModem
	}
	if !fix || active < minActiveForFix {
		return status.NoFix
	}
	if fix && active >= minActiveForFix {
		return status.FixSync
	}
	return status.Ready
}

// SetBaud changes the host side UART rate and persists it.
func (e *Engine) SetBaud(baud int) error {
	if !serialport.Supported(baud) {
		return fmt.Errorf("%w: %d", ErrBaudOutOfRange, baud)
	}
	if baud == e.baud {
		return ErrBaudUnchanged
	}
	if err := e.port.SetBaud(baud); err != nil {
		return fmt.Errorf("gps: set baud %d: %w", baud, err)
	}
	old := e.baud
	e.baud = baud
	e.tr.Reset()
	e.lines.reset()
	if err := e.ns.PutUint32(KeyBaud, uint32(baud)); err != nil {
		e.log.Warn().Err(err).Msg("persist baud failed")
	}
	e.log.Info().Int("from", old).Int("to", baud).Msg("baud changed")
	if e.onBaudChange != nil {
		e.onBaudChange(baud)
	}
	e.publishSnapshot()
	return nil
}

func (e *Engine) passthrough() bool {
	return e.state.PassthroughActive || e.mode.IsSerialPassthrough()
}

// SetProfile selects, persists and applies a constellation profile.
func (e *Engine) SetProfile(c profile.Constellation) (ApplyReport, error) {
	if e.passthrough() {
		return ApplyReport{}, ErrPassthrough
	}
	if !c.Valid() {
		return ApplyReport{}, profile.ErrInvalidProfile
	}
	if err := e.profiles.SelectConstellation(c); err != nil {
		e.log.Warn().Err(err).Msg("persist constellation profile failed")
	}
	res := e.profiles.ConstellationSequence(c)
	rep := e.apply(res, c.String(), "constellation", e.profiles.VerificationTargets(c))
	return rep, nil
}

// SetSettingsProfile selects, persists and applies a settings profile.
func (e *Engine) SetSettingsProfile(s profile.Settings) (ApplyReport, error) {
	if e.passthrough() {
		return ApplyReport{}, ErrPassthrough
	}
	if !s.Valid() {
		return ApplyReport{}, profile.ErrInvalidProfile
	}
	if err := e.profiles.SelectSettings(s); err != nil {
		e.log.Warn().Err(err).Msg("persist settings profile failed")
	}
	res := e.profiles.SettingsSequence(s)
	rep := e.apply(res, s.String(), "settings", nil)
	return rep, nil
}

func (e *Engine) apply(res profile.Resolution, requested, label string, targets []ubx.KeyValue) ApplyReport {
	rep := ApplyReport{Requested: requested, Effective: res.Name, Substituted: res.Substituted}

	if err := e.tr.Run(ubx.DisableNMEA, "disable-nmea"); err != nil {
		e.log.Warn().Err(err).Msg("disable NMEA failed")
	}
	rep.Err = e.tr.Run(res.Sequence, label)
	if rep.Err == nil {
		rep.Verify = e.tr.Verify(targets)
	}
	if err := e.tr.Run(ubx.EnableNMEA, "enable-nmea"); err != nil {
		e.log.Warn().Err(err).Msg("enable NMEA failed")
	}
	e.tr.Drain(ubx.DrainWindow)
	e.lines.reset()

	e.state.UBXConfigured = rep.OK()
	if errors.Is(rep.Err, ubx.ErrTimeout) {
		e.state.UBXLinkOK = false
	} else if rep.Err == nil {
		e.state.UBXLinkOK = rep.Verify.OK()
	}

	ev := e.log.Info()
	if !rep.OK() {
		ev = e.log.Warn()
		if rep.Err == nil {
			ev = ev.Err(rep.Verify.Err())
		} else {
			ev = ev.Err(rep.Err)
		}
	}
	ev.Str("requested", rep.Requested).
		Str("effective", rep.Effective).
		Bool("substituted", rep.Substituted).
		Msgf("%s profile applied", label)
	e.publishSnapshot()
	return rep
}

// SetCustomProfileCommand stores the custom constellation command. An empty
// command clears the slot. It is applied on the next selection of Custom.
func (e *Engine) SetCustomProfileCommand(cmd ubx.Command) error {
	return e.profiles.SetCustomProfileCommand(cmd)
}

func (e *Engine) SetCustomSettingsCommand(cmd ubx.Command) error {
	return e.profiles.SetCustomSettingsCommand(cmd)
}

// State returns a copy of the runtime state. Loop goroutine only.
func (e *Engine) State() RuntimeState { return e.state }
