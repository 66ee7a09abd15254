package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/profile"
	"gnss-bridge/internal/ubx"
)

// requestTimeout bounds engine requests. A full profile apply with
// verification takes a few seconds when the receiver stops answering.
const requestTimeout = 30 * time.Second

const maxBody = 4 << 10

// Controller runs receiver actions. Implementations must be safe to call
// concurrently; cmd/gnss-bridge serializes them onto the engine loop.
type Controller interface {
	SetProfile(ctx context.Context, c profile.Constellation) (gps.ApplyReport, error)
	SetSettingsProfile(ctx context.Context, s profile.Settings) (gps.ApplyReport, error)
	SetCustomProfileCommand(ctx context.Context, cmd ubx.Command) error
	SetCustomSettingsCommand(ctx context.Context, cmd ubx.Command) error
	SetBaud(ctx context.Context, baud int) error
	SetMode(ctx context.Context, m mode.Mode) (changed bool, err error)
}

// Routes are optional handlers mounted next to the API.
type Routes struct {
	WebSocket http.Handler
	Metrics   http.Handler
}

type server struct {
	status *Status
	ctl    Controller
	log    zerolog.Logger
}

func Handler(status *Status, ctl Controller, logs *LogBuffer, routes Routes, log zerolog.Logger) http.Handler {
	if status == nil {
		status = NewStatus(nil, nil)
	}
	s := &server{status: status, ctl: ctl, log: log.With().Str("component", "web").Logger()}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/api/settings-profile", s.handleSettingsProfile)
	mux.HandleFunc("/api/custom/profile", s.handleCustom(func(ctx context.Context, cmd ubx.Command) error {
		return s.ctl.SetCustomProfileCommand(ctx, cmd)
	}))
	mux.HandleFunc("/api/custom/settings", s.handleCustom(func(ctx context.Context, cmd ubx.Command) error {
		return s.ctl.SetCustomSettingsCommand(ctx, cmd)
	}))
	mux.HandleFunc("/api/baud", s.handleBaud)
	mux.HandleFunc("/api/mode", s.handleMode)

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if routes.WebSocket != nil {
		mux.Handle("/ws", routes.WebSocket)
	}
	if routes.Metrics != nil {
		mux.Handle("/metrics", routes.Metrics)
	}

	mux.HandleFunc("/", s.handleRoot)
	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSONBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	writeJSONBytes(w, code, b)
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// writeError maps engine errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, gps.ErrPassthrough):
		code = http.StatusConflict
	case errors.Is(err, gps.ErrBaudOutOfRange),
		errors.Is(err, gps.ErrBaudUnchanged),
		errors.Is(err, profile.ErrInvalidProfile),
		errors.Is(err, ubx.ErrInvalidCommand),
		errors.Is(err, mode.ErrInvalidMode),
		errors.Is(err, errBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *server) controllerReady(w http.ResponseWriter) bool {
	if s.ctl == nil {
		http.Error(w, "receiver control unavailable", http.StatusNotFound)
		return false
	}
	return true
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.status.Snapshot(time.Now().UTC()))
}

type profileRequest struct {
	Profile string `json:"profile"`
}

type verifyResponse struct {
	Checked  int      `json:"checked"`
	Failures []string `json:"failures,omitempty"`
}

type applyResponse struct {
	OK          bool           `json:"ok"`
	Requested   string         `json:"requested"`
	Effective   string         `json:"effective"`
	Substituted bool           `json:"substituted"`
	Error       string         `json:"error,omitempty"`
	Verify      verifyResponse `json:"verify"`
}

func newApplyResponse(rep gps.ApplyReport) applyResponse {
	resp := applyResponse{
		OK:          rep.OK(),
		Requested:   rep.Requested,
		Effective:   rep.Effective,
		Substituted: rep.Substituted,
		Verify:      verifyResponse{Checked: rep.Verify.Checked},
	}
	if rep.Err != nil {
		resp.Error = rep.Err.Error()
	} else if err := rep.Verify.Err(); err != nil {
		resp.Error = err.Error()
	}
	for _, f := range rep.Verify.Failures {
		resp.Verify.Failures = append(resp.Verify.Failures, f.String())
	}
	return resp
}

func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.controllerReady(w) {
		return
	}
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := profile.ParseConstellation(req.Profile)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rep, err := s.ctl.SetProfile(ctx, c)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("profile", c.String()).Bool("ok", rep.OK()).Msg("constellation profile set via api")
	writeJSON(w, http.StatusOK, newApplyResponse(rep))
}

func (s *server) handleSettingsProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.controllerReady(w) {
		return
	}
	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := profile.ParseSettings(req.Profile)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rep, err := s.ctl.SetSettingsProfile(ctx, p)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("profile", p.String()).Bool("ok", rep.OK()).Msg("settings profile set via api")
	writeJSON(w, http.StatusOK, newApplyResponse(rep))
}

type customRequest struct {
	// Hex is the full UBX frame; empty clears the slot.
	Hex string `json:"hex"`
}

func (s *server) handleCustom(set func(context.Context, ubx.Command) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) || !s.controllerReady(w) {
			return
		}
		var req customRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		var cmd ubx.Command
		if strings.TrimSpace(req.Hex) != "" {
			var err error
			if cmd, err = ubx.ParseHex(req.Hex); err != nil {
				writeError(w, err)
				return
			}
		}
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		if err := set(ctx, cmd); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bytes": len(cmd)})
	}
}

type baudRequest struct {
	Baud int `json:"baud"`
}

func (s *server) handleBaud(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.controllerReady(w) {
		return
	}
	var req baudRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if err := s.ctl.SetBaud(ctx, req.Baud); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "baud": req.Baud})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *server) handleMode(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.controllerReady(w) {
		return
	}
	var req modeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := mode.Parse(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	changed, err := s.ctl.SetMode(ctx, m)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": m.String(), "changed": changed})
}

func (s *server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	snap := s.status.Snapshot(time.Now().UTC())
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gnss-bridge</title></head><body>")
	_, _ = fmt.Fprintf(w, "<h1>gnss-bridge</h1>")
	_, _ = fmt.Fprintf(w, "<p>API: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/logs?format=text\">/api/logs</a>.</p>")
	if g := snap.GNSS; g != nil {
		_, _ = fmt.Fprintf(w, "<pre>mode=%s\nbaud=%d\nlink=%t configured=%t\nconstellation=%s\nsettings=%s\nfix=%t hdop=%.1f used=%d\nttff_s=%d</pre>",
			html.EscapeString(g.Mode), g.Baud, g.LinkOK, g.Configured,
			html.EscapeString(g.Constellation), html.EscapeString(g.Settings),
			g.Fix, g.HDOP, g.SatellitesUsed, g.TTFFSeconds,
		)
	}
	_, _ = fmt.Fprintf(w, "</body></html>")
}

// Serve runs the HTTP server until ctx is done.
func Serve(ctx context.Context, listenAddr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Profile changes can hold a request for several seconds.
		WriteTimeout:   requestTimeout + 5*time.Second,
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
