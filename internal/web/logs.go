package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogBuffer keeps the most recent log lines for /api/logs. It is a zerolog
// LevelWriter; plain io.Writer use is accepted too.
type LogBuffer struct {
	mu       sync.Mutex
	max      int
	lines    []string
	partial  []byte
	dropped  uint64
	warnings uint64
	errors   uint64
}

var _ zerolog.LevelWriter = (*LogBuffer)(nil)

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write collects complete lines; a trailing fragment waits for the next
// call.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.partial) > 0 {
		data = append(b.partial, p...)
		b.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLineLocked(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > 0 {
		b.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

func (b *LogBuffer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	b.CountLevel(level)
	return b.Write(p)
}

// CountLevel records one event at level without storing a line. It serves
// callers that format lines through another writer first.
func (b *LogBuffer) CountLevel(level zerolog.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case level == zerolog.WarnLevel:
		b.warnings++
	case level >= zerolog.ErrorLevel && level <= zerolog.PanicLevel:
		b.errors++
	}
}

func (b *LogBuffer) appendLineLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		over := len(b.lines) - b.max
		b.lines = b.lines[over:]
		b.dropped += uint64(over)
	}
}

type LogsResponse struct {
	NowUTC   string   `json:"now_utc"`
	Dropped  uint64   `json:"dropped"`
	Warnings uint64   `json:"warnings"`
	Errors   uint64   `json:"errors"`
	Lines    []string `json:"lines"`
}

func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped = b.dropped
	if tail <= 0 {
		tail = 200
	}
	if tail > len(b.lines) {
		tail = len(b.lines)
	}
	start := len(b.lines) - tail
	lines = append([]string(nil), b.lines[start:]...)
	return lines, dropped
}

// Counts returns how many warning and error events were written.
func (b *LogBuffer) Counts() (warnings, errors uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.warnings, b.errors
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}

		tail := 200
		if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}

		lines, dropped := b.Snapshot(tail)
		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = w.Write([]byte(line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}

		warnings, errs := b.Counts()
		resp := LogsResponse{
			NowUTC:   time.Now().UTC().Format(time.RFC3339Nano),
			Dropped:  dropped,
			Warnings: warnings,
			Errors:   errs,
			Lines:    lines,
		}
		bts, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSONBytes(w, http.StatusOK, bts)
	})
}
