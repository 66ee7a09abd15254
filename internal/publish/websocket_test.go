package publish

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/status"
	"gnss-bridge/internal/store"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHub_SendsLatestStatusOnConnect(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.PublishSystemStatus(gps.SystemStatusSample{Fix: 1, HDOP: 0.8, TTFFSeconds: 12, SignalsJSON: "[3,3]"})

	conn := dialHub(t, h)
	m := readMessage(t, conn)
	assert.Equal(t, "status", m.Type)
	assert.JSONEq(t, `{"fix":1,"hdop":0.8,"signals":[3,3],"ttff":12}`, string(m.Data))
}

func TestHub_BroadcastsSamples(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := dialHub(t, h)

	m := readMessage(t, conn)
	require.Equal(t, "status", m.Type)
	assert.JSONEq(t, `{"fix":0,"hdop":100.0,"signals":[],"ttff":-1}`, string(m.Data))
	require.Equal(t, 1, h.Clients())

	s := gps.NavDataSample{Latitude: 48.1, Longitude: 11.5}
	h.PublishNavData(s)
	h.PublishNavData(s)
	h.PublishSystemStatus(gps.SystemStatusSample{Fix: 1, HDOP: 1.2, SignalsJSON: "[1]"})

	m = readMessage(t, conn)
	assert.Equal(t, "nav", m.Type)
	assert.JSONEq(t, `{"lt":48.1,"lg":11.5,"hd":0,"spd":0,"alt":0}`, string(m.Data))

	// The duplicate nav sample was filtered.
	m = readMessage(t, conn)
	assert.Equal(t, "status", m.Type)
}

func TestHub_CloseDisconnects(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := dialHub(t, h)
	readMessage(t, conn)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_DeviceEvents(t *testing.T) {
	h := NewHub(zerolog.Nop())
	conn := dialHub(t, h)
	require.Equal(t, "status", readMessage(t, conn).Type)

	modes := mode.NewService(store.NewMemory().Namespace(mode.Namespace), nil, zerolog.Nop())
	require.NoError(t, modes.Subscribe(h))
	ind := status.NewIndicator(time.Now(), zerolog.Nop())
	ind.OnChange(h.PublishIndicator)

	h.PublishBaud(230400)
	_, err := modes.SetMode(mode.SerialPassthrough)
	require.NoError(t, err)
	ind.SetStatus(status.Ready)

	m := readMessage(t, conn)
	assert.Equal(t, "baud", m.Type)
	assert.JSONEq(t, `{"baud":230400}`, string(m.Data))
	m = readMessage(t, conn)
	assert.Equal(t, "mode", m.Type)
	assert.JSONEq(t, `{"mode":"passthrough","passthrough":true}`, string(m.Data))
	m = readMessage(t, conn)
	assert.Equal(t, "indicator", m.Type)
	assert.JSONEq(t, `{"code":5,"name":"ready"}`, string(m.Data))
}

func TestHub_ReplaysDeviceEventsOnConnect(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.PublishIndicator(status.NoFix)
	h.PublishBaud(9600)
	h.PublishBaud(115200)

	conn := dialHub(t, h)
	assert.Equal(t, "status", readMessage(t, conn).Type)

	m := readMessage(t, conn)
	assert.Equal(t, "baud", m.Type)
	assert.JSONEq(t, `{"baud":115200}`, string(m.Data))
	m = readMessage(t, conn)
	assert.Equal(t, "indicator", m.Type)
	assert.JSONEq(t, `{"code":2,"name":"no_fix"}`, string(m.Data))
}
