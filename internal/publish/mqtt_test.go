package publish

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gnss-bridge/internal/gps"
	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/status"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload string
}

type fakeMQTT struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (c *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, string(payload.([]byte))})
	return doneToken{err: c.err}
}

func (c *fakeMQTT) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestMQTT_Topics(t *testing.T) {
	fc := &fakeMQTT{}
	m := newMQTT(fc, MQTTConfig{Topic: "boat/gnss/", QoS: 1, Retain: true}, zerolog.Nop())

	m.PublishNavData(gps.NavDataSample{Latitude: 1, Longitude: 2})
	m.PublishSystemStatus(InitialStatus)

	require.Len(t, fc.msgs, 2)
	assert.Equal(t, published{"boat/gnss/nav", 1, false, `{"lt":1.000000,"lg":2.000000,"hd":0.0,"spd":0.0,"alt":0.0}`}, fc.msgs[0])
	assert.Equal(t, "boat/gnss/status", fc.msgs[1].topic)
	assert.True(t, fc.msgs[1].retain)

	require.Eventually(t, func() bool {
		sent, _ := m.Stats()
		return sent == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close())
	assert.True(t, fc.disconnected)
}

func TestMQTT_DefaultPrefixAndFailures(t *testing.T) {
	fc := &fakeMQTT{err: errors.New("not connected")}
	m := newMQTT(fc, MQTTConfig{}, zerolog.Nop())

	m.PublishSystemStatus(InitialStatus)
	assert.Equal(t, "gnss/status", fc.msgs[0].topic)
	require.Eventually(t, func() bool {
		_, failed := m.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{}, zerolog.Nop())
	require.Error(t, err)
}

func TestMQTT_DeviceEventsAreRetained(t *testing.T) {
	fc := &fakeMQTT{}
	m := newMQTT(fc, MQTTConfig{Topic: "boat/gnss"}, zerolog.Nop())
	events := EventFanout{m}

	events.PublishBaud(38400)
	m.ModeChanged(mode.Navigation)
	events.PublishIndicator(status.FixSync)

	require.Len(t, fc.msgs, 3)
	assert.Equal(t, published{"boat/gnss/baud", 0, true, `{"baud":38400}`}, fc.msgs[0])
	assert.Equal(t, published{"boat/gnss/mode", 0, true, `{"mode":"navigation","passthrough":false}`}, fc.msgs[1])
	assert.Equal(t, published{"boat/gnss/indicator", 0, true, `{"code":3,"name":"fix_sync"}`}, fc.msgs[2])
}
