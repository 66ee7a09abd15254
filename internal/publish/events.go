package publish

import (
	"fmt"

	"gnss-bridge/internal/mode"
	"gnss-bridge/internal/status"
)

// Device events. They change rarely and are replayed to new WebSocket
// clients and retained on MQTT.
const (
	eventBaud      = "baud"
	eventMode      = "mode"
	eventIndicator = "indicator"
)

var eventKinds = [...]string{eventBaud, eventMode, eventIndicator}

func BaudJSON(baud int) []byte {
	return []byte(fmt.Sprintf(`{"baud":%d}`, baud))
}

func ModeJSON(m mode.Mode) []byte {
	return []byte(fmt.Sprintf(`{"mode":%q,"passthrough":%t}`, m.String(), m == mode.SerialPassthrough))
}

func IndicatorJSON(c status.Code) []byte {
	return []byte(fmt.Sprintf(`{"code":%d,"name":%q}`, uint8(c), c.String()))
}

// Events is implemented by the sinks that carry device events.
type Events interface {
	PublishBaud(baud int)
	mode.Listener
	PublishIndicator(c status.Code)
}

var (
	_ Events = (*Hub)(nil)
	_ Events = (*MQTT)(nil)
	_ Events = EventFanout(nil)
)

func (h *Hub) PublishBaud(baud int) { h.publishEvent(eventBaud, BaudJSON(baud)) }

// ModeChanged makes the hub a mode.Listener.
func (h *Hub) ModeChanged(m mode.Mode) { h.publishEvent(eventMode, ModeJSON(m)) }

func (h *Hub) PublishIndicator(c status.Code) {
	h.publishEvent(eventIndicator, IndicatorJSON(c))
}

func (h *Hub) publishEvent(kind string, data []byte) {
	msg := encodeMessage(kind, data)
	h.mu.Lock()
	h.lastEvents[kind] = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

func (m *MQTT) PublishBaud(baud int) {
	m.publish(m.prefix+"/"+eventBaud, true, BaudJSON(baud))
}

// ModeChanged makes the MQTT sink a mode.Listener.
func (m *MQTT) ModeChanged(md mode.Mode) {
	m.publish(m.prefix+"/"+eventMode, true, ModeJSON(md))
}

func (m *MQTT) PublishIndicator(c status.Code) {
	m.publish(m.prefix+"/"+eventIndicator, true, IndicatorJSON(c))
}

// EventFanout forwards device events to several sinks.
type EventFanout []Events

func (f EventFanout) PublishBaud(baud int) {
	for _, e := range f {
		e.PublishBaud(baud)
	}
}

func (f EventFanout) ModeChanged(m mode.Mode) {
	for _, e := range f {
		e.ModeChanged(m)
	}
}

func (f EventFanout) PublishIndicator(c status.Code) {
	for _, e := range f {
		e.PublishIndicator(c)
	}
}
