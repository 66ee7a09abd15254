package publish

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"gnss-bridge/internal/gps"
)

// MQTTConfig selects the broker and topics.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic prefix; samples go to <prefix>/nav and <prefix>/status,
	// device events to <prefix>/baud, <prefix>/mode and <prefix>/indicator.
	Topic string
	QoS   byte
	// Retain applies to status messages only.
	Retain         bool
	ConnectTimeout time.Duration
}

const publishWait = 2 * time.Second

// mqttClient is the part of mqtt.Client used here.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes samples to a broker. Publishing never blocks the caller;
// delivery results are logged asynchronously.
type MQTT struct {
	client      mqttClient
	prefix      string
	navTopic    string
	statusTopic string
	qos         byte
	retain      bool
	log         zerolog.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewMQTT(cfg MQTTConfig, log zerolog.Logger) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gnss-bridge"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	log = log.With().Str("component", "publish").Str("sink", "mqtt").Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("broker connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("broker connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	// With ConnectRetry the token only completes once connected. A timeout
	// leaves the client retrying in the background.
	if token := client.Connect(); token.WaitTimeout(cfg.ConnectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return newMQTT(client, cfg, log), nil
}

func newMQTT(client mqttClient, cfg MQTTConfig, log zerolog.Logger) *MQTT {
	prefix := strings.TrimSuffix(cfg.Topic, "/")
	if prefix == "" {
		prefix = "gnss"
	}
	return &MQTT{
		client:      client,
		prefix:      prefix,
		navTopic:    prefix + "/nav",
		statusTopic: prefix + "/status",
		qos:         cfg.QoS,
		retain:      cfg.Retain,
		log:         log,
	}
}

func (m *MQTT) PublishNavData(s gps.NavDataSample) {
	m.publish(m.navTopic, false, NavJSON(s))
}

func (m *MQTT) PublishSystemStatus(s gps.SystemStatusSample) {
	m.publish(m.statusTopic, m.retain, StatusJSON(s))
}

func (m *MQTT) publish(topic string, retain bool, payload []byte) {
	token := m.client.Publish(topic, m.qos, retain, payload)
	go func() {
		if !token.WaitTimeout(publishWait) {
			m.failed.Add(1)
			m.log.Debug().Str("topic", topic).Msg("publish not confirmed")
			return
		}
		if err := token.Error(); err != nil {
			m.failed.Add(1)
			m.log.Debug().Err(err).Str("topic", topic).Msg("publish failed")
			return
		}
		m.sent.Add(1)
	}()
}

// Stats returns confirmed and failed publish counts.
func (m *MQTT) Stats() (sent, failed uint64) {
	return m.sent.Load(), m.failed.Load()
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
