package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gnss-bridge/internal/serialport"
)

type Config struct {
	Receiver ReceiverConfig `yaml:"receiver"`
	Console  ConsoleConfig  `yaml:"console"`
	Store    StoreConfig    `yaml:"store"`
	Engine   EngineConfig   `yaml:"engine"`
	Publish  PublishConfig  `yaml:"publish"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

type ReceiverConfig struct {
	Device string `yaml:"device"`
	// Baud is the fallback rate when nothing valid is persisted.
	Baud int `yaml:"baud"`
	// PowerPin and PPSPin are BCM GPIO numbers; negative disables the line.
	PowerPin int `yaml:"power_pin"`
	PPSPin   int `yaml:"pps_pin"`
}

type ConsoleConfig struct {
	// Device "" or "-" uses stdin/stdout.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	StatusEvery  int           `yaml:"status_every"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

type PublishConfig struct {
	UDP  UDPConfig  `yaml:"udp"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// BufferLines sizes the in-memory tail served by /api/logs.
	BufferLines int `yaml:"buffer_lines"`
}

// Defaults returns the configuration used for keys missing from the file.
func Defaults() Config {
	return Config{
		Receiver: ReceiverConfig{
			Device:   "/dev/serial0",
			Baud:     115200,
			PowerPin: -1,
			PPSPin:   -1,
		},
		Console: ConsoleConfig{Baud: 115200},
		Store:   StoreConfig{Path: "/var/lib/gnss-bridge/store.yaml"},
		Engine: EngineConfig{
			StatusEvery:  5,
			TickInterval: time.Millisecond,
		},
		Publish: PublishConfig{
			UDP: UDPConfig{Dest: "255.255.255.255:4210"},
			MQTT: MQTTConfig{
				ClientID:       "gnss-bridge",
				Topic:          "gnss",
				ConnectTimeout: 5 * time.Second,
			},
		},
		Web: WebConfig{Enable: true, Listen: ":8080"},
		Log: LogConfig{Level: "info", BufferLines: 2000},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.Receiver.Device) == "" {
		return fmt.Errorf("receiver.device is required")
	}
	if !serialport.Supported(cfg.Receiver.Baud) {
		return fmt.Errorf("receiver.baud must be a standard rate in [4800,921600]")
	}
	if cfg.Console.Baud <= 0 {
		cfg.Console.Baud = 115200
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}

	if cfg.Engine.StatusEvery <= 0 {
		return fmt.Errorf("engine.status_every must be > 0")
	}
	if cfg.Engine.TickInterval <= 0 {
		cfg.Engine.TickInterval = time.Millisecond
	}
	if cfg.Engine.TickInterval > 100*time.Millisecond {
		return fmt.Errorf("engine.tick_interval must be <= 100ms")
	}

	if cfg.Publish.UDP.Enable {
		if _, _, err := net.SplitHostPort(cfg.Publish.UDP.Dest); err != nil {
			return fmt.Errorf("publish.udp.dest: %w", err)
		}
	}

	m := &cfg.Publish.MQTT
	if m.Enable {
		if strings.TrimSpace(m.Broker) == "" {
			return fmt.Errorf("publish.mqtt.broker is required when publish.mqtt.enable is true")
		}
		if m.QoS > 2 {
			return fmt.Errorf("publish.mqtt.qos must be 0, 1 or 2")
		}
		if strings.TrimSpace(m.Topic) == "" {
			m.Topic = "gnss"
		}
		if m.ConnectTimeout <= 0 {
			m.ConnectTimeout = 5 * time.Second
		}
	}

	if cfg.Web.Enable && strings.TrimSpace(cfg.Web.Listen) == "" {
		return fmt.Errorf("web.listen is required when web.enable is true")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "":
		cfg.Log.Level = "info"
	case "trace", "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 2000
	}
	return nil
}
