package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete frame-broadcast configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id" validate:"required,instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s" validate:"gte=0"` // Graceful shutdown timeout in seconds (default: 5)
	Server           ServerConfig  `yaml:"server"`
	Source           SourceConfig  `yaml:"source"`
	Control          ControlConfig `yaml:"control"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Log              LogConfig     `yaml:"log"`
}

// ServerConfig contains the broadcast listener and wire settings
type ServerConfig struct {
	BindAddress        string        `yaml:"bind_address" validate:"omitempty,ip"`
	InterfacePrefix    string        `yaml:"interface_prefix"` // e.g. "en", "eth" (used when bind_address is empty)
	Port               int           `yaml:"port" validate:"gte=0,lte=65535"`
	FrameHeaderPadSize int           `yaml:"frame_header_pad_size" validate:"gte=0,lte=65536"`
	ContentType        string        `yaml:"content_type" validate:"omitempty,printascii"`
	Boundary           string        `yaml:"boundary" validate:"omitempty,printascii"`
	WriteTimeout       time.Duration `yaml:"write_timeout" validate:"gte=0"`        // 0 = no timeout
	RebindPollInterval time.Duration `yaml:"rebind_poll_interval" validate:"gte=0"` // 0 = address watcher disabled
}

// SourceConfig selects the internal frame producer
type SourceConfig struct {
	Type    string        `yaml:"type" validate:"oneof=none filesim rtsp"`
	FileSim FileSimConfig `yaml:"filesim"`
	RTSP    RTSPConfig    `yaml:"rtsp"`
}

// FileSimConfig replays files from a directory
type FileSimConfig struct {
	Dir     string  `yaml:"dir"`
	Pattern string  `yaml:"pattern"` // glob, default "*"
	FPS     float64 `yaml:"fps" validate:"gte=0,lte=240"`
	Loop    bool    `yaml:"loop"`
}

// RTSPConfig captures frames from an RTSP camera as JPEG
type RTSPConfig struct {
	URL          string  `yaml:"url" validate:"omitempty,url"`
	Width        int     `yaml:"width" validate:"gte=0"`
	Height       int     `yaml:"height" validate:"gte=0"`
	FPS          float64 `yaml:"fps" validate:"gte=0,lte=240"`
	JPEGQuality  int     `yaml:"jpeg_quality" validate:"gte=0,lte=100"`
	Acceleration string  `yaml:"acceleration" validate:"omitempty,oneof=auto vaapi software"`
}

// ControlConfig contains the HTTP control plane settings
type ControlConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"` // empty = disabled
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker        string        `yaml:"broker"` // empty = emitter disabled
	ClientID      string        `yaml:"client_id"`
	Topics        MQTTTopics    `yaml:"topics"`
	QoS           byte          `yaml:"qos" validate:"lte=2"`
	StatsInterval time.Duration `yaml:"stats_interval" validate:"gte=0"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Sessions string `yaml:"sessions"`
	Stats    string `yaml:"stats"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Load reads and parses a YAML configuration file.
//
// An empty path yields the defaults. Environment overrides apply after the
// file, then defaults, then validation.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides file values with FRAMEBROADCAST_* variables.
func applyEnv(cfg *Config) error {
	if raw := os.Getenv("FRAMEBROADCAST_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("FRAMEBROADCAST_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	cfg.InstanceID = firstNonEmpty(os.Getenv("FRAMEBROADCAST_INSTANCE_ID"), cfg.InstanceID)
	cfg.Server.BindAddress = firstNonEmpty(os.Getenv("FRAMEBROADCAST_BIND_ADDRESS"), cfg.Server.BindAddress)
	cfg.Control.Listen = firstNonEmpty(os.Getenv("FRAMEBROADCAST_CONTROL_LISTEN"), cfg.Control.Listen)
	cfg.MQTT.Broker = firstNonEmpty(os.Getenv("FRAMEBROADCAST_MQTT_BROKER"), cfg.MQTT.Broker)
	cfg.Log.Level = firstNonEmpty(os.Getenv("FRAMEBROADCAST_LOG_LEVEL"), cfg.Log.Level)

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
