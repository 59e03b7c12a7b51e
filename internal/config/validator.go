package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("instance_id", func(fl validator.FieldLevel) bool {
		return instanceIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate fills defaults and checks the configuration
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	// Source-specific requirements
	switch cfg.Source.Type {
	case "filesim":
		if cfg.Source.FileSim.Dir == "" {
			return fmt.Errorf("source.filesim.dir is required for source type filesim")
		}
	case "rtsp":
		if cfg.Source.RTSP.URL == "" {
			return fmt.Errorf("source.rtsp.url is required for source type rtsp")
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "frame-broadcast"
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.FrameHeaderPadSize == 0 {
		cfg.Server.FrameHeaderPadSize = 100
	}
	if cfg.Server.ContentType == "" {
		cfg.Server.ContentType = "application/json"
	}
	if cfg.Server.Boundary == "" {
		cfg.Server.Boundary = "0123456789876543210"
	}

	// Source defaults
	if cfg.Source.Type == "" {
		cfg.Source.Type = "none"
	}
	if cfg.Source.FileSim.Pattern == "" {
		cfg.Source.FileSim.Pattern = "*"
	}
	if cfg.Source.FileSim.FPS == 0 {
		cfg.Source.FileSim.FPS = 10
	}
	if cfg.Source.RTSP.Width == 0 {
		cfg.Source.RTSP.Width = 640
	}
	if cfg.Source.RTSP.Height == 0 {
		cfg.Source.RTSP.Height = 360
	}
	if cfg.Source.RTSP.FPS == 0 {
		cfg.Source.RTSP.FPS = 10
	}
	if cfg.Source.RTSP.JPEGQuality == 0 {
		cfg.Source.RTSP.JPEGQuality = 85
	}
	if cfg.Source.RTSP.Acceleration == "" {
		cfg.Source.RTSP.Acceleration = "auto"
	}

	// Set default topics if not provided
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.InstanceID
	}
	if cfg.MQTT.Topics.Sessions == "" {
		cfg.MQTT.Topics.Sessions = fmt.Sprintf("care/broadcast/%s/sessions", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Stats == "" {
		cfg.MQTT.Topics.Stats = fmt.Sprintf("care/broadcast/%s/stats", cfg.InstanceID)
	}
	if cfg.MQTT.StatsInterval == 0 {
		cfg.MQTT.StatsInterval = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}
