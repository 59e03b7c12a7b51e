package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/e7canasta/orion-care-sensor/modules/frame-broadcast/internal/config"
)

func TestVersionShort(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != version {
		t.Errorf("version --short = %q (expected %q)", got, version)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		debug     bool
		wantDebug bool
		wantJSON  bool
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, false, false, true},
		{"text debug level", config.LogConfig{Level: "debug", Format: "text"}, false, true, false},
		{"flag overrides level", config.LogConfig{Level: "error", Format: "json"}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.cfg, tt.debug)

			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled=%v (expected %v)", got, tt.wantDebug)
			}

			logger.Error("check")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
				t.Errorf("json output=%v (expected %v): %q", got, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestInterfacesCommandNoMatch(t *testing.T) {
	cmd := interfacesCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--prefix", "no-such-interface-prefix"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !strings.Contains(out.String(), "no addresses") {
		t.Errorf("output=%q", out.String())
	}
}
