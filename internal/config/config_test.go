package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Port != DefaultPort {
		t.Errorf("expected port %s, got %s", DefaultPort, cfg.Port)
	}
	if cfg.SettleDelay != DefaultSettleDelay {
		t.Errorf("expected settle delay %v, got %v", DefaultSettleDelay, cfg.SettleDelay)
	}
	if cfg.InputSampleRate != 16000 {
		t.Errorf("expected input sample rate 16000, got %d", cfg.InputSampleRate)
	}
	if cfg.OutputSampleRate != 24000 {
		t.Errorf("expected output sample rate 24000, got %d", cfg.OutputSampleRate)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FLEET_PORT", "9090")
	t.Setenv("FLEET_DEVICES", "/etc/fleet/devices.txt")
	t.Setenv("FLEET_SETTLE_MS", "250")
	t.Setenv("GEMINI_VOICE", "Kore")

	cfg := Default()
	cfg.LoadEnv()

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.DeviceConfig != "/etc/fleet/devices.txt" {
		t.Errorf("DeviceConfig = %s", cfg.DeviceConfig)
	}
	if cfg.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %v, want 250ms", cfg.SettleDelay)
	}
	if cfg.Voice != "Kore" {
		t.Errorf("Voice = %s, want Kore", cfg.Voice)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }, field: "Port", wantErr: true},
		{name: "non numeric port", mutate: func(c *Config) { c.Port = "http" }, field: "Port", wantErr: true},
		{name: "negative settle", mutate: func(c *Config) { c.SettleDelay = -time.Second }, field: "SettleDelay", wantErr: true},
		{name: "zero frame", mutate: func(c *Config) { c.FrameDuration = 0 }, field: "FrameDuration", wantErr: true},
		{name: "unknown speaker", mutate: func(c *Config) { c.SpeakerBackend = "hdmi" }, field: "SpeakerBackend", wantErr: true},
		{name: "rtp without target", mutate: func(c *Config) { c.SpeakerBackend = "rtp" }, field: "RTPTarget", wantErr: true},
		{name: "rtp with target", mutate: func(c *Config) { c.SpeakerBackend = "rtp"; c.RTPTarget = "127.0.0.1:5004" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %s, want %s", cerr.Field, tt.field)
			}
		})
	}
}
