package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_DefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("Port=%d, want 8080", cfg.Port)
	}
	if cfg.Relay.BindHost != "127.0.0.1" || cfg.Relay.PortStart != 42000 || cfg.Relay.PortCount != 100 {
		t.Fatalf("unexpected relay defaults: %+v", cfg.Relay)
	}
	if cfg.Relay.MaxDatagram != 2000 {
		t.Fatalf("MaxDatagram=%d, want 2000", cfg.Relay.MaxDatagram)
	}
	if cfg.Watchdog.GracePeriod != 60*time.Second || cfg.Watchdog.Interval != 2*time.Second {
		t.Fatalf("unexpected watchdog defaults: %+v", cfg.Watchdog)
	}
}

func TestLoadFile_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	body := `
port: 9090
relay:
  port_start: 43000
  port_count: 10
watchdog:
  grace_period: 5s
signal:
  allowed_origins:
    - https://studio.example
credentials:
  "7": hunter2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port=%d, want 9090", cfg.Port)
	}
	if cfg.Relay.PortStart != 43000 || cfg.Relay.PortCount != 10 {
		t.Fatalf("relay=%+v", cfg.Relay)
	}
	if cfg.Watchdog.GracePeriod != 5*time.Second {
		t.Fatalf("GracePeriod=%s, want 5s", cfg.Watchdog.GracePeriod)
	}
	if got := cfg.Credentials["7"]; got != "hunter2" {
		t.Fatalf("credentials[7]=%q, want hunter2", got)
	}
	if got := cfg.Signal.AllowedOrigins; len(got) != 1 || got[0] != "https://studio.example" {
		t.Fatalf("allowed_origins=%v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:       8080,
			PingPeriod: time.Second,
			Relay:      RelayConfig{BindHost: "127.0.0.1", PortStart: 42000, PortCount: 100, MaxDatagram: 2000},
			Watchdog:   WatchdogConfig{GracePeriod: time.Minute, Interval: time.Second},
			Signal:     SignalConfig{RateLimit: 5, RateInterval: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero port count", mutate: func(c *Config) { c.Relay.PortCount = 0 }, wantErr: true},
		{name: "range overflows", mutate: func(c *Config) { c.Relay.PortStart = 65500; c.Relay.PortCount = 100 }, wantErr: true},
		{name: "range ends at 65535", mutate: func(c *Config) { c.Relay.PortStart = 65436; c.Relay.PortCount = 100 }},
		{name: "zero grace", mutate: func(c *Config) { c.Watchdog.GracePeriod = 0 }, wantErr: true},
		{name: "bad http port", mutate: func(c *Config) { c.Port = 0 }, wantErr: true},
		{name: "zero rate limit", mutate: func(c *Config) { c.Signal.RateLimit = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}
