package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"reconnect delay", cfg.Server.ReconnectDelay, 3000 * time.Millisecond},
		{"chunk period", cfg.Audio.ChunkPeriod, 6000 * time.Millisecond},
		{"min chunk bytes", cfg.Audio.MinChunkBytes, 50000},
		{"sample period", cfg.Video.SamplePeriod, 1000 * time.Millisecond},
		{"debounce", cfg.Text.Debounce, 1500 * time.Millisecond},
		{"min chars", cfg.Text.MinChars, 10},
		{"voice history", cfg.History.Voice, 20},
		{"facial history", cfg.History.Facial, 30},
		{"url", cfg.Server.URL, "ws://localhost:8004/ws/realtime"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moodwire.yaml")
	yaml := `
server:
  url: wss://emotions.example.com/ws/realtime
  backoff: exponential
  keepalive: 20s
text:
  language: es
  debounce: 800ms
video:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "wss://emotions.example.com/ws/realtime" {
		t.Errorf("url = %s", cfg.Server.URL)
	}
	if cfg.Server.Keepalive != 20*time.Second || cfg.Text.Debounce != 800*time.Millisecond {
		t.Errorf("durations not parsed: keepalive=%s debounce=%s", cfg.Server.Keepalive, cfg.Text.Debounce)
	}
	if cfg.Video.Enabled {
		t.Error("video should be disabled")
	}
	// untouched keys keep defaults
	if cfg.Audio.MinChunkBytes != 50000 || cfg.Server.ReconnectDelay != 3*time.Second {
		t.Error("defaults lost for keys absent from file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MOODWIRE_SERVER_URL", "ws://10.0.0.2:9000/ws/realtime")
	t.Setenv("MOODWIRE_LANGUAGE", "en")
	t.Setenv("MOODWIRE_METRICS_ADDR", ":9464")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.URL != "ws://10.0.0.2:9000/ws/realtime" || cfg.Text.Language != "en" || cfg.Metrics.Addr != ":9464" {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errText string
	}{
		{"http url", func(c *Config) { c.Server.URL = "http://localhost:8004/ws" }, "ws or wss"},
		{"zero reconnect", func(c *Config) { c.Server.ReconnectDelay = 0 }, "reconnect_delay"},
		{"bad backoff", func(c *Config) { c.Server.Backoff = "linear" }, "backoff"},
		{"cap below base", func(c *Config) {
			c.Server.Backoff = "exponential"
			c.Server.MaxBackoff = time.Second
		}, "max_backoff"},
		{"zero chunk period", func(c *Config) { c.Audio.ChunkPeriod = 0 }, "chunk_period"},
		{"bad backend", func(c *Config) { c.Video.Backend = "gstreamer" }, "backend"},
		{"quality", func(c *Config) { c.Video.Quality = 101 }, "quality"},
		{"min chars", func(c *Config) { c.Text.MinChars = 0 }, "min_chars"},
		{"language", func(c *Config) { c.Text.Language = "fr" }, "language"},
		{"history", func(c *Config) { c.History.Facial = 0 }, "capacities"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error %q does not mention %q", err, tt.errText)
			}
		})
	}
}
