// Package config loads client settings from defaults, an optional YAML file
// and MOODWIRE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"moodwire/protocol"
)

const DefaultURL = "ws://localhost:8004/ws/realtime"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Video   VideoConfig   `yaml:"video"`
	Text    TextConfig    `yaml:"text"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	Backoff        string        `yaml:"backoff"` // constant | exponential
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	Keepalive      time.Duration `yaml:"keepalive"` // 0 disables ping
}

type AudioConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Device        string        `yaml:"device"`
	ChunkPeriod   time.Duration `yaml:"chunk_period"`
	MinChunkBytes int           `yaml:"min_chunk_bytes"`
	VAD           bool          `yaml:"vad"`
}

type VideoConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"` // ffmpeg | pattern
	Device       string        `yaml:"device"`
	SamplePeriod time.Duration `yaml:"sample_period"`
	Width        int           `yaml:"width"`
	Height       int           `yaml:"height"`
	Quality      int           `yaml:"quality"`
}

type TextConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	MinChars int           `yaml:"min_chars"`
	MaxChars int           `yaml:"max_chars"`
	Language string        `yaml:"language"`
}

type HistoryConfig struct {
	Voice  int `yaml:"voice"`
	Facial int `yaml:"facial"`
	Text   int `yaml:"text"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            DefaultURL,
			ReconnectDelay: 3000 * time.Millisecond,
			Backoff:        "constant",
			MaxBackoff:     30 * time.Second,
			DialTimeout:    15 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Audio: AudioConfig{
			Enabled:       true,
			ChunkPeriod:   6000 * time.Millisecond,
			MinChunkBytes: 50000,
		},
		Video: VideoConfig{
			Enabled:      true,
			Backend:      "ffmpeg",
			SamplePeriod: 1000 * time.Millisecond,
			Width:        640,
			Height:       480,
			Quality:      80,
		},
		Text: TextConfig{
			Debounce: 1500 * time.Millisecond,
			MinChars: 10,
			MaxChars: 5000,
			Language: string(protocol.LangAuto),
		},
		History: HistoryConfig{
			Voice:  20,
			Facial: 30,
			Text:   20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load returns the defaults overlaid with path (when non-empty) and the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("MOODWIRE_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("MOODWIRE_LANGUAGE"); v != "" {
		c.Text.Language = v
	}
	if v := os.Getenv("MOODWIRE_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("MOODWIRE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	return errors.Join(
		wrap("server", c.Server.Validate()),
		wrap("audio", c.Audio.Validate()),
		wrap("video", c.Video.Validate()),
		wrap("text", c.Text.Validate()),
		wrap("history", c.History.Validate()),
	)
}

func wrap(section string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s config: %w", section, err)
}

func (s *ServerConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url must use ws or wss, got %q", s.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %q", s.URL)
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", s.ReconnectDelay)
	}
	switch s.Backoff {
	case "constant":
	case "exponential":
		if s.MaxBackoff < s.ReconnectDelay {
			return fmt.Errorf("max_backoff %s is below reconnect_delay %s", s.MaxBackoff, s.ReconnectDelay)
		}
	default:
		return fmt.Errorf("backoff must be constant or exponential, got %q", s.Backoff)
	}
	if s.DialTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("dial_timeout and write_timeout must be positive")
	}
	if s.Keepalive < 0 {
		return fmt.Errorf("keepalive must not be negative")
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.ChunkPeriod <= 0 {
		return fmt.Errorf("chunk_period must be positive, got %s", a.ChunkPeriod)
	}
	if a.MinChunkBytes < 0 {
		return fmt.Errorf("min_chunk_bytes must not be negative, got %d", a.MinChunkBytes)
	}
	return nil
}

func (v *VideoConfig) Validate() error {
	if v.SamplePeriod <= 0 {
		return fmt.Errorf("sample_period must be positive, got %s", v.SamplePeriod)
	}
	switch v.Backend {
	case "ffmpeg", "pattern":
	default:
		return fmt.Errorf("backend must be ffmpeg or pattern, got %q", v.Backend)
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", v.Width, v.Height)
	}
	if v.Quality < 1 || v.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", v.Quality)
	}
	return nil
}

func (t *TextConfig) Validate() error {
	if t.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", t.Debounce)
	}
	if t.MinChars < 1 {
		return fmt.Errorf("min_chars must be at least 1, got %d", t.MinChars)
	}
	if t.MaxChars < t.MinChars {
		return fmt.Errorf("max_chars %d is below min_chars %d", t.MaxChars, t.MinChars)
	}
	if _, err := protocol.ParseLanguage(t.Language); err != nil {
		return err
	}
	return nil
}

func (h *HistoryConfig) Validate() error {
	if h.Voice < 1 || h.Facial < 1 || h.Text < 1 {
		return fmt.Errorf("capacities must be at least 1, got voice=%d facial=%d text=%d", h.Voice, h.Facial, h.Text)
	}
	return nil
}
