// Package video provides camera sources for the frame sampler.
package video

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrNoFrame    = errors.New("no frame captured yet")
	ErrNotStarted = errors.New("camera not started")
)

// Camera is a started-or-stopped frame source. Snapshot returns the most
// recent frame and never blocks waiting for a new one.
type Camera interface {
	Start() error
	Snapshot() (image.Image, error)
	Stop()
}

type Config struct {
	Backend string // "ffmpeg" or "pattern"
	Device  string
	Width   int
	Height  int
	FPS     int
}

func Open(cfg Config) (Camera, error) {
	switch cfg.Backend {
	case "", "ffmpeg":
		return &FFmpegCamera{Device: cfg.Device, Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS}, nil
	case "pattern":
		return NewPattern(cfg.Width, cfg.Height), nil
	}
	return nil, fmt.Errorf("unknown camera backend %q", cfg.Backend)
}
