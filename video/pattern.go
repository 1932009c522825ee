package video

import (
	"image"
	"image/color"
	"sync/atomic"
)

// PatternCamera synthesizes a moving gradient. It needs no hardware and
// is used by tests and the -camera-backend=pattern mode.
type PatternCamera struct {
	width, height int
	started       atomic.Bool
	n             atomic.Uint64
}

func NewPattern(width, height int) *PatternCamera {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	return &PatternCamera{width: width, height: height}
}

func (p *PatternCamera) Start() error {
	p.started.Store(true)
	return nil
}

func (p *PatternCamera) Snapshot() (image.Image, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}
	shift := int(p.n.Add(1) * 8)
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + shift) * 255 / p.width),
				G: uint8(y * 255 / p.height),
				B: uint8(shift),
				A: 0xff,
			})
		}
	}
	return img, nil
}

// Snapshots is the number of frames produced so far.
func (p *PatternCamera) Snapshots() uint64 { return p.n.Load() }

func (p *PatternCamera) Stop() { p.started.Store(false) }
