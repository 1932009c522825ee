package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"moodwire/log"
	"moodwire/metrics"
	"moodwire/protocol"
	"moodwire/video"
)

type FrameOptions struct {
	Period    time.Duration
	MaxWidth  int
	MaxHeight int
	Quality   int
	Metrics   *metrics.Metrics
	// OnFrame is called after every attempted send with the JPEG size.
	OnFrame func(bytes int, sent bool)
}

func (o *FrameOptions) setDefaults() {
	if o.Period <= 0 {
		o.Period = 1000 * time.Millisecond
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = 640
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 480
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 80
	}
}

// FrameSampler snapshots the camera once per period and sends every frame.
// There is no size gate and no in-flight limit.
type FrameSampler struct {
	cam  video.Camera
	send Sender
	opts FrameOptions

	mu     sync.Mutex
	active bool
	stop   chan struct{}
	done   chan struct{}
}

func NewFrameSampler(cam video.Camera, send Sender, opts FrameOptions) *FrameSampler {
	opts.setDefaults()
	return &FrameSampler{cam: cam, send: send, opts: opts}
}

func (s *FrameSampler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *FrameSampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	if err := s.cam.Start(); err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.active = true
	go s.loop(s.stop, s.done)
	log.Infof("video: sampling every %s", s.opts.Period)
	return nil
}

// Stop cancels the sampler, waits for an in-flight tick and releases the
// camera.
func (s *FrameSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	close(s.stop)
	<-s.done
	s.cam.Stop()
	s.active = false
	log.Info("video: stopped")
}

func (s *FrameSampler) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.opts.Period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.sample()
		}
	}
}

func (s *FrameSampler) sample() {
	img, err := s.cam.Snapshot()
	if err != nil {
		if errors.Is(err, video.ErrNoFrame) {
			log.Debugf("video: no frame yet")
		} else {
			log.Warnf("video: snapshot: %v", err)
		}
		return
	}

	start := time.Now()
	data, err := EncodeFrame(img, s.opts.MaxWidth, s.opts.MaxHeight, s.opts.Quality)
	if err != nil {
		log.Warnf("video: %v", err)
		return
	}
	s.opts.Metrics.FrameEncoded(time.Since(start))

	ok := s.send.Send(protocol.AnalyzeFrame{Image: protocol.DataURL(protocol.ImageMIME, data)})
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(len(data), ok)
	}
}

// EncodeFrame downsizes img to fit maxW x maxH, keeping its aspect
// ratio, and encodes it as JPEG.
func EncodeFrame(img image.Image, maxW, maxH, quality int) ([]byte, error) {
	src := img.Bounds()
	w, h := Fit(src.Dx(), src.Dy(), maxW, maxH)
	if w != src.Dx() || h != src.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Fit scales w x h down to fit inside maxW x maxH. Images that already
// fit are returned unchanged.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	return max(1, int(float64(w)*scale+0.5)), max(1, int(float64(h)*scale+0.5))
}
