package pipeline

import (
	"fmt"
	"math"
	"sync"
	"time"

	"moodwire/audio"
	"moodwire/encoder"
	"moodwire/log"
	"moodwire/metrics"
	"moodwire/protocol"
	"moodwire/vad"
)

type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeTooSmall Outcome = "too_small"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "encode_error"
)

// ChunkReport describes one finished segment.
type ChunkReport struct {
	Bytes      int
	Audio      time.Duration
	EncodeTime time.Duration
	// SpeechRatio is the share of speech frames, or -1 without a detector.
	SpeechRatio float64
	Outcome     Outcome
}

type AudioOptions struct {
	Period        time.Duration
	MinChunkBytes int
	Device        *audio.DeviceInfo
	Gain          int
	NewEncoder    encoder.Factory
	VAD           *vad.Detector
	Metrics       *metrics.Metrics
	OnChunk       func(ChunkReport)
	// OnLevel receives the RMS level (0..1) of every captured buffer.
	OnLevel func(rms float64)
}

func (o *AudioOptions) setDefaults() {
	if o.Period <= 0 {
		o.Period = 6000 * time.Millisecond
	}
	if o.MinChunkBytes <= 0 {
		o.MinChunkBytes = 50000
	}
	if o.NewEncoder == nil {
		o.NewEncoder = encoder.NewFlac
	}
}

type segment struct {
	enc    encoder.Encoder
	failed bool
}

// AudioChunker records continuously and cuts the stream into segments on
// a fixed period. The capture device keeps running across cuts; each cut
// swaps in a fresh encoder and finishes the previous one into a chunk.
type AudioChunker struct {
	ctx  audio.Context
	send Sender
	opts AudioOptions

	opMu      sync.Mutex
	recording bool
	capture   audio.CaptureDevice
	stop      chan struct{}
	done      chan struct{}

	mu  sync.Mutex
	seg *segment
}

func NewAudioChunker(ctx audio.Context, send Sender, opts AudioOptions) *AudioChunker {
	opts.setDefaults()
	return &AudioChunker{ctx: ctx, send: send, opts: opts}
}

func (c *AudioChunker) Recording() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.recording
}

// Start opens the microphone and arms the chunk boundary. Starting while
// recording is a no-op.
func (c *AudioChunker) Start() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.recording {
		return nil
	}

	enc, err := c.opts.NewEncoder()
	if err != nil {
		return fmt.Errorf("audio encoder: %w", err)
	}
	dev, err := c.ctx.NewCapture(c.opts.Device, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Gain:       c.opts.Gain,
	})
	if err != nil {
		return fmt.Errorf("opening microphone: %w", err)
	}
	if c.opts.VAD != nil {
		c.opts.VAD.Reset()
	}

	c.mu.Lock()
	c.seg = &segment{enc: enc}
	c.mu.Unlock()

	dev.SetCallback(c.onData)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		c.mu.Lock()
		c.seg = nil
		c.mu.Unlock()
		return fmt.Errorf("starting microphone: %w", err)
	}

	c.capture = dev
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.recording = true
	go c.loop(c.stop, c.done)

	log.Infof("audio: recording, chunk period %s", c.opts.Period)
	return nil
}

// Stop releases the microphone and discards the partial segment. A cut
// already in progress completes before Stop returns.
func (c *AudioChunker) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.recording {
		return
	}
	close(c.stop)
	<-c.done

	c.capture.ClearCallback()
	c.capture.Stop()
	c.capture.Close()
	c.capture = nil

	c.mu.Lock()
	c.seg = nil
	c.mu.Unlock()

	c.recording = false
	log.Info("audio: stopped")
}

func (c *AudioChunker) onData(data []byte, _ uint32) {
	if len(data) < 2 {
		return
	}
	samples := audio.Samples(data)

	c.mu.Lock()
	if seg := c.seg; seg != nil && !seg.failed {
		if err := seg.enc.Write(samples); err != nil {
			seg.failed = true
			log.Warnf("audio: encode: %v", err)
		}
	}
	c.mu.Unlock()

	if c.opts.VAD != nil {
		c.opts.VAD.Process(data)
	}
	if c.opts.OnLevel != nil {
		c.opts.OnLevel(rms(samples))
	}
}

func (c *AudioChunker) loop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.opts.Period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.cut()
		}
	}
}

func (c *AudioChunker) cut() {
	enc, err := c.opts.NewEncoder()
	if err != nil {
		log.Errorf("audio: new segment: %v", err)
		return
	}
	c.mu.Lock()
	old := c.seg
	c.seg = &segment{enc: enc}
	c.mu.Unlock()

	ratio := -1.0
	if c.opts.VAD != nil {
		ratio = vad.SpeechRatio(c.opts.VAD.Cut())
	}
	if old != nil {
		c.flush(old, ratio)
	}
}

func (c *AudioChunker) flush(seg *segment, speechRatio float64) {
	data, err := seg.enc.Finish()
	report := ChunkReport{
		Bytes:       len(data),
		Audio:       encoder.Duration(seg.enc.Samples()),
		EncodeTime:  seg.enc.EncodeTime(),
		SpeechRatio: speechRatio,
	}
	switch {
	case err != nil || seg.failed:
		report.Outcome = OutcomeFailed
		if err != nil {
			log.Warnf("audio: finish segment: %v", err)
		}
	case len(data) < c.opts.MinChunkBytes:
		report.Outcome = OutcomeTooSmall
	case !c.send.Send(protocol.AnalyzeAudio{Audio: protocol.DataURL(protocol.AudioMIME, data)}):
		report.Outcome = OutcomeRejected
	default:
		report.Outcome = OutcomeSent
	}

	c.opts.Metrics.AudioChunk(string(report.Outcome), report.Bytes)
	log.Chunk(log.ChunkMetrics{
		Bytes:       report.Bytes,
		AudioS:      report.Audio.Seconds(),
		EncodeMs:    float64(report.EncodeTime.Microseconds()) / 1000,
		SpeechRatio: report.SpeechRatio,
		Outcome:     string(report.Outcome),
	})
	if c.opts.OnChunk != nil {
		c.opts.OnChunk(report)
	}
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(samples)))
}
