package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"moodwire/audio"
	"moodwire/beep"
	"moodwire/config"
	"moodwire/conn"
	"moodwire/dispatch"
	"moodwire/history"
	"moodwire/log"
	"moodwire/metrics"
	"moodwire/pipeline"
	"moodwire/protocol"
	"moodwire/vad"
	"moodwire/video"
)

// session owns the shared connection and the three capture pipelines.
// Audio and frames are nil when their source is disabled.
type session struct {
	cfg     *config.Config
	disp    *dispatch.Dispatcher
	mgr     *conn.Manager
	metrics *metrics.Metrics
	sink    EventSink
	cue     func(beep.Cue)

	voice  *history.Buffer
	facial *history.Buffer
	text   *history.Buffer

	audio  *pipeline.AudioChunker
	frames *pipeline.FrameSampler
	typing *pipeline.TextDebouncer

	lastFacial   atomic.Pointer[protocol.Result]
	level        atomic.Uint64
	textAwaiting atomic.Bool
	results      atomic.Int64

	closeOnce sync.Once
	unsub     []func()
}

type sessionDeps struct {
	Dialer  conn.Dialer
	Audio   audio.Context
	Device  *audio.DeviceInfo
	Camera  video.Camera
	Metrics *metrics.Metrics
	Sink    EventSink

	// Cue plays microphone and failure sounds; nil keeps the session silent.
	Cue func(beep.Cue)
}

func newSession(cfg *config.Config, deps sessionDeps) (*session, error) {
	s := &session{
		cfg:     cfg,
		disp:    dispatch.New(),
		metrics: deps.Metrics,
		sink:    deps.Sink,
		cue:     deps.Cue,
		voice:   history.New(cfg.History.Voice),
		facial:  history.New(cfg.History.Facial),
		text:    history.New(cfg.History.Text),
	}
	if s.sink == nil {
		s.sink = discardSink{}
	}
	if s.cue == nil {
		s.cue = func(beep.Cue) {}
	}
	s.disp.OnPanic = func(protocol.Modality, any) { s.metrics.Panic() }

	opts := conn.Options{
		URL:            cfg.Server.URL,
		ReconnectDelay: cfg.Server.ReconnectDelay,
		DialTimeout:    cfg.Server.DialTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Keepalive:      cfg.Server.Keepalive,
		Metrics:        deps.Metrics,
	}
	if cfg.Server.Backoff == "exponential" {
		opts.Backoff = conn.ExponentialBackoff(cfg.Server.ReconnectDelay, cfg.Server.MaxBackoff)
	}
	s.mgr = conn.NewManager(deps.Dialer, s.disp, opts)

	s.unsub = append(s.unsub,
		history.Track(s.disp, protocol.Voice, s.voice),
		history.Track(s.disp, protocol.Facial, s.facial),
		history.Track(s.disp, protocol.Text, s.text),
	)
	for _, m := range []protocol.Modality{protocol.Voice, protocol.Facial, protocol.Text} {
		s.unsub = append(s.unsub, s.disp.Subscribe(m, s.onResult))
	}
	s.unsub = append(s.unsub,
		s.disp.Subscribe(protocol.Connected, s.sink.Connected),
		s.disp.Subscribe(protocol.Error, s.onError),
	)

	if deps.Audio != nil {
		var det *vad.Detector
		if cfg.Audio.VAD {
			d, err := vad.New(vad.DefaultMode)
			if err != nil {
				return nil, fmt.Errorf("voice activity detector: %w", err)
			}
			det = d
		}
		s.audio = pipeline.NewAudioChunker(deps.Audio, s.mgr, pipeline.AudioOptions{
			Period:        cfg.Audio.ChunkPeriod,
			MinChunkBytes: cfg.Audio.MinChunkBytes,
			Device:        deps.Device,
			VAD:           det,
			Metrics:       deps.Metrics,
			OnChunk:       s.sink.Chunk,
			OnLevel:       func(rms float64) { s.level.Store(math.Float64bits(rms)) },
		})
	}

	if deps.Camera != nil {
		s.frames = pipeline.NewFrameSampler(deps.Camera, s.mgr, pipeline.FrameOptions{
			Period:    cfg.Video.SamplePeriod,
			MaxWidth:  cfg.Video.Width,
			MaxHeight: cfg.Video.Height,
			Quality:   cfg.Video.Quality,
			Metrics:   deps.Metrics,
			OnFrame:   s.sink.Frame,
		})
	}

	lang, err := protocol.ParseLanguage(cfg.Text.Language)
	if err != nil {
		return nil, err
	}
	s.typing = pipeline.NewTextDebouncer(s.mgr, pipeline.TextOptions{
		Delay:    cfg.Text.Debounce,
		MinChars: cfg.Text.MinChars,
		MaxChars: cfg.Text.MaxChars,
		Language: lang,
		Metrics:  deps.Metrics,
		OnSend: func(text string, ok bool) {
			if ok {
				s.textAwaiting.Store(true)
			}
			s.sink.TextSent(text, ok)
		},
	})
	return s, nil
}

func (s *session) onResult(msg protocol.Inbound) {
	s.results.Add(1)
	switch msg.Modality {
	case protocol.Facial:
		s.lastFacial.Store(msg.Result)
	case protocol.Text:
		s.textAwaiting.Store(false)
	}
	s.sink.Result(msg)
}

func (s *session) onError(msg protocol.Inbound) {
	switch msg.Modality {
	case protocol.Text:
		s.textAwaiting.Store(false)
	case protocol.Voice:
		s.cue(beep.Failed)
	}
	s.sink.Failure(msg)
}

// start connects and turns on every enabled source. A capture fault is
// reported and leaves the rest of the session running.
func (s *session) start() {
	s.mgr.Connect()
	if s.audio != nil {
		if err := s.audio.Start(); err != nil {
			log.Errorf("microphone: %v", err)
			s.sink.Notice(fmt.Sprintf("microphone unavailable: %v", err))
		}
	}
	if s.frames != nil {
		if err := s.frames.Start(); err != nil {
			log.Errorf("camera: %v", err)
			s.sink.Notice(fmt.Sprintf("camera unavailable: %v", err))
		}
	}
	var on []string
	if s.audio != nil {
		on = append(on, string(protocol.Voice))
	}
	if s.frames != nil {
		on = append(on, string(protocol.Facial))
	}
	on = append(on, string(protocol.Text))
	log.SessionStart(s.mgr.URL(), on)
}

func (s *session) micOn() bool    { return s.audio != nil && s.audio.Recording() }
func (s *session) cameraOn() bool { return s.frames != nil && s.frames.Active() }

func (s *session) toggleMic() error {
	if s.audio == nil {
		return fmt.Errorf("audio is disabled")
	}
	if s.audio.Recording() {
		s.audio.Stop()
		s.level.Store(0)
		s.cue(beep.MicOff)
		log.Info("microphone_off")
		return nil
	}
	if err := s.audio.Start(); err != nil {
		s.cue(beep.Failed)
		return err
	}
	s.cue(beep.MicOn)
	log.Info("microphone_on")
	return nil
}

func (s *session) toggleCamera() error {
	if s.frames == nil {
		return fmt.Errorf("video is disabled")
	}
	if s.frames.Active() {
		s.frames.Stop()
		log.Info("camera_off")
		return nil
	}
	log.Info("camera_on")
	return s.frames.Start()
}

func (s *session) cycleLanguage() protocol.Language {
	next := s.typing.Language().Next()
	s.typing.SetLanguage(next)
	return next
}

func (s *session) audioLevel() float64 {
	return math.Float64frombits(s.level.Load())
}

func (s *session) analyzingText() bool {
	return s.typing.Pending() || s.textAwaiting.Load()
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		if s.audio != nil {
			s.audio.Stop()
		}
		if s.frames != nil {
			s.frames.Stop()
		}
		s.typing.Stop()
		s.mgr.Close()
		for _, u := range s.unsub {
			u()
		}
		log.SessionEnd(int(s.results.Load()))
	})
}

func (s *session) buffer(m protocol.Modality) *history.Buffer {
	switch m {
	case protocol.Voice:
		return s.voice
	case protocol.Facial:
		return s.facial
	case protocol.Text:
		return s.text
	}
	return nil
}

// topEmotions returns the n highest scores, highest first.
func topEmotions(scores map[string]float64, n int) []history.Share {
	out := make([]history.Share, 0, len(scores))
	for e, v := range scores {
		out = append(out, history.Share{Emotion: e, Percent: v * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].Emotion < out[j].Emotion
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// summary renders the session's history as plain text for the clipboard.
func (s *session) summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "moodwire session (%s)\n", s.mgr.URL())
	for _, m := range []protocol.Modality{protocol.Facial, protocol.Voice, protocol.Text} {
		buf := s.buffer(m)
		last, ok := buf.Last()
		if !ok {
			fmt.Fprintf(&b, "%s: no results\n", m)
			continue
		}
		fmt.Fprintf(&b, "%s: %s (%.0f%%), %d results, avg confidence %.0f%%\n",
			m, last.Emotion, last.Confidence*100, buf.Len(), buf.AverageConfidence()*100)
		var parts []string
		for _, sh := range buf.Distribution() {
			parts = append(parts, fmt.Sprintf("%s %.0f%%", sh.Emotion, sh.Percent))
		}
		fmt.Fprintf(&b, "  %s\n", strings.Join(parts, ", "))
	}
	return b.String()
}
