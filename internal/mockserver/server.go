// Package mockserver is a stand-in inference service speaking the realtime
// wire protocol. Results are synthetic but deterministic for a given
// payload.
package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"image"
	_ "image/jpeg"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/mewkiz/flac"
	"nhooyr.io/websocket"

	"moodwire/log"
	"moodwire/protocol"
)

const (
	Path        = "/ws/realtime"
	Greeting    = "Connected to the realtime analysis service"
	minTextLen  = 5
	readLimit   = 32 << 20
	voiceFailed = "could not analyze audio"
)

var emotions = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

type Options struct {
	// Latency is added before each result to mimic inference time.
	Latency time.Duration
}

type Stats struct {
	Connections int64
	Frames      int64
	Audio       int64
	Text        int64
	Pings       int64
	Errors      int64
}

type Server struct {
	opts  Options
	conns atomic.Int64
	live  atomic.Int64
	stats struct {
		frames, audio, text, pings, errors atomic.Int64
	}
}

func New(opts Options) *Server {
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": s.live.Load()})
	})
	return mux
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.conns.Load(),
		Frames:      s.stats.frames.Load(),
		Audio:       s.stats.audio.Load(),
		Text:        s.stats.text.Load(),
		Pings:       s.stats.pings.Load(),
		Errors:      s.stats.errors.Load(),
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warnf("mockserver: accept: %v", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(readLimit)

	id := uuid.NewString()
	s.conns.Add(1)
	s.live.Add(1)
	defer s.live.Add(-1)
	log.Infof("mockserver: client %s connected from %s", id, r.RemoteAddr)

	ctx := r.Context()
	if err := s.write(ctx, c, protocol.Inbound{Type: protocol.TypeConnected, Message: Greeting}); err != nil {
		return
	}

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Warnf("mockserver: client %s: %v", id, err)
			}
			log.Infof("mockserver: client %s disconnected", id)
			return
		}
		reply, ok := s.handle(data)
		if !ok {
			continue
		}
		if reply.Type == protocol.TypeAnalysisResult && s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-ctx.Done():
				return
			}
		}
		if err := s.write(ctx, c, reply); err != nil {
			return
		}
	}
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, msg protocol.Inbound) error {
	if msg.Timestamp == "" {
		msg.Timestamp = protocol.Now()
	}
	data, err := protocol.EncodeInbound(msg)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

// handle returns the reply for one request frame, if any.
func (s *Server) handle(data []byte) (protocol.Inbound, bool) {
	req, err := protocol.DecodeRequest(data)
	if err != nil {
		s.stats.errors.Add(1)
		if errors.Is(err, protocol.ErrMissingPayload) {
			return protocol.Inbound{}, false
		}
		return errorReply("", "invalid message: "+err.Error()), true
	}

	switch m := req.(type) {
	case protocol.Ping:
		s.stats.pings.Add(1)
		return protocol.Inbound{Type: protocol.TypePong}, true
	case protocol.AnalyzeFrame:
		s.stats.frames.Add(1)
		res, err := analyzeFrame(m.Image)
		if err != nil {
			log.Warnf("mockserver: frame: %v", err)
			return protocol.Inbound{}, false
		}
		return result(protocol.Facial, res), true
	case protocol.AnalyzeAudio:
		s.stats.audio.Add(1)
		res, err := analyzeAudio(m.Audio)
		if err != nil {
			log.Warnf("mockserver: audio: %v", err)
			s.stats.errors.Add(1)
			return errorReply(protocol.Voice, voiceFailed), true
		}
		return result(protocol.Voice, res), true
	case protocol.AnalyzeText:
		if len([]rune(strings.TrimSpace(m.Text))) <= minTextLen {
			return protocol.Inbound{}, false
		}
		s.stats.text.Add(1)
		return result(protocol.Text, analyzeText(m.Text, m.Language)), true
	}
	return protocol.Inbound{}, false
}

func result(m protocol.Modality, r *protocol.Result) protocol.Inbound {
	return protocol.Inbound{Type: protocol.TypeAnalysisResult, Modality: m, Result: r}
}

func errorReply(m protocol.Modality, msg string) protocol.Inbound {
	return protocol.Inbound{Type: protocol.TypeError, Modality: m, Message: msg}
}

func analyzeFrame(url string) (*protocol.Result, error) {
	_, data, err := protocol.ParseDataURL(url)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res := scores(data)
	detected := true
	res.FaceDetected = &detected
	res.FaceRegion = map[string]int{
		"x": cfg.Width / 4, "y": cfg.Height / 4,
		"w": cfg.Width / 2, "h": cfg.Height / 2,
	}
	res.ProcessingTime = time.Since(start).Seconds()
	return res, nil
}

func analyzeAudio(url string) (*protocol.Result, error) {
	start := time.Now()
	_, data, err := protocol.ParseDataURL(url)
	if err != nil {
		return nil, err
	}
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	var samples uint64
	for {
		f, err := stream.ParseNext()
		if err != nil {
			break
		}
		samples += uint64(f.BlockSize)
	}
	if samples == 0 {
		return nil, errors.New("no audio frames")
	}
	rate := int(stream.Info.SampleRate)
	res := scores(data)
	res.AudioDuration = float64(samples) / float64(rate)
	res.SampleRate = rate
	res.ProcessingTime = time.Since(start).Seconds()
	return res, nil
}

func analyzeText(text string, lang protocol.Language) *protocol.Result {
	start := time.Now()
	res := scores([]byte(text))
	res.TextLength = len([]rune(text))
	res.DetectedLanguage = string(lang)
	if lang == protocol.LangAuto || lang == "" {
		res.DetectedLanguage = guessLanguage(text)
	}
	res.ProcessingTime = time.Since(start).Seconds()
	return res
}

// scores derives a normalized emotion distribution from the payload hash.
func scores(payload []byte) *protocol.Result {
	h := fnv.New64a()
	h.Write(payload)
	seed := h.Sum64()

	all := make(map[string]float64, len(emotions))
	var total float64
	for i, e := range emotions {
		v := float64((seed>>(i*8))&0xff) + 1
		all[e] = v
		total += v
	}
	names := append([]string(nil), emotions...)
	for _, e := range names {
		all[e] /= total
	}
	sort.Slice(names, func(i, j int) bool {
		if all[names[i]] != all[names[j]] {
			return all[names[i]] > all[names[j]]
		}
		return names[i] < names[j]
	})
	return &protocol.Result{
		Emotion:     names[0],
		Confidence:  all[names[0]],
		AllEmotions: all,
	}
}

var spanishHints = []string{" el ", " la ", " que ", " de ", " y ", " muy ", " estoy ", " es "}

func guessLanguage(text string) string {
	for _, r := range text {
		if strings.ContainsRune("ñáéíóúü¿¡", unicode.ToLower(r)) {
			return string(protocol.LangSpanish)
		}
	}
	padded := " " + strings.ToLower(text) + " "
	hits := 0
	for _, w := range spanishHints {
		if strings.Contains(padded, w) {
			hits++
		}
	}
	if hits >= 2 {
		return string(protocol.LangSpanish)
	}
	return string(protocol.LangEnglish)
}
