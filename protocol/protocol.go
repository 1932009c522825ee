// Package protocol defines the JSON messages exchanged with the realtime
// inference service over the shared WebSocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Modality is the routing key for inbound messages.
type Modality string

const (
	Facial    Modality = "facial"
	Voice     Modality = "voice"
	Text      Modality = "text"
	Connected Modality = "connected"
	Error     Modality = "error"
)

var modalities = []Modality{Facial, Voice, Text, Connected, Error}

func Modalities() []Modality {
	out := make([]Modality, len(modalities))
	copy(out, modalities)
	return out
}

func (m Modality) Valid() bool {
	for _, v := range modalities {
		if m == v {
			return true
		}
	}
	return false
}

// IsResult reports whether m carries analysis results (as opposed to the
// connected/error control channels).
func (m Modality) IsResult() bool {
	return m == Facial || m == Voice || m == Text
}

type Language string

const (
	LangAuto    Language = "auto"
	LangSpanish Language = "es"
	LangEnglish Language = "en"
)

var languages = []Language{LangAuto, LangSpanish, LangEnglish}

func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(s)))
	if l == "" {
		return LangAuto, nil
	}
	for _, v := range languages {
		if l == v {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown language %q (use auto, es or en)", s)
}

// Next cycles auto -> es -> en -> auto.
func (l Language) Next() Language {
	for i, v := range languages {
		if v == l {
			return languages[(i+1)%len(languages)]
		}
	}
	return LangAuto
}

const (
	TypeAnalyzeAudio   = "analyze_audio"
	TypeAnalyzeFrame   = "analyze_frame"
	TypeAnalyzeText    = "analyze_text"
	TypePing           = "ping"
	TypeAnalysisResult = "analysis_result"
	TypeConnected      = "connected"
	TypeError          = "error"
	TypePong           = "pong"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrUnknownModality = errors.New("unknown modality")
	ErrMissingResult   = errors.New("analysis_result without result")
	ErrMissingPayload  = errors.New("missing payload")
)

// Outbound is a request sent to the service. Every outbound frame carries
// its Type as the "type" field.
type Outbound interface {
	Type() string
}

type AnalyzeAudio struct {
	Audio string `json:"audio"`
}

type AnalyzeFrame struct {
	Image string `json:"image"`
}

type AnalyzeText struct {
	Text     string   `json:"text"`
	Language Language `json:"language"`
}

type Ping struct{}

func (AnalyzeAudio) Type() string { return TypeAnalyzeAudio }
func (AnalyzeFrame) Type() string { return TypeAnalyzeFrame }
func (AnalyzeText) Type() string  { return TypeAnalyzeText }
func (Ping) Type() string         { return TypePing }

func Encode(msg Outbound) ([]byte, error) {
	switch m := msg.(type) {
	case AnalyzeAudio:
		return json.Marshal(struct {
			Type string `json:"type"`
			AnalyzeAudio
		}{TypeAnalyzeAudio, m})
	case AnalyzeFrame:
		return json.Marshal(struct {
			Type string `json:"type"`
			AnalyzeFrame
		}{TypeAnalyzeFrame, m})
	case AnalyzeText:
		if m.Language == "" {
			m.Language = LangAuto
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			AnalyzeText
		}{TypeAnalyzeText, m})
	case Ping:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{TypePing})
	case nil:
		return nil, fmt.Errorf("encode: nil message")
	default:
		return nil, fmt.Errorf("encode %T: %w", msg, ErrUnknownType)
	}
}

// DecodeRequest parses an outbound frame. It is the server-side half of
// Encode and is used by the development mock server.
func DecodeRequest(data []byte) (Outbound, error) {
	var raw struct {
		Type     string   `json:"type"`
		Audio    string   `json:"audio"`
		Image    string   `json:"image"`
		Text     string   `json:"text"`
		Language Language `json:"language"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	switch raw.Type {
	case TypeAnalyzeAudio:
		if raw.Audio == "" {
			return nil, fmt.Errorf("%s: %w", raw.Type, ErrMissingPayload)
		}
		return AnalyzeAudio{Audio: raw.Audio}, nil
	case TypeAnalyzeFrame:
		if raw.Image == "" {
			return nil, fmt.Errorf("%s: %w", raw.Type, ErrMissingPayload)
		}
		return AnalyzeFrame{Image: raw.Image}, nil
	case TypeAnalyzeText:
		if raw.Language == "" {
			raw.Language = LangAuto
		}
		return AnalyzeText{Text: raw.Text, Language: raw.Language}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, raw.Type)
	}
}

// Result is the per-modality analysis payload. Fields after ProcessingTime
// are only set by the modality that produces them.
type Result struct {
	Emotion        string             `json:"emotion"`
	Confidence     float64            `json:"confidence"`
	AllEmotions    map[string]float64 `json:"all_emotions,omitempty"`
	ProcessingTime float64            `json:"processing_time,omitempty"`

	FaceDetected *bool          `json:"face_detected,omitempty"`
	FaceRegion   map[string]int `json:"face_region,omitempty"`

	AudioDuration float64 `json:"audio_duration,omitempty"`
	SampleRate    int     `json:"sample_rate,omitempty"`

	TextLength       int    `json:"text_length,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

type Inbound struct {
	Type      string   `json:"type"`
	Modality  Modality `json:"modality,omitempty"`
	Message   string   `json:"message,omitempty"`
	Result    *Result  `json:"result,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`

	// Raw is the frame as received; empty for locally generated messages.
	Raw json.RawMessage `json:"-"`
}

func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode inbound: %w", err)
	}
	switch msg.Type {
	case TypeAnalysisResult:
		if !msg.Modality.IsResult() {
			return Inbound{}, fmt.Errorf("%w %q", ErrUnknownModality, msg.Modality)
		}
		if msg.Result == nil {
			return Inbound{}, fmt.Errorf("%s: %w", msg.Modality, ErrMissingResult)
		}
	case TypeConnected, TypeError, TypePong:
		// An error frame's modality is informational and may name a
		// channel this client does not know, such as "fusion".
	default:
		return Inbound{}, fmt.Errorf("%w %q", ErrUnknownType, msg.Type)
	}
	msg.Raw = append(json.RawMessage(nil), data...)
	return msg, nil
}

func EncodeInbound(msg Inbound) ([]byte, error) {
	return json.Marshal(msg)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// Time parses Timestamp. The service emits naive UTC ISO-8601 stamps.
func (m Inbound) Time() (time.Time, bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Now formats t the way the service stamps its messages.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000")
}
