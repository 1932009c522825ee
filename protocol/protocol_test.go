package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeCarriesType(t *testing.T) {
	tests := []struct {
		msg      Outbound
		wantType string
		wantKey  string
	}{
		{AnalyzeAudio{Audio: "data:audio/flac;base64,AAAA"}, TypeAnalyzeAudio, "audio"},
		{AnalyzeFrame{Image: "data:image/jpeg;base64,AAAA"}, TypeAnalyzeFrame, "image"},
		{AnalyzeText{Text: "hello there friend", Language: LangSpanish}, TypeAnalyzeText, "text"},
		{Ping{}, TypePing, ""},
	}
	for _, tt := range tests {
		data, err := Encode(tt.msg)
		if err != nil {
			t.Fatalf("Encode(%T): %v", tt.msg, err)
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if fields["type"] != tt.wantType {
			t.Errorf("%T: type = %v, want %s", tt.msg, fields["type"], tt.wantType)
		}
		if tt.wantKey != "" {
			if _, ok := fields[tt.wantKey]; !ok {
				t.Errorf("%T: missing %q in %s", tt.msg, tt.wantKey, data)
			}
		}
	}
}

func TestEncodeTextDefaultsLanguage(t *testing.T) {
	data, err := Encode(AnalyzeText{Text: "plenty of characters"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"language":"auto"`) {
		t.Errorf("expected auto language, got %s", data)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestDecodeResult(t *testing.T) {
	frame := `{"type":"analysis_result","modality":"facial","timestamp":"2024-05-01T10:11:12.123456",
		"result":{"emotion":"happy","confidence":0.87,"all_emotions":{"happy":0.87,"sad":0.13},
		"processing_time":0.04,"face_detected":true}}`
	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Modality != Facial {
		t.Errorf("modality = %q, want facial", msg.Modality)
	}
	if msg.Result.Emotion != "happy" || msg.Result.Confidence != 0.87 {
		t.Errorf("unexpected result %+v", msg.Result)
	}
	if msg.Result.FaceDetected == nil || !*msg.Result.FaceDetected {
		t.Error("face_detected not decoded")
	}
	ts, ok := msg.Time()
	if !ok || ts.Year() != 2024 || ts.Second() != 12 {
		t.Errorf("Time() = %v, %v", ts, ok)
	}
	if len(msg.Raw) == 0 {
		t.Error("expected raw frame to be kept")
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{"type":`, nil},
		{"unknown type", `{"type":"hello"}`, ErrUnknownType},
		{"unknown modality", `{"type":"analysis_result","modality":"smell","result":{"emotion":"x","confidence":1}}`, ErrUnknownModality},
		{"control modality", `{"type":"analysis_result","modality":"connected","result":{"emotion":"x","confidence":1}}`, ErrUnknownModality},
		{"missing result", `{"type":"analysis_result","modality":"voice"}`, ErrMissingResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeControlMessages(t *testing.T) {
	for _, frame := range []string{
		`{"type":"connected","message":"welcome","timestamp":"2024-05-01T10:11:12"}`,
		`{"type":"error","modality":"voice","message":"bad audio"}`,
		`{"type":"error","message":"generic"}`,
		`{"type":"error","modality":"fusion","message":"fusion unavailable"}`,
		`{"type":"pong"}`,
	} {
		if _, err := Decode([]byte(frame)); err != nil {
			t.Errorf("Decode(%s): %v", frame, err)
		}
	}
}

func TestDecodeRequest(t *testing.T) {
	data, err := Encode(AnalyzeText{Text: "some words here", Language: LangEnglish})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeRequest(data)
	if err != nil {
		t.Fatal(err)
	}
	txt, ok := msg.(AnalyzeText)
	if !ok || txt.Language != LangEnglish || txt.Text != "some words here" {
		t.Errorf("DecodeRequest = %#v", msg)
	}

	if _, err := DecodeRequest([]byte(`{"type":"analyze_audio"}`)); !errors.Is(err, ErrMissingPayload) {
		t.Errorf("empty audio: err = %v", err)
	}
	if _, err := DecodeRequest([]byte(`{"type":"subscribe"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: err = %v", err)
	}
}

func TestModality(t *testing.T) {
	for _, m := range Modalities() {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if Modality("smell").Valid() {
		t.Error("smell should not be valid")
	}
	if Connected.IsResult() || Error.IsResult() || !Voice.IsResult() {
		t.Error("IsResult misclassifies control channels")
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"", LangAuto, false},
		{"auto", LangAuto, false},
		{"ES", LangSpanish, false},
		{" en ", LangEnglish, false},
		{"fr", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLanguage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLanguage(%q) = %q, %v", tt.in, got, err)
		}
	}
	if LangAuto.Next() != LangSpanish || LangEnglish.Next() != LangAuto {
		t.Error("language cycle out of order")
	}
}

func TestParseDataURL(t *testing.T) {
	url := DataURL(ImageMIME, []byte{0xff, 0xd8, 0xff})
	if !strings.HasPrefix(url, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected prefix: %s", url)
	}
	mime, data, err := ParseDataURL(url)
	if err != nil {
		t.Fatal(err)
	}
	if mime != ImageMIME || len(data) != 3 || data[1] != 0xd8 {
		t.Errorf("ParseDataURL = %q, %x", mime, data)
	}

	if _, _, err := ParseDataURL("data:audio/flac;utf8,abc"); err == nil {
		t.Error("expected error for non-base64 data url")
	}
	if _, _, err := ParseDataURL("data:audio/flac;base64"); err == nil {
		t.Error("expected error for missing separator")
	}
	if _, data, err := ParseDataURL("AQI="); err != nil || len(data) != 2 {
		t.Errorf("bare payload: %x, %v", data, err)
	}
}
