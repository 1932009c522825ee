package history

import (
	"fmt"
	"math"
	"testing"

	"moodwire/dispatch"
	"moodwire/protocol"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		b.Add(Entry{Emotion: fmt.Sprint(i), Confidence: float64(i) / 10})
	}
	if b.Len() != 3 || b.Cap() != 3 {
		t.Fatalf("Len=%d Cap=%d, want 3 and 3", b.Len(), b.Cap())
	}
	got := b.Entries()
	for i, want := range []string{"3", "4", "5"} {
		if got[i].Emotion != want {
			t.Errorf("entry %d = %s, want %s", i, got[i].Emotion, want)
		}
	}
	last, ok := b.Last()
	if !ok || last.Emotion != "5" {
		t.Errorf("Last = %v, %v", last, ok)
	}
}

func TestBufferCapacities(t *testing.T) {
	tests := []struct {
		capacity int
		adds     int
		wantLen  int
	}{
		{20, 25, 20},
		{30, 31, 30},
		{30, 12, 12},
		{0, 4, 1},
	}
	for _, tt := range tests {
		b := New(tt.capacity)
		for i := 0; i < tt.adds; i++ {
			b.Add(Entry{Emotion: "neutral"})
		}
		if b.Len() != tt.wantLen {
			t.Errorf("New(%d) after %d adds: Len = %d, want %d", tt.capacity, tt.adds, b.Len(), tt.wantLen)
		}
	}
}

func TestAverageAndDistribution(t *testing.T) {
	b := New(10)
	if b.AverageConfidence() != 0 || b.Distribution() != nil {
		t.Error("empty buffer should have zero stats")
	}
	for _, e := range []Entry{
		{Emotion: "happy", Confidence: 0.9},
		{Emotion: "sad", Confidence: 0.5},
		{Emotion: "happy", Confidence: 0.7},
		{Emotion: "angry", Confidence: 0.3},
	} {
		b.Add(e)
	}
	if avg := b.AverageConfidence(); math.Abs(avg-0.6) > 1e-9 {
		t.Errorf("AverageConfidence = %f, want 0.6", avg)
	}
	dist := b.Distribution()
	if len(dist) != 3 {
		t.Fatalf("Distribution has %d entries, want 3", len(dist))
	}
	if dist[0].Emotion != "happy" || dist[0].Count != 2 || dist[0].Percent != 50 {
		t.Errorf("top share = %+v", dist[0])
	}
	if dist[1].Emotion != "angry" || dist[2].Emotion != "sad" {
		t.Errorf("ties not ordered by name: %+v", dist)
	}
}

func TestReset(t *testing.T) {
	b := New(2)
	b.Add(Entry{Emotion: "fear"})
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len = %d after Reset", b.Len())
	}
	if _, ok := b.Last(); ok {
		t.Error("Last should be empty after Reset")
	}
}

func TestTrack(t *testing.T) {
	d := dispatch.New()
	voice := New(20)
	unsub := Track(d, protocol.Voice, voice)

	d.Dispatch(protocol.Voice, protocol.Inbound{
		Type:      protocol.TypeAnalysisResult,
		Modality:  protocol.Voice,
		Timestamp: "2024-05-01T10:11:12.000001",
		Result:    &protocol.Result{Emotion: "surprise", Confidence: 0.4},
	})
	d.Dispatch(protocol.Voice, protocol.Inbound{Type: protocol.TypeAnalysisResult, Modality: protocol.Voice})
	d.Dispatch(protocol.Facial, protocol.Inbound{
		Type:     protocol.TypeAnalysisResult,
		Modality: protocol.Facial,
		Result:   &protocol.Result{Emotion: "happy", Confidence: 1},
	})

	if voice.Len() != 1 {
		t.Fatalf("Len = %d, want 1", voice.Len())
	}
	e, _ := voice.Last()
	if e.Emotion != "surprise" || e.At.Year() != 2024 {
		t.Errorf("entry = %+v", e)
	}

	unsub()
	d.Dispatch(protocol.Voice, protocol.Inbound{
		Type:   protocol.TypeAnalysisResult,
		Result: &protocol.Result{Emotion: "sad"},
	})
	if voice.Len() != 1 {
		t.Error("buffer updated after unsubscribe")
	}
}
