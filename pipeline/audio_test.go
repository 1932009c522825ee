package pipeline

import (
	"errors"
	"strings"
	"testing"
	"time"

	"moodwire/audio"
	"moodwire/protocol"
	"moodwire/vad"
)

func TestChunkSizeThreshold(t *testing.T) {
	tests := []struct {
		size int
		want Outcome
	}{
		{49999, OutcomeTooSmall},
		{50000, OutcomeSent},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			rec := &recorder{}
			encs := &encoderLog{size: tt.size}
			reports := make(chan ChunkReport, 16)
			c := NewAudioChunker(audio.NewFakeContextPCM(nil, false), rec, AudioOptions{
				Period:     30 * time.Millisecond,
				NewEncoder: encs.factory,
				OnChunk:    func(r ChunkReport) { reports <- r },
			})
			if err := c.Start(); err != nil {
				t.Fatal(err)
			}
			defer c.Stop()

			var r ChunkReport
			select {
			case r = <-reports:
			case <-time.After(2 * time.Second):
				t.Fatal("no chunk reported")
			}
			c.Stop()

			if r.Outcome != tt.want || r.Bytes != tt.size {
				t.Errorf("report = %+v, want outcome %s with %d bytes", r, tt.want, tt.size)
			}
			if r.SpeechRatio != -1 {
				t.Errorf("SpeechRatio = %v without a detector, want -1", r.SpeechRatio)
			}
			if r.Audio <= 0 {
				t.Error("chunk carries no audio duration")
			}

			msgs := rec.Messages()
			if tt.want == OutcomeTooSmall {
				if len(msgs) != 0 {
					t.Errorf("sent %d messages for an undersized chunk", len(msgs))
				}
				return
			}
			if len(msgs) == 0 {
				t.Fatal("nothing sent")
			}
			a, ok := msgs[0].(protocol.AnalyzeAudio)
			if !ok {
				t.Fatalf("sent %T", msgs[0])
			}
			mime, data, err := protocol.ParseDataURL(a.Audio)
			if err != nil || mime != protocol.AudioMIME || len(data) != tt.size {
				t.Errorf("data url: mime=%q len=%d err=%v", mime, len(data), err)
			}
		})
	}
}

func TestAudioStopDiscardsPartialSegment(t *testing.T) {
	rec := &recorder{}
	encs := &encoderLog{size: 80000}
	ctx := audio.NewFakeContextPCM(nil, false)
	c := NewAudioChunker(ctx, rec, AudioOptions{Period: time.Hour, NewEncoder: encs.factory})

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !c.Recording() {
		t.Fatal("not recording after Start")
	}
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	if rec.Len() != 0 {
		t.Errorf("sent %d messages, want 0", rec.Len())
	}
	created := encs.created()
	if len(created) != 1 || created[0].finished {
		t.Errorf("partial segment was finished or extra segments created (%d)", len(created))
	}
	if created[0].Samples() == 0 {
		t.Error("segment received no samples")
	}
	if ctx.Open() != 0 {
		t.Errorf("capture devices still open: %d", ctx.Open())
	}
	if c.Recording() {
		t.Error("still recording after Stop")
	}
	c.Stop()
}

func TestAudioNoSendAfterStop(t *testing.T) {
	rec := &recorder{}
	encs := &encoderLog{size: 60000}
	c := NewAudioChunker(audio.NewFakeContextPCM(nil, false), rec, AudioOptions{
		Period:     5 * time.Millisecond,
		NewEncoder: encs.factory,
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if !waitFor(func() bool { return rec.Len() >= 2 }, 2*time.Second) {
		t.Fatal("no chunks sent")
	}
	c.Stop()
	n := rec.Len()
	time.Sleep(40 * time.Millisecond)
	if rec.Len() != n {
		t.Errorf("sends continued after Stop: %d -> %d", n, rec.Len())
	}
}

func TestAudioRestart(t *testing.T) {
	rec := &recorder{}
	encs := &encoderLog{size: 60000}
	ctx := audio.NewFakeContextPCM(nil, false)
	c := NewAudioChunker(ctx, rec, AudioOptions{Period: 10 * time.Millisecond, NewEncoder: encs.factory})
	for i := 0; i < 2; i++ {
		if err := c.Start(); err != nil {
			t.Fatal(err)
		}
		if err := c.Start(); err != nil {
			t.Fatal(err)
		}
		want := i + 1
		if !waitFor(func() bool { return rec.Len() >= want }, 2*time.Second) {
			t.Fatalf("round %d: no chunk", i)
		}
		c.Stop()
	}
	if ctx.Open() != 0 {
		t.Errorf("open captures = %d", ctx.Open())
	}
}

func TestAudioStartDeviceFault(t *testing.T) {
	busy := errors.New("device busy")
	ctx := audio.NewFakeContextPCM(nil, false)
	ctx.CaptureErr = busy
	c := NewAudioChunker(ctx, &recorder{}, AudioOptions{})

	err := c.Start()
	if !errors.Is(err, busy) {
		t.Fatalf("Start = %v, want wrapped device error", err)
	}
	if !strings.Contains(err.Error(), "microphone") {
		t.Errorf("error lacks context: %v", err)
	}
	if c.Recording() {
		t.Error("recording after failed Start")
	}
}

func TestAudioRejectedSend(t *testing.T) {
	rec := &recorder{reject: true}
	encs := &encoderLog{size: 50000}
	reports := make(chan ChunkReport, 16)
	c := NewAudioChunker(audio.NewFakeContextPCM(nil, false), rec, AudioOptions{
		Period:     10 * time.Millisecond,
		NewEncoder: encs.factory,
		OnChunk:    func(r ChunkReport) { reports <- r },
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	select {
	case r := <-reports:
		if r.Outcome != OutcomeRejected {
			t.Errorf("outcome = %s, want rejected", r.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
}

func TestAudioRealFlacWithVAD(t *testing.T) {
	det, err := vad.New(vad.DefaultMode)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	reports := make(chan ChunkReport, 16)
	levels := make(chan float64, 1)
	c := NewAudioChunker(audio.NewFakeContextPCM(nil, false), rec, AudioOptions{
		Period:        40 * time.Millisecond,
		MinChunkBytes: 1,
		VAD:           det,
		OnChunk:       func(r ChunkReport) { reports <- r },
		OnLevel: func(v float64) {
			select {
			case levels <- v:
			default:
			}
		},
	})
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	var r ChunkReport
	select {
	case r = <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
	c.Stop()
	if r.Outcome != OutcomeSent {
		t.Fatalf("outcome = %s", r.Outcome)
	}
	if r.SpeechRatio != 0 {
		t.Errorf("speech ratio on silence = %v", r.SpeechRatio)
	}
	if lvl := <-levels; lvl != 0 {
		t.Errorf("level on silence = %v", lvl)
	}
	_, data, err := protocol.ParseDataURL(rec.Messages()[0].(protocol.AnalyzeAudio).Audio)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[:4]) != "fLaC" {
		t.Error("chunk is not a FLAC stream")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v", got)
	}
	if got := rms([]int16{-32768, -32768}); got != 1 {
		t.Errorf("full scale rms = %v", got)
	}
}
