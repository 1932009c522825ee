package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"moodwire/pipeline"
	"moodwire/protocol"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and
// the headless printer receive the same session events. Pipeline events
// arrive on capture goroutines and must not block.
type EventSink interface {
	Connected(msg protocol.Inbound)
	Result(msg protocol.Inbound)
	Failure(msg protocol.Inbound)
	Chunk(r pipeline.ChunkReport)
	Frame(bytes int, sent bool)
	TextSent(text string, ok bool)
	Notice(text string)
}

type discardSink struct{}

func (discardSink) Connected(protocol.Inbound) {}
func (discardSink) Result(protocol.Inbound)    {}
func (discardSink) Failure(protocol.Inbound)   {}
func (discardSink) Chunk(pipeline.ChunkReport) {}
func (discardSink) Frame(int, bool)            {}
func (discardSink) TextSent(string, bool)      {}
func (discardSink) Notice(string)              {}

// lineSink prints one line per event. Frames are only counted.
type lineSink struct {
	mu     sync.Mutex
	w      io.Writer
	frames int
}

func newLineSink(w io.Writer) *lineSink {
	return &lineSink{w: w}
}

func (l *lineSink) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s "+format+"\n", append([]any{time.Now().Format("15:04:05")}, args...)...)
}

func (l *lineSink) Connected(msg protocol.Inbound) {
	if msg.Message == "" {
		l.printf("CONNECTED")
		return
	}
	l.printf("SERVER %s", msg.Message)
}

func (l *lineSink) Result(msg protocol.Inbound) {
	r := msg.Result
	line := fmt.Sprintf("RESULT %s %s %.2f", msg.Modality, r.Emotion, r.Confidence)
	if len(r.AllEmotions) > 0 {
		line += " [" + formatScores(r.AllEmotions) + "]"
	}
	l.printf("%s", line)
}

func (l *lineSink) Failure(msg protocol.Inbound) {
	if msg.Modality != "" {
		l.printf("ERROR %s %s", msg.Modality, msg.Message)
		return
	}
	l.printf("ERROR %s", msg.Message)
}

func (l *lineSink) Chunk(r pipeline.ChunkReport) {
	l.printf("CHUNK %s %d bytes %.1fs", r.Outcome, r.Bytes, r.Audio.Seconds())
}

func (l *lineSink) Frame(_ int, _ bool) {
	l.mu.Lock()
	l.frames++
	l.mu.Unlock()
}

func (l *lineSink) TextSent(text string, ok bool) {
	if !ok {
		l.printf("TEXT rejected (%d chars)", len([]rune(text)))
		return
	}
	l.printf("TEXT sent (%d chars)", len([]rune(text)))
}

func (l *lineSink) Notice(text string) {
	l.printf("NOTICE %s", text)
}

func formatScores(scores map[string]float64) string {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.2f", k, scores[k])
	}
	return strings.Join(parts, " ")
}
