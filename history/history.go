// Package history keeps a bounded, in-memory record of recent emotion
// results per modality.
package history

import (
	"sort"
	"sync"
	"time"

	"moodwire/dispatch"
	"moodwire/protocol"
)

type Entry struct {
	Emotion     string
	Confidence  float64
	AllEmotions map[string]float64
	At          time.Time
}

// Buffer is a fixed-capacity ring. Adding to a full buffer evicts the
// oldest entry.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	start   int
	n       int
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := len(b.entries)
	if b.n < size {
		b.entries[(b.start+b.n)%size] = e
		b.n++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % size
}

// Entries returns a copy, oldest first.
func (b *Buffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *Buffer) Cap() int {
	return len(b.entries)
}

func (b *Buffer) Last() (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 {
		return Entry{}, false
	}
	return b.entries[(b.start+b.n-1)%len(b.entries)], true
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.start, b.n = 0, 0
}

func (b *Buffer) AverageConfidence() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < b.n; i++ {
		sum += b.entries[(b.start+i)%len(b.entries)].Confidence
	}
	return sum / float64(b.n)
}

type Share struct {
	Emotion string
	Count   int
	Percent float64
}

// Distribution counts dominant emotions, most frequent first. Ties are
// ordered by name.
func (b *Buffer) Distribution() []Share {
	entries := b.Entries()
	if len(entries) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Emotion]++
	}
	shares := make([]Share, 0, len(counts))
	for emotion, c := range counts {
		shares = append(shares, Share{
			Emotion: emotion,
			Count:   c,
			Percent: float64(c) * 100 / float64(len(entries)),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Emotion < shares[j].Emotion
	})
	return shares
}

// EntryFrom converts an analysis result. It reports false for messages
// without a result payload.
func EntryFrom(msg protocol.Inbound) (Entry, bool) {
	if msg.Result == nil || msg.Result.Emotion == "" {
		return Entry{}, false
	}
	at, ok := msg.Time()
	if !ok {
		at = time.Now()
	}
	return Entry{
		Emotion:     msg.Result.Emotion,
		Confidence:  msg.Result.Confidence,
		AllEmotions: msg.Result.AllEmotions,
		At:          at,
	}, true
}

// Track subscribes buf to results of modality m.
func Track(d *dispatch.Dispatcher, m protocol.Modality, buf *Buffer) (unsubscribe func()) {
	return d.Subscribe(m, func(msg protocol.Inbound) {
		if e, ok := EntryFrom(msg); ok {
			buf.Add(e)
		}
	})
}
