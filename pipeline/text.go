package pipeline

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"moodwire/log"
	"moodwire/metrics"
	"moodwire/protocol"
)

type TextOptions struct {
	Delay    time.Duration
	MinChars int
	MaxChars int
	Language protocol.Language
	Metrics  *metrics.Metrics
	// OnSend is called after each send attempt with the text that was sent.
	OnSend func(text string, ok bool)
}

func (o *TextOptions) setDefaults() {
	if o.Delay <= 0 {
		o.Delay = 1500 * time.Millisecond
	}
	if o.MinChars <= 0 {
		o.MinChars = 10
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 5000
	}
	if o.Language == "" {
		o.Language = protocol.LangAuto
	}
}

// TextDebouncer sends the latest text once input has been quiet for the
// debounce delay. Every Update or SetLanguage restarts the countdown.
type TextDebouncer struct {
	send Sender
	opts TextOptions

	mu      sync.Mutex
	text    string
	lang    protocol.Language
	timer   *time.Timer
	seq     uint64
	pending bool
	stopped bool
	fires   sync.WaitGroup
}

func NewTextDebouncer(send Sender, opts TextOptions) *TextDebouncer {
	opts.setDefaults()
	return &TextDebouncer{send: send, opts: opts, lang: opts.Language}
}

func (d *TextDebouncer) Update(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.rearmLocked()
}

func (d *TextDebouncer) SetLanguage(lang protocol.Language) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lang = lang
	d.rearmLocked()
}

func (d *TextDebouncer) Language() protocol.Language {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lang
}

// Pending reports whether a send is scheduled.
func (d *TextDebouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *TextDebouncer) rearmLocked() {
	if d.stopped {
		return
	}
	d.cancelLocked()
	d.seq++
	if utf8.RuneCountInString(strings.TrimSpace(d.text)) < d.opts.MinChars {
		d.pending = false
		return
	}
	d.pending = true
	seq := d.seq
	d.fires.Add(1)
	d.timer = time.AfterFunc(d.opts.Delay, func() {
		defer d.fires.Done()
		d.fire(seq)
	})
}

func (d *TextDebouncer) cancelLocked() {
	if d.timer == nil {
		return
	}
	if d.timer.Stop() {
		d.fires.Done()
		d.opts.Metrics.TextSuperseded()
	}
	d.timer = nil
}

func (d *TextDebouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	text, lang := truncateRunes(d.text, d.opts.MaxChars), d.lang
	d.timer = nil
	d.mu.Unlock()

	ok := d.send.Send(protocol.AnalyzeText{Text: text, Language: lang})
	if !ok {
		log.Warnf("text: send rejected (%d chars)", utf8.RuneCountInString(text))
	}

	d.mu.Lock()
	if seq == d.seq {
		d.pending = false
	}
	d.mu.Unlock()

	if d.opts.OnSend != nil {
		d.opts.OnSend(text, ok)
	}
}

// Stop cancels a scheduled send and waits for one already firing. Later
// updates are ignored.
func (d *TextDebouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		d.fires.Done()
	}
	d.timer = nil
	d.pending = false
	d.mu.Unlock()
	d.fires.Wait()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
