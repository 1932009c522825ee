// Package dispatch routes inbound messages to subscribers keyed by modality.
package dispatch

import (
	"sync"

	"moodwire/log"
	"moodwire/protocol"
)

type Handler func(protocol.Inbound)

type subscription struct {
	id uint64
	fn Handler
}

// Dispatcher is a modality-keyed publish/subscribe registry. Handlers for a
// modality run synchronously in subscription order.
type Dispatcher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[protocol.Modality][]subscription

	// OnPanic, if set, is called after a handler panic has been recovered.
	OnPanic func(m protocol.Modality, v any)
}

func New() *Dispatcher {
	return &Dispatcher{subs: make(map[protocol.Modality][]subscription)}
}

// Subscribe registers fn for m and returns a function that removes it.
// Unknown modalities and nil handlers are ignored; the returned function is
// then a no-op. Calling the returned function more than once is harmless.
func (d *Dispatcher) Subscribe(m protocol.Modality, fn Handler) (unsubscribe func()) {
	if !m.Valid() || fn == nil {
		log.Warnf("dispatch: ignoring subscription to %q", m)
		return func() {}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[m] = append(d.subs[m], subscription{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(m, id) })
	}
}

func (d *Dispatcher) remove(m protocol.Modality, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subs[m]
	for i := range list {
		if list[i].id != id {
			continue
		}
		// Copy so that a Dispatch iterating an older snapshot is unaffected.
		next := make([]subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(d.subs, m)
		} else {
			d.subs[m] = next
		}
		return
	}
}

// Dispatch delivers msg to every handler subscribed to m at the time of the
// call and returns how many were invoked. A panicking handler is logged and
// skipped.
func (d *Dispatcher) Dispatch(m protocol.Modality, msg protocol.Inbound) int {
	d.mu.Lock()
	handlers := d.subs[m]
	d.mu.Unlock()

	for _, s := range handlers {
		d.call(m, s.fn, msg)
	}
	return len(handlers)
}

func (d *Dispatcher) call(m protocol.Modality, fn Handler, msg protocol.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("dispatch: %s handler panic: %v", m, r)
			if d.OnPanic != nil {
				d.OnPanic(m, r)
			}
		}
	}()
	fn(msg)
}

func (d *Dispatcher) Len(m protocol.Modality) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[m])
}
