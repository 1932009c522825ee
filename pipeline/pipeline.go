// Package pipeline holds the three producers that turn raw input into
// outbound analysis requests: audio chunks, sampled camera frames and
// debounced text.
//
// Each producer owns its own timers and state and only shares the Sender
// it was built with. Stop on any producer returns once no further Send
// can happen.
package pipeline

import "moodwire/protocol"

// Sender hands a message to the connection. It reports whether the
// message was accepted; rejected messages are not retried.
type Sender interface {
	Send(msg protocol.Outbound) bool
}

type SenderFunc func(msg protocol.Outbound) bool

func (f SenderFunc) Send(msg protocol.Outbound) bool { return f(msg) }
