// Package layer defines how a protocol family frames outgoing flush units and
// cuts the incoming byte stream into wire units.
package layer

import (
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

// Unit is one complete wire unit: a handshake message, a record of another
// content type, a QUIC frame or a protocol line group.
type Unit struct {
	// ContentType of the carrying record, zero for families without one
	ContentType uint8
	// Type is the family specific type byte when the unit starts with one
	Type uint8
	Data []byte
	// Fatal is set by the layer for units that end the conversation
	Fatal bool
}

// Layer is stateful per run. Feed may buffer partial data between calls.
type Layer interface {
	// ContentType groups messages into flush units
	ContentType(m message.Message) uint8
	// Wrap frames the serialized messages of one flush unit
	Wrap(ctx *session.Context, contentType uint8, payload []byte) []byte
	// Feed consumes received bytes and returns every unit completed by them
	Feed(ctx *session.Context, data []byte) []Unit
	// Buffered is the number of bytes waiting for the rest of their unit
	Buffered() int
	// Pending returns and drops the buffered bytes not yet forming a complete unit
	Pending() []byte
	// Detect picks the variant for a unit no expectation covers
	Detect(ctx *session.Context, u Unit) (message.Kind, bool)
	// Reset drops buffered data and sequence state
	Reset()
}
