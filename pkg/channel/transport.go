package channel

import (
	"github.com/kbirk/peerchan/internal/util"
)

// Transferable marks payload values that a transport should move rather
// than copy, such as buffers or handles.
type Transferable interface {
	Transferable()
}

// Transport is a raw duplex message channel. Start activates delivery: the
// transport calls onMessage for every message it receives, in arrival order,
// and onError for failures that are not tied to a message. Messages posted by
// the peer before Start are buffered where the transport allows it.
type Transport interface {
	// Start begins delivering messages to the callbacks
	Start(onMessage func(Message), onError func(error)) error

	// PostMessage sends a message to the remote peer
	PostMessage(msg Message, transferables []any) error

	// Close stops delivery and releases the transport
	Close() error
}

// DiscoverTransferables walks the object graph of payload, cycle safe, and
// returns every value implementing Transferable.
func DiscoverTransferables(payload any) []any {
	return util.Collect(payload, func(v any) bool {
		_, ok := v.(Transferable)
		return ok
	})
}
