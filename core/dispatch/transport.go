package dispatch

import (
	"context"
	"time"
)

// RawMessage is one inbound message as observed by the transport.
// ID must be stable across repeated observations of the same message
// so that polling transports can be deduplicated.
type RawMessage struct {
	ID         string
	Sender     string
	Text       string
	ReceivedAt time.Time
}

// Transport is the physical message channel. Receive may return the
// same message more than once; Send delivers one text to a recipient.
type Transport interface {
	Receive(ctx context.Context) ([]RawMessage, error)
	Send(ctx context.Context, recipient, text string) error
}
