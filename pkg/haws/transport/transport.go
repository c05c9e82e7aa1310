// Package transport abstracts the bidirectional message channel used by the
// session. The core only sees an inbound stream of frames and a send
// operation; the concrete WebSocket stack lives behind the Dialer.
package transport

import (
	"context"
	"net/http"
)

// MessageType distinguishes the frame kinds a Transport can deliver.
type MessageType int

const (
	// TextMessage carries protocol JSON.
	TextMessage MessageType = iota
	// BinaryMessage carries opaque bytes; the protocol does not use them.
	BinaryMessage
)

// Message is one inbound frame.
type Message struct {
	Type MessageType
	Text string
	Data []byte
}

// Transport is an open bidirectional channel. Inbound is a finite stream:
// the channel closes on graceful close or error, after which Err reports
// the terminal error (nil for graceful close).
type Transport interface {
	// ID is stable per instance so callers can detect callbacks from a
	// transport that has since been replaced.
	ID() uint64

	// Inbound returns the stream of received frames. Closed on termination.
	Inbound() <-chan Message

	// Err returns the terminal error once Inbound has closed.
	Err() error

	// SendText writes one text frame. May block until written or ctx ends.
	SendText(ctx context.Context, text string) error

	// Cancel closes the transport; Inbound terminates shortly after.
	Cancel(reason error)
}

// Dialer opens transports. Connection problems surface either as a dial
// error or as an immediately terminated inbound stream.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error)
}
