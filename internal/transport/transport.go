// Package transport abstracts the bidirectional byte stream a Connection
// drives: a TCP socket that can be transparently upgraded to TLS
// mid-stream without the caller losing track of connection identity
// (spec §4.3, §5).
package transport

import (
	"context"
	"crypto/tls"
	"time"
)

// Event is delivered on a Transport's event channel. Exactly one of Data,
// Err is meaningful for EventData/EventError; EventClose and EventTimeout
// carry neither.
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// EventType identifies the kind of Transport event delivered.
type EventType int

const (
	EventData EventType = iota
	EventClose
	EventEnd
	EventError
	EventTimeout
)

// Transport is the collaborator contract a Connection drives: connect,
// optionally upgrade to TLS, write bytes, and close, while delivering
// inbound bytes and lifecycle signals on Events(). Implementations must
// support exactly one TLS upgrade per connection lifetime.
type Transport interface {
	// Connect dials host:port, optionally starting in implicit TLS.
	Connect(ctx context.Context, host string, port int, localAddr string, tlsConfig *tls.Config) error

	// UpgradeTLS performs a STARTTLS-style handshake on the existing
	// socket, rebinding the transport's internal stream to the resulting
	// tls.Conn while preserving connection identity. Must only be called
	// once, and only on a connection that is not already secure.
	UpgradeTLS(ctx context.Context, tlsConfig *tls.Config) error

	// Write sends bytes on the current stream (plaintext or TLS).
	Write(p []byte) (int, error)

	// Close ends the connection politely (after QUIT) if graceful is
	// true, or tears it down immediately otherwise.
	Close(graceful bool) error

	// SetIdleTimeout arms a timer that emits EventTimeout if no bytes are
	// read within d; each successful read rearms it. Zero disables it.
	SetIdleTimeout(d time.Duration)

	// Secure reports whether the current stream is TLS-wrapped.
	Secure() bool

	// Events returns the channel Event values are delivered on. It is
	// closed after an EventEnd is delivered.
	Events() <-chan Event
}
