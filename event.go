package smtpconn

// EventType names one of the lifecycle events a Connection emits over its
// event channel (spec §6).
type EventType string

// Lifecycle event types.
const (
	// EventConnect fires once EHLO/HELO negotiation completes and the
	// connection is ready to log in or send.
	EventConnect EventType = "connect"
	// EventError fires when an operation fails; Err is always non-nil.
	EventError EventType = "error"
	// EventEnd fires exactly once, when the connection reaches its
	// terminal closed state.
	EventEnd EventType = "end"
)

// Event is a single lifecycle notification delivered on a Connection's
// event channel, primarily so callers can drive structured logging without
// the connection itself taking a hard dependency on a particular logger.
type Event struct {
	Type EventType
	Err  error
}
