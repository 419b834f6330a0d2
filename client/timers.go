package client

// Timers in this engine are expressed as context deadlines passed down
// into connectLocked/do/readReply rather than free-running goroutine
// timers: the connection timer is the Connect context's deadline, the
// greeting timer is a nested deadline around the first reply read, and
// the idle timer is delegated to the transport (spec §5), which emits
// EventTimeout on the same channel every other event arrives on. This
// keeps a single selection point for "what ends this wait" instead of
// racing a local timer against the transport's events channel.
//
// An EventTimeout seen mid-command (waitOne already has a handler pending
// for an outstanding reply) surfaces as ETIMEDOUT immediately: the server
// isn't responding to something already written, and a NOOP wouldn't get
// an answer either. One seen between operations, before the next command
// is written, instead runs a single NOOP round trip (checkAlive/probeAlive
// in connection.go) to tell "merely idle" apart from "dead socket" before
// committing to ETIMEDOUT.
