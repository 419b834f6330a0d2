package wire

import "errors"

// ErrUnexpectedResponse is returned by Dispatch when a response arrives
// with no handler pending, which the connection surfaces as EPROTOCOL.
var ErrUnexpectedResponse = errors.New("wire: unexpected response")

// Handler is invoked with the text of one completed logical response.
type Handler func(response string) error

// Dispatcher is a FIFO queue of pending response handlers, one per command
// currently in flight. Pipelined commands push multiple handlers before any
// of their responses arrive; Dispatch always pops and invokes the oldest.
type Dispatcher struct {
	pending []Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Push enqueues a handler for the next response to arrive. Every command
// write must be preceded by exactly one Push (or, under PIPELINING, N
// pushes before N command writes).
func (d *Dispatcher) Push(h Handler) {
	d.pending = append(d.pending, h)
}

// Dispatch pops the oldest pending handler and invokes it with response.
// It returns ErrUnexpectedResponse, without invoking anything, if the
// queue is empty.
func (d *Dispatcher) Dispatch(response string) error {
	if len(d.pending) == 0 {
		return ErrUnexpectedResponse
	}
	h := d.pending[0]
	d.pending = d.pending[1:]
	return h(response)
}

// Len reports the number of handlers currently queued.
func (d *Dispatcher) Len() int {
	return len(d.pending)
}

// Drain empties the queue without invoking any handler, used when closing
// a connection with commands still outstanding.
func (d *Dispatcher) Drain() {
	d.pending = nil
}
