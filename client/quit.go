package client

import (
	"context"
	"errors"
	"io"

	"github.com/mailkit-go/smtpconn"
)

// Reset sends RSET to abort the current envelope, if any, and returns the
// connection to StageReady. A non-2xx reply is a protocol error (spec §7).
func (c *Connection) Reset(ctx context.Context) error {
	if err := c.enter("reset"); err != nil {
		return err
	}
	defer c.leave()

	reply, err := c.do(ctx, "RSET")
	if err != nil {
		return err
	}
	if reply.Code/100 != 2 {
		return newWireErrorAsError(smtpconn.EPROTOCOL, "RSET", reply)
	}
	c.setStage(StageReady)
	return nil
}

// Quit sends QUIT and waits for the server's closing reply, then tears the
// connection down gracefully. Arrival of the transport's close event while
// QUIT is outstanding is expected and silent (spec §4.7); any other
// interruption surfaces as an error but still leaves the connection torn
// down.
func (c *Connection) Quit(ctx context.Context) error {
	if err := c.enter("quit"); err != nil {
		return err
	}
	defer c.leave()

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	reply, err := c.do(ctx, "QUIT")
	c.teardown(true)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	if reply.Code != int(smtpconn.ReplyServiceClosing) {
		return newWireErrorAsError(smtpconn.EPROTOCOL, "QUIT", reply)
	}
	return nil
}

// Close tears the connection down immediately without negotiating QUIT,
// for callers that must abandon a connection (timeout, fatal error) rather
// than close it cleanly.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.teardown(false)
	return nil
}
