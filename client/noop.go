package client

import "context"

// Noop sends NOOP and expects a 250 reply (RFC 5321 §4.1.1.9). It shares
// its wire round trip with probeAlive, the same NOOP exchange checkAlive
// issues internally when the idle timer fires between operations.
func (c *Connection) Noop(ctx context.Context) error {
	if err := c.enter("noop"); err != nil {
		return err
	}
	defer c.leave()

	return c.probeAlive(ctx)
}
