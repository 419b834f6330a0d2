package client

import (
	"context"
	"fmt"
	"io"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/wire"
)

// chunkedMaxSize bounds a single BDAT chunk (RFC 3030 imposes no limit;
// this keeps one chunk's payload from growing unbounded in memory).
const chunkedMaxSize = 1 << 16

// lenReader is satisfied by *bytes.Reader and *strings.Reader, among
// others in the standard library.
type lenReader interface{ Len() int }

// chunkedLen reports r's remaining length if it exposes one up front,
// matching spec §3's "caller supplies a reader with a known length"
// condition for automatic BDAT use: the fixed-buffer readers that already
// know their own length, or any io.Seeker (size computed from the
// current offset to EOF without consuming anything).
func chunkedLen(r io.Reader) (int64, bool) {
	switch v := r.(type) {
	case lenReader:
		return int64(v.Len()), true
	case io.Seeker:
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, false
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, false
		}
		return end - cur, true
	default:
		return 0, false
	}
}

// SendChunked streams r as a sequence of BDAT commands (RFC 3030) instead
// of DATA, used automatically by Send when the server advertises CHUNKING
// and the message length is known (spec §3's supplemented CHUNKING
// feature). Unlike DATA, BDAT carries raw octets with no dot-stuffing.
func (c *Connection) SendChunked(ctx context.Context, result *smtpconn.Result, r io.Reader, size int64) error {
	buf := make([]byte, chunkedMaxSize)
	var sent int64
	for {
		want := size - sent
		if want > chunkedMaxSize {
			want = chunkedMaxSize
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return &smtpconn.Error{Code: smtpconn.ESTREAM, Message: err.Error(), Command: "BDAT", Err: err}
		}
		sent += int64(n)
		last := sent >= size || err == io.ErrUnexpectedEOF || err == io.EOF

		if !last {
			if err := c.bdatChunk(ctx, buf[:n]); err != nil {
				return err
			}
			continue
		}
		if err := c.writeBdatLast(buf[:n]); err != nil {
			return err
		}
		break
	}
	result.MessageSize = sent

	if c.cfg.LMTP {
		return c.readLMTPCompletion(ctx, result)
	}
	return c.readSMTPCompletion(ctx, result)
}

// bdatChunk writes one non-final BDAT chunk and waits for its own
// continuation reply; RFC 3030 requires every BDAT command, not just the
// last, to be acknowledged.
func (c *Connection) bdatChunk(ctx context.Context, data []byte) error {
	resultCh := make(chan wireResult, 1)
	c.dispatcher.Push(func(resp string) error {
		reply, err := wire.ParseReply(resp)
		resultCh <- wireResult{reply: reply, err: err}
		return err
	})
	if err := c.writeLine(fmt.Sprintf("BDAT %d", len(data))); err != nil {
		return err
	}
	if err := c.writeBdatData(data); err != nil {
		return err
	}
	reply, err := c.waitOne(ctx, resultCh)
	if err != nil {
		return err
	}
	if reply.Code/100 != 2 {
		return newWireErrorAsError(smtpconn.EMESSAGE, "BDAT", reply)
	}
	return nil
}

// writeBdatLast writes the final "BDAT n LAST" command and its payload.
// Its reply is read by readSMTPCompletion/readLMTPCompletion exactly as
// the DATA terminator's reply is: BDAT LAST's acknowledgment plays the
// same role as the 250 after the DATA dot, including LMTP's one-reply-
// per-accepted-recipient sequence that follows it.
func (c *Connection) writeBdatLast(data []byte) error {
	if err := c.writeLine(fmt.Sprintf("BDAT %d LAST", len(data))); err != nil {
		return err
	}
	return c.writeBdatData(data)
}

func (c *Connection) writeBdatData(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := c.transport.Write(data); err != nil {
		return wrapTransportError(smtpconn.ECONNECTION, "BDAT", err)
	}
	return nil
}
