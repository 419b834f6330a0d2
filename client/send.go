package client

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/wire"
)

// Send runs the envelope pipeline: pre-checks, MAIL FROM, RCPT TO for each
// recipient (pipelined when the server advertises PIPELINING), and,
// unless the connection is in envelope-only mode, DATA with body streamed
// from r (spec §4.6).
func (c *Connection) Send(ctx context.Context, env smtpconn.Envelope, r io.Reader) (*smtpconn.Result, error) {
	if err := c.enter("send"); err != nil {
		return nil, err
	}
	defer c.leave()

	if err := c.precheck(env); err != nil {
		c.emit(smtpconn.Event{Type: smtpconn.EventError, Err: err})
		return nil, err
	}

	c.setStage(StageSending)
	defer c.setStage(StageReady)

	envStart := nowFunc()
	result, err := c.runMailAndRcpt(ctx, env)
	result.EnvelopeTime = nowFunc().Sub(envStart)
	if err != nil {
		c.observeSendOutcome("rejected", result.EnvelopeTime)
		c.emit(smtpconn.Event{Type: smtpconn.EventError, Err: err})
		return result, err
	}

	if c.cfg.EnvelopeOnly {
		c.observeSendOutcome("envelope-only", result.EnvelopeTime)
		return result, nil
	}

	msgStart := nowFunc()
	if err := c.runDataOrChunked(ctx, result, r); err != nil {
		result.MessageTime = nowFunc().Sub(msgStart)
		c.observeSendOutcome("message-failed", result.EnvelopeTime+result.MessageTime)
		c.emit(smtpconn.Event{Type: smtpconn.EventError, Err: err})
		return result, err
	}
	result.MessageTime = nowFunc().Sub(msgStart)

	c.observeSendOutcome("ok", result.EnvelopeTime+result.MessageTime)
	return result, nil
}

// nowFunc is indirected so tests can substitute a controllable clock if
// ever needed; by default it is time.Now.
var nowFunc = time.Now

func (c *Connection) observeSendOutcome(outcome string, d time.Duration) {
	c.cfg.Metrics.ObserveSend(c.cfg.Host, outcome, d.Seconds())
}

// precheck validates the envelope synchronously before any bytes reach
// the wire (spec §4.6).
func (c *Connection) precheck(env smtpconn.Envelope) error {
	if len(env.To) == 0 {
		return &smtpconn.Error{Code: smtpconn.EENVELOPE, Message: "envelope has no recipients", Command: "MAIL"}
	}
	if smtpconn.ContainsForbidden(env.From) {
		return &smtpconn.Error{Code: smtpconn.EENVELOPE, Message: "from address contains forbidden characters", Command: "MAIL"}
	}
	for _, to := range env.To {
		if smtpconn.ContainsForbidden(to) {
			return &smtpconn.Error{Code: smtpconn.EENVELOPE, Message: "recipient address contains forbidden characters", Command: "RCPT", Recipient: to}
		}
	}
	if env.Size > 0 {
		if max := c.caps.maxSize(); max > 0 && env.Size > max {
			return &smtpconn.Error{Code: smtpconn.EMESSAGE, Message: fmt.Sprintf("message size %d exceeds server limit %d", env.Size, max), Command: "MAIL"}
		}
	}
	if !env.DSN.valid() {
		return &smtpconn.Error{Code: smtpconn.EENVELOPE, Message: "DSN NOTIFY=NEVER cannot be combined with other values", Command: "MAIL"}
	}
	return nil
}

// usingSMTPUTF8 reports whether the envelope requires SMTPUTF8 and whether
// the server advertises it.
func (c *Connection) usingSMTPUTF8(env smtpconn.Envelope) (needs, supported bool) {
	needs = smtpconn.NeedsSMTPUTF8(env.From)
	for _, to := range env.To {
		needs = needs || smtpconn.NeedsSMTPUTF8(to)
	}
	supported = c.caps.supports(smtpconn.ExtSMTPUTF8)
	return needs, supported
}

// runMailAndRcpt issues MAIL FROM then RCPT TO for every recipient,
// pipelining the RCPT commands when PIPELINING is advertised.
func (c *Connection) runMailAndRcpt(ctx context.Context, env smtpconn.Envelope) (*smtpconn.Result, error) {
	result := &smtpconn.Result{}

	needsUTF8, supportsUTF8 := c.usingSMTPUTF8(env)
	usingUTF8 := needsUTF8 && supportsUTF8

	mailCmd := c.buildMailFrom(env, usingUTF8)
	reply, err := c.do(ctx, mailCmd)
	if err != nil {
		return result, err
	}
	if reply.Code/100 != 2 {
		if usingUTF8 && needsUTF8 && reply.Code == 550 {
			return result, &smtpconn.Error{
				Code: smtpconn.EENVELOPE, Command: "MAIL",
				Message:      "Internationalized mailbox name not allowed",
				Response:     newWireErrorAsError(smtpconn.EENVELOPE, "MAIL", reply).Response,
				ResponseCode: reply.Code,
			}
		}
		return result, newWireErrorAsError(smtpconn.EENVELOPE, "MAIL", reply)
	}

	if err := c.runRcpt(ctx, env, result); err != nil {
		return result, err
	}

	if len(result.Accepted) == 0 {
		return result, &smtpconn.Error{
			Code:           smtpconn.EENVELOPE,
			Message:        "all recipients rejected",
			Command:        "RCPT",
			Rejected:       result.Rejected,
			RejectedErrors: result.RejectedErrors,
		}
	}
	return result, nil
}

// normalizeForWire applies ASCII-compatible-encoding to addr's domain part
// when the server doesn't advertise SMTPUTF8, so an internationalized
// domain still reaches the wire as a valid RFC 5321 Domain; the local part
// and already-ASCII addresses pass through unchanged. Left untouched when
// SMTPUTF8 is in use, since the server accepts UTF-8 addresses verbatim.
func normalizeForWire(addr string, usingUTF8 bool) string {
	if usingUTF8 {
		return addr
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return addr
	}
	ascii, err := smtpconn.ASCIIDomain(domain)
	if err != nil {
		return addr
	}
	return local + "@" + ascii
}

func (c *Connection) buildMailFrom(env smtpconn.Envelope, usingUTF8 bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MAIL FROM:<%s>", normalizeForWire(env.From, usingUTF8))
	if usingUTF8 {
		b.WriteString(" SMTPUTF8")
	}
	if env.Use8BitMIME && c.caps.supports(smtpconn.Ext8BITMIME) {
		b.WriteString(" BODY=8BITMIME")
	}
	if env.Size > 0 && c.caps.supports(smtpconn.ExtSIZE) {
		fmt.Fprintf(&b, " SIZE=%d", env.Size)
	}
	if c.caps.supports(smtpconn.ExtDSN) {
		if env.DSN.Ret != "" {
			fmt.Fprintf(&b, " RET=%s", env.DSN.Ret)
		}
		if env.DSN.Envid != "" {
			fmt.Fprintf(&b, " ENVID=%s", env.DSN.Envid)
		}
	}
	return b.String()
}

func (c *Connection) buildRcptTo(env smtpconn.Envelope, to string, usingUTF8 bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RCPT TO:<%s>", normalizeForWire(to, usingUTF8))
	if c.caps.supports(smtpconn.ExtDSN) {
		if len(env.DSN.Notify) > 0 {
			notifies := make([]string, len(env.DSN.Notify))
			for i, n := range env.DSN.Notify {
				notifies[i] = string(n)
			}
			fmt.Fprintf(&b, " NOTIFY=%s", strings.Join(notifies, ","))
		}
		if env.DSN.Orcpt != "" {
			fmt.Fprintf(&b, " ORCPT=%s", env.DSN.Orcpt)
		}
	}
	return b.String()
}

// runRcpt issues one RCPT TO per recipient, pipelined when advertised, and
// fills in result.Accepted/Rejected/RejectedErrors in recipient order.
func (c *Connection) runRcpt(ctx context.Context, env smtpconn.Envelope, result *smtpconn.Result) error {
	needsUTF8, supportsUTF8 := c.usingSMTPUTF8(env)
	usingUTF8 := needsUTF8 && supportsUTF8

	if c.caps.supports(smtpconn.ExtPIPELINING) {
		return c.runRcptPipelined(ctx, env, result, usingUTF8)
	}
	return c.runRcptSequential(ctx, env, result, usingUTF8)
}

func (c *Connection) runRcptSequential(ctx context.Context, env smtpconn.Envelope, result *smtpconn.Result, usingUTF8 bool) error {
	for _, to := range env.To {
		reply, err := c.do(ctx, c.buildRcptTo(env, to, usingUTF8))
		if err != nil {
			return err
		}
		c.recordRcptResult(result, to, reply, usingUTF8)
	}
	return nil
}

// runRcptPipelined pushes all N handlers before writing any of the N
// commands (spec §4.2's pipelining invariant), then drains them in order.
func (c *Connection) runRcptPipelined(ctx context.Context, env smtpconn.Envelope, result *smtpconn.Result, usingUTF8 bool) error {
	type slot struct {
		to     string
		result chan wireResult
	}
	slots := make([]slot, len(env.To))
	for i, to := range env.To {
		ch := make(chan wireResult, 1)
		slots[i] = slot{to: to, result: ch}
		c.dispatcher.Push(func(resp string) error {
			reply, err := wire.ParseReply(resp)
			ch <- wireResult{reply: reply, err: err}
			return err
		})
	}
	for _, to := range env.To {
		if err := c.writeLine(c.buildRcptTo(env, to, usingUTF8)); err != nil {
			return err
		}
	}
	for _, s := range slots {
		reply, err := c.waitOne(ctx, s.result)
		if err != nil {
			return err
		}
		c.recordRcptResult(result, s.to, reply, usingUTF8)
	}
	return nil
}

func (c *Connection) recordRcptResult(result *smtpconn.Result, to string, reply wire.Reply, usingUTF8 bool) {
	if reply.Code/100 == 2 {
		result.Accepted = append(result.Accepted, to)
		return
	}

	msg := reply.Text()
	if usingUTF8 && smtpconn.NeedsSMTPUTF8(to) && reply.Code == 553 {
		msg = "Internationalized mailbox name not allowed"
	}
	result.Rejected = append(result.Rejected, to)
	result.RejectedErrors = append(result.RejectedErrors, &smtpconn.Error{
		Code:         smtpconn.EENVELOPE,
		Message:      msg,
		ResponseCode: reply.Code,
		Command:      "RCPT",
		Recipient:    to,
	})
	c.cfg.Metrics.ObserveRejectedRecipients(c.cfg.Host, 1)
}

// runDataOrChunked picks between classic DATA and RFC 3030 BDAT chunking
// (spec §3's supplemented CHUNKING feature): BDAT is used automatically
// when the server advertises CHUNKING and r's length is known up front,
// since BDAT needs every chunk's byte count stated ahead of its data;
// otherwise this falls back to the classic DATA path, which remains the
// default for the common unsized io.Reader case.
func (c *Connection) runDataOrChunked(ctx context.Context, result *smtpconn.Result, r io.Reader) error {
	if c.caps.supports(smtpconn.ExtCHUNKING) {
		if size, ok := chunkedLen(r); ok {
			return c.SendChunked(ctx, result, r, size)
		}
	}
	return c.runData(ctx, result, r)
}

// runData issues DATA, streams body through the dot-stuffing encoder, and
// reads the completion reply (one for SMTP, one per accepted recipient for
// LMTP), per spec §4.6.
func (c *Connection) runData(ctx context.Context, result *smtpconn.Result, r io.Reader) error {
	reply, err := c.do(ctx, "DATA")
	if err != nil {
		return err
	}
	if reply.Code != int(smtpconn.ReplyStartMailInput) && reply.Code/100 != 2 {
		return newWireErrorAsError(smtpconn.EMESSAGE, "DATA", reply)
	}

	enc := wire.NewEncoder(dataWriter{c})
	if _, err := io.Copy(enc, r); err != nil {
		return &smtpconn.Error{Code: smtpconn.ESTREAM, Message: err.Error(), Command: "DATA", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &smtpconn.Error{Code: smtpconn.ECONNECTION, Message: err.Error(), Command: "DATA", Err: err}
	}
	result.MessageSize = enc.OutByteCount()

	if c.cfg.LMTP {
		return c.readLMTPCompletion(ctx, result)
	}
	return c.readSMTPCompletion(ctx, result)
}

// dataWriter adapts Connection.writeLine's raw transport write for the
// encoder, which wants a plain io.Writer (it appends its own CRLF framing
// and must not have an extra CRLF added on top).
type dataWriter struct{ c *Connection }

func (d dataWriter) Write(p []byte) (int, error) {
	n, err := d.c.transport.Write(p)
	if err != nil {
		return n, wrapTransportError(smtpconn.ECONNECTION, "DATA", err)
	}
	return n, nil
}

func (c *Connection) readSMTPCompletion(ctx context.Context, result *smtpconn.Result) error {
	resultCh := make(chan wireResult, 1)
	c.dispatcher.Push(func(resp string) error {
		reply, err := wire.ParseReply(resp)
		resultCh <- wireResult{reply: reply, err: err}
		return err
	})
	reply, err := c.waitOne(ctx, resultCh)
	if err != nil {
		return err
	}
	if reply.Code/100 != 2 {
		return newWireErrorAsError(smtpconn.EMESSAGE, "DATA", reply)
	}
	result.Response = reply.Text()
	return nil
}

func (c *Connection) readLMTPCompletion(ctx context.Context, result *smtpconn.Result) error {
	accepted := result.Accepted
	result.Accepted = nil

	for _, to := range accepted {
		resultCh := make(chan wireResult, 1)
		c.dispatcher.Push(func(resp string) error {
			reply, err := wire.ParseReply(resp)
			resultCh <- wireResult{reply: reply, err: err}
			return err
		})
		reply, err := c.waitOne(ctx, resultCh)
		if err != nil {
			return err
		}
		if reply.Code/100 == 2 {
			result.Accepted = append(result.Accepted, to)
		} else {
			result.Rejected = append(result.Rejected, to)
			result.RejectedErrors = append(result.RejectedErrors, &smtpconn.Error{
				Code:         smtpconn.EMESSAGE,
				Message:      reply.Text(),
				ResponseCode: reply.Code,
				Command:      "DATA",
				Recipient:    to,
			})
			c.cfg.Metrics.ObserveRejectedRecipients(c.cfg.Host, 1)
		}
		result.Response = reply.Text()
	}
	return nil
}
