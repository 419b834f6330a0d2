// Package client implements the SMTP/LMTP connection engine: the protocol
// state machine, capability negotiation, STARTTLS upgrade, SASL login, and
// envelope/DATA submission pipeline built on top of the smtpconn package's
// shared wire types.
package client

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/textproto"
	"github.com/mailkit-go/smtpconn/internal/transport"
	"github.com/mailkit-go/smtpconn/internal/wire"
)

var nonWordChar = regexp.MustCompile(`\W`)

// Connection drives a single SMTP/LMTP session end to end: connect,
// optional STARTTLS, optional login, and one or more envelope sends. Its
// public operations (Connect, Login, Send, Reset, Quit, Close) must not be
// invoked concurrently; a busy-guard returns an error rather than
// corrupting internal state if they are.
type Connection struct {
	cfg Config
	id  string

	transport  transport.Transport
	framer     *wire.Framer
	dispatcher *wire.Dispatcher
	queued     []string // Responses framed but not yet dispatched this call.

	caps capabilities

	mu            sync.Mutex
	busy          bool
	stage         Stage
	secure        bool
	authenticated bool
	closing       bool
	destroyed     bool

	events chan smtpconn.Event
}

// New returns an unconnected Connection for cfg. Call Connect to establish
// the transport and complete the EHLO/HELO handshake.
func New(cfg Config, opts ...Option) *Connection {
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Connection{
		cfg:        cfg,
		id:         newConnectionID(),
		transport:  transport.NewTCP(),
		framer:     wire.NewFramer(),
		dispatcher: wire.NewDispatcher(),
		stage:      StageInit,
		events:     make(chan smtpconn.Event, 8),
	}
}

// newConnectionID returns a random 8-byte base64 id with non-word
// characters stripped, used only to correlate log lines for one
// connection's lifetime (spec §3).
func newConnectionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return nonWordChar.ReplaceAllString(base64.StdEncoding.EncodeToString(b[:]), "")
}

// ID returns the connection's correlation id.
func (c *Connection) ID() string { return c.id }

// Events returns the channel lifecycle notifications (connect, error, end)
// are delivered on.
func (c *Connection) Events() <-chan smtpconn.Event {
	return c.events
}

// Stage reports the connection's current state machine stage.
func (c *Connection) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Capabilities returns the extensions advertised by the most recent
// EHLO/LHLO, or nil if the server only supports HELO.
func (c *Connection) Capabilities() smtpconn.Extensions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps.exts
}

// IsSecure reports whether the connection is currently TLS-wrapped.
func (c *Connection) IsSecure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secure
}

// enter acquires the busy guard for the duration of one public operation,
// enforcing spec §5's "no concurrent invocation of public operations".
func (c *Connection) enter(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return &smtpconn.Error{Code: smtpconn.ECONNECTION, Message: "connection closed", Command: op}
	}
	if c.busy {
		return &smtpconn.Error{Code: smtpconn.EPROTOCOL, Message: "concurrent operation invoked", Command: op}
	}
	c.busy = true
	return nil
}

func (c *Connection) leave() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Connection) setStage(s Stage) {
	c.mu.Lock()
	c.stage = s
	c.mu.Unlock()
}

func (c *Connection) emit(ev smtpconn.Event) {
	select {
	case c.events <- ev:
	default:
		// The caller isn't draining events; never block the protocol
		// loop on a slow or absent listener.
	}
}

// log returns the configured logger, defaulting to slog.Default if none
// was set, always bound with the connection id.
func (c *Connection) log() *slog.Logger {
	l := c.cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("conn", c.id, "host", c.cfg.Host)
}

// Connect dials the configured host and port, reads the greeting, and
// performs EHLO (or LHLO in LMTP mode) with HELO fallback, optionally
// followed by a STARTTLS upgrade (spec §4.3).
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.enter("connect"); err != nil {
		return err
	}
	defer c.leave()

	if err := c.connectLocked(ctx); err != nil {
		code := ""
		if serr, ok := err.(*smtpconn.Error); ok {
			code = string(serr.Code)
		}
		c.cfg.Metrics.ObserveConnect(c.cfg.Host, code)
		c.emit(smtpconn.Event{Type: smtpconn.EventError, Err: err})
		c.teardown(false)
		return err
	}
	c.cfg.Metrics.ObserveConnect(c.cfg.Host, "")
	c.emit(smtpconn.Event{Type: smtpconn.EventConnect})
	return nil
}

func (c *Connection) connectLocked(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectionTimeout)
	defer cancel()

	var tlsConfig *tls.Config
	if c.cfg.Secure {
		tlsConfig = c.effectiveTLSConfig()
	}

	if err := c.transport.Connect(connectCtx, c.cfg.Host, c.cfg.Port, c.cfg.LocalAddr, tlsConfig); err != nil {
		return wrapTransportError(smtpconn.ECONNECTION, "connect", err)
	}
	c.mu.Lock()
	c.secure = c.cfg.Secure
	c.stage = StageConnected
	c.mu.Unlock()

	c.transport.SetIdleTimeout(c.cfg.IdleTimeout)

	greetCtx, greetCancel := context.WithTimeout(ctx, c.cfg.GreetingTimeout)
	defer greetCancel()
	reply, err := c.readReply(greetCtx)
	if err != nil {
		return err
	}
	if reply.Code != int(smtpconn.ReplyServiceReady) {
		if reply.Code == 421 {
			return newWireErrorAsError(smtpconn.ECONNECTION, "greeting", reply)
		}
		return newWireErrorAsError(smtpconn.EPROTOCOL, "greeting", reply)
	}
	c.setStage(StageGreeted)

	return c.ehloWithFallback(ctx)
}

// greetingVerb returns "EHLO"/"LHLO" per LMTP mode.
func (c *Connection) greetingVerb() string {
	if c.cfg.LMTP {
		return "LHLO"
	}
	return "EHLO"
}

// ehloWithFallback sends EHLO/LHLO, falls back to HELO when permitted and
// rejected, and decides whether to attempt STARTTLS afterward.
func (c *Connection) ehloWithFallback(ctx context.Context) error {
	reply, err := c.do(ctx, fmt.Sprintf("%s %s", c.greetingVerb(), c.cfg.Name))
	if err != nil {
		return err
	}

	if reply.Code/100 == 2 {
		c.mu.Lock()
		c.caps.load(reply.Lines)
		c.mu.Unlock()
	} else {
		if c.cfg.RequireTLS || c.cfg.LMTP {
			return newWireErrorAsError(smtpconn.EPROTOCOL, c.greetingVerb(), reply)
		}
		reply, err = c.do(ctx, fmt.Sprintf("HELO %s", c.cfg.Name))
		if err != nil {
			return err
		}
		if reply.Code/100 != 2 {
			return newWireErrorAsError(smtpconn.EPROTOCOL, "HELO", reply)
		}
		c.mu.Lock()
		c.caps.reset()
		c.mu.Unlock()
	}
	c.setStage(StageEHLODone)

	return c.maybeStartTLS(ctx)
}

// maybeStartTLS attempts STARTTLS when appropriate and, on success,
// re-issues EHLO/LHLO to rebuild the capability registry from the secure
// channel (spec §4.3, §5's TLS-upgrade barrier).
func (c *Connection) maybeStartTLS(ctx context.Context) error {
	c.mu.Lock()
	secure := c.secure
	advertised := c.caps.startTLS
	c.mu.Unlock()

	if secure || c.cfg.IgnoreTLS {
		c.setStage(StageReady)
		return nil
	}
	if !advertised && !c.cfg.RequireTLS {
		c.setStage(StageReady)
		return nil
	}

	c.setStage(StageSTARTTLS)
	reply, err := c.do(ctx, "STARTTLS")
	if err != nil {
		return err
	}
	if reply.Code/100 != 2 {
		if c.cfg.OpportunisticTLS {
			c.setStage(StageReady)
			return nil
		}
		return newWireErrorAsError(smtpconn.ETLS, "STARTTLS", reply)
	}

	if err := c.transport.UpgradeTLS(ctx, c.effectiveTLSConfig()); err != nil {
		return wrapTransportError(smtpconn.ETLS, "STARTTLS", err)
	}
	c.mu.Lock()
	c.secure = true
	c.caps.reset()
	c.mu.Unlock()
	c.setStage(StageGreeted)

	return c.ehloWithFallback(ctx)
}

func (c *Connection) effectiveTLSConfig() *tls.Config {
	if c.cfg.TLSConfig != nil {
		return c.cfg.TLSConfig
	}
	return &tls.Config{ServerName: c.cfg.Host}
}

// do writes a single command, pushes exactly one handler, and waits for
// its response, exercising the dispatcher/framer pair described in spec
// §4.1–4.2.
func (c *Connection) do(ctx context.Context, cmd string) (wire.Reply, error) {
	if err := c.checkAlive(ctx); err != nil {
		return wire.Reply{}, err
	}
	resultCh := make(chan wireResult, 1)
	c.dispatcher.Push(func(resp string) error {
		reply, err := wire.ParseReply(resp)
		resultCh <- wireResult{reply: reply, err: err}
		return err
	})
	if err := c.writeLine(cmd); err != nil {
		return wire.Reply{}, err
	}
	return c.waitOne(ctx, resultCh)
}

// checkAlive drains one already-buffered transport event, if any, before a
// new command is written. A buffered EventTimeout means the idle timer
// fired while the connection sat unused between operations; rather than
// surfacing that as ETIMEDOUT immediately, it is confirmed with a single
// NOOP round trip via probeAlive (spec's idle timer "are we still alive"
// check), so a connection that is merely idle rather than dead keeps
// working. Any other buffered event is handled the same way pumpOne would.
func (c *Connection) checkAlive(ctx context.Context) error {
	select {
	case ev, ok := <-c.transport.Events():
		if !ok {
			return c.handleUnexpectedClose()
		}
		switch ev.Type {
		case transport.EventTimeout:
			return c.probeAlive(ctx)
		case transport.EventData:
			c.queued = append(c.queued, c.framer.Feed(ev.Data)...)
			return nil
		case transport.EventError:
			return wrapTransportError(smtpconn.ECONNECTION, "read", ev.Err)
		case transport.EventClose, transport.EventEnd:
			return c.handleUnexpectedClose()
		default:
			return nil
		}
	default:
		return nil
	}
}

// probeAlive issues a single NOOP round trip, used by checkAlive as a
// liveness check and by the public Noop method.
func (c *Connection) probeAlive(ctx context.Context) error {
	resultCh := make(chan wireResult, 1)
	c.dispatcher.Push(func(resp string) error {
		reply, err := wire.ParseReply(resp)
		resultCh <- wireResult{reply: reply, err: err}
		return err
	})
	if err := c.writeLine("NOOP"); err != nil {
		return err
	}
	reply, err := c.waitOne(ctx, resultCh)
	if err != nil {
		return err
	}
	if reply.Code != int(smtpconn.ReplyOK) {
		return newWireErrorAsError(smtpconn.EPROTOCOL, "NOOP", reply)
	}
	return nil
}

type wireResult struct {
	reply wire.Reply
	err   error
}

func (c *Connection) writeLine(line string) error {
	if _, err := c.transport.Write([]byte(line + "\r\n")); err != nil {
		return wrapTransportError(smtpconn.ECONNECTION, "write", err)
	}
	return nil
}

// waitOne blocks until resultCh has a value, pumping transport events
// through the framer/dispatcher in the meantime.
func (c *Connection) waitOne(ctx context.Context, resultCh chan wireResult) (wire.Reply, error) {
	for {
		select {
		case r := <-resultCh:
			if r.err != nil {
				return wire.Reply{}, fmt.Errorf("wire: %w", r.err)
			}
			return r.reply, nil
		default:
		}
		if err := c.pumpOne(ctx); err != nil {
			return wire.Reply{}, err
		}
	}
}

// pumpOne consumes exactly one transport event, feeding any data through
// the framer and dispatching at most one completed response.
func (c *Connection) pumpOne(ctx context.Context) error {
	if len(c.queued) > 0 {
		resp := c.queued[0]
		c.queued = c.queued[1:]
		if err := c.dispatcher.Dispatch(resp); err != nil {
			return &smtpconn.Error{Code: smtpconn.EPROTOCOL, Message: "unexpected response", Err: err}
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return wrapTransportError(smtpconn.ETIMEDOUT, "wait", ctx.Err())
	case ev, ok := <-c.transport.Events():
		if !ok {
			return c.handleUnexpectedClose()
		}
		switch ev.Type {
		case transport.EventData:
			c.queued = append(c.queued, c.framer.Feed(ev.Data)...)
			return nil
		case transport.EventTimeout:
			return &smtpconn.Error{Code: smtpconn.ETIMEDOUT, Message: "idle timeout"}
		case transport.EventError:
			return wrapTransportError(smtpconn.ECONNECTION, "read", ev.Err)
		case transport.EventClose, transport.EventEnd:
			return c.handleUnexpectedClose()
		default:
			return nil
		}
	}
}

// handleUnexpectedClose implements the "arrival of close while the
// expected handler is not greeting/close is surfaced as ECONNECTION"
// rule from spec §4.7. When c.closing is set (Quit and Close set it before
// tearing down), the close is expected and io.EOF is returned instead.
func (c *Connection) handleUnexpectedClose() error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return io.EOF
	}
	return &smtpconn.Error{Code: smtpconn.ECONNECTION, Message: "connection closed unexpectedly"}
}

// readReply reads exactly one reply without an associated dispatcher
// handler, used only for the initial greeting before any command has been
// written.
func (c *Connection) readReply(ctx context.Context) (wire.Reply, error) {
	for {
		if len(c.queued) > 0 {
			resp := c.queued[0]
			c.queued = c.queued[1:]
			return wire.ParseReply(resp)
		}
		select {
		case <-ctx.Done():
			return wire.Reply{}, wrapTransportError(smtpconn.ETIMEDOUT, "greeting", ctx.Err())
		case ev, ok := <-c.transport.Events():
			if !ok {
				return wire.Reply{}, c.handleUnexpectedClose()
			}
			switch ev.Type {
			case transport.EventData:
				c.queued = append(c.queued, c.framer.Feed(ev.Data)...)
			case transport.EventTimeout:
				return wire.Reply{}, &smtpconn.Error{Code: smtpconn.ETIMEDOUT, Message: "greeting timeout"}
			case transport.EventError:
				return wire.Reply{}, wrapTransportError(smtpconn.ECONNECTION, "greeting", ev.Err)
			case transport.EventClose, transport.EventEnd:
				return wire.Reply{}, c.handleUnexpectedClose()
			}
		}
	}
}

func wrapTransportError(code smtpconn.Code, command string, err error) *smtpconn.Error {
	return &smtpconn.Error{Code: code, Message: err.Error(), Command: command, Err: err}
}

// newWireErrorAsError converts a parsed reply into a *smtpconn.Error,
// extracting an RFC 3463 enhanced code from the first reply line exactly
// as the teacher's replyToError does.
func newWireErrorAsError(code smtpconn.Code, command string, reply wire.Reply) *smtpconn.Error {
	msg := reply.Text()

	var enhanced smtpconn.EnhancedCode
	if len(reply.Lines) > 0 {
		cl, su, de, rest := textproto.ParseEnhancedCode(reply.Lines[0])
		if cl != 0 {
			enhanced = smtpconn.EnhancedCode{Class: cl, Subject: su, Detail: de}
			if len(reply.Lines) == 1 {
				msg = rest
			}
		}
	}

	cause := smtpconn.Errorf(smtpconn.ReplyCode(reply.Code), enhanced, "%s", msg)
	return &smtpconn.Error{
		Code:         code,
		Message:      msg,
		Response:     cause.Error(),
		ResponseCode: reply.Code,
		Enhanced:     enhanced,
		Command:      command,
		Err:          cause,
	}
}

// teardown tears the connection down and, unless it was already emitted,
// delivers the terminal end event exactly once.
func (c *Connection) teardown(graceful bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.stage = StageClosed
	c.mu.Unlock()

	c.dispatcher.Drain()
	c.transport.Close(graceful)
	c.emit(smtpconn.Event{Type: smtpconn.EventEnd})
}
