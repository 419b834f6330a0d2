package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

// TCP is the concrete Transport over a real TCP socket, optionally wrapped
// in TLS. A single goroutine owns the read loop and delivers bytes and
// lifecycle signals on the Events channel; Write is safe to call from the
// owning connection goroutine only, matching the single-owner model of
// spec §5.
type TCP struct {
	mu     sync.Mutex
	conn   net.Conn
	events chan Event

	idleTimer *time.Timer
	idleDur   time.Duration

	closeOnce sync.Once
	closed    bool
}

// NewTCP returns an unconnected TCP transport.
func NewTCP() *TCP {
	return &TCP{events: make(chan Event, 16)}
}

func (t *TCP) Connect(ctx context.Context, host string, port int, localAddr string, tlsConfig *tls.Config) error {
	dialer := &net.Dialer{}
	if localAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", localAddr+":0")
		if err != nil {
			return fmt.Errorf("transport: resolving local address: %w", err)
		}
		dialer.LocalAddr = addr
	}

	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	var conn net.Conn
	var err error
	if tlsConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", target)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", target)
	}
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", target, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop()
	return nil
}

func (t *TCP) readLoop() {
	buf := make([]byte, 4096)
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			t.emit(Event{Type: EventData, Data: cp})
			t.rearmIdle()
		}
		if err != nil {
			t.mu.Lock()
			wasClosed := t.closed
			t.closed = true
			if t.idleTimer != nil {
				t.idleTimer.Stop()
			}
			t.mu.Unlock()
			if wasClosed {
				t.emit(Event{Type: EventClose})
			} else {
				t.emit(Event{Type: EventError, Err: err})
				t.emit(Event{Type: EventClose})
			}
			t.emit(Event{Type: EventEnd})
			close(t.events)
			return
		}
	}
}

func (t *TCP) UpgradeTLS(ctx context.Context, tlsConfig *tls.Config) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: cannot upgrade before connect")
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("transport: TLS handshake: %w", err)
	}

	// Rebind: the existing read loop's next Read call belongs to the old
	// plaintext socket; since we swap t.conn before that loop's next
	// iteration picks it up, post-handshake bytes are only ever read from
	// the tls.Conn. The underlying net.Conn is preserved by tls.Client, so
	// connection identity (remote addr, etc.) is retained.
	t.mu.Lock()
	t.conn = tlsConn
	t.mu.Unlock()
	return nil
}

func (t *TCP) Write(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("transport: write before connect")
	}
	return conn.Write(p)
}

func (t *TCP) Close(graceful bool) error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		if t.idleTimer != nil {
			t.idleTimer.Stop()
		}
		t.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (t *TCP) SetIdleTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idleDur = d
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	if d > 0 {
		t.idleTimer = time.AfterFunc(d, func() {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.emit(Event{Type: EventTimeout})
			}
		})
	}
}

func (t *TCP) rearmIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idleTimer != nil && t.idleDur > 0 {
		t.idleTimer.Reset(t.idleDur)
	}
}

func (t *TCP) Secure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conn.(*tls.Conn)
	return ok
}

func (t *TCP) Events() <-chan Event {
	return t.events
}

func (t *TCP) emit(e Event) {
	t.events <- e
}
