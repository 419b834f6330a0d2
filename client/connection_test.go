package client

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/smtptest"
)

func dial(t *testing.T, srv *smtptest.Server, opts ...Option) *Connection {
	t.Helper()
	host, port := srv.HostPort()
	cfg := NewConfig(host, append([]Option{WithPort(port), WithConnectionTimeout(5 * time.Second), WithGreetingTimeout(5 * time.Second)}, opts...)...)
	conn := New(cfg)
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn
}

func TestConnection_ConnectAndEHLO(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if conn.Stage() != StageReady {
		t.Errorf("Stage() = %v, want StageReady", conn.Stage())
	}
	caps := conn.Capabilities()
	if !caps.Has(smtpconn.ExtPIPELINING) {
		t.Error("capabilities should include PIPELINING")
	}
	if conn.IsSecure() {
		t.Error("connection should not be secure without STARTTLS")
	}
}

func TestConnection_BusyGuardRejectsConcurrentUse(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.enter("test"); err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer conn.leave()

	err = conn.Reset(context.Background())
	if err == nil {
		t.Fatal("expected busy-guard error")
	}
	var serr *smtpconn.Error
	if !asError(err, &serr) || serr.Code != smtpconn.EPROTOCOL {
		t.Errorf("err = %v, want EPROTOCOL", err)
	}
}

func TestConnection_STARTTLSUpgrade(t *testing.T) {
	cert := generateTestCert(t)
	srv, err := smtptest.NewServer(smtptest.Config{
		Hostname:  "fixture.test",
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv, WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	defer conn.Close()

	if !conn.IsSecure() {
		t.Error("connection should be secure after STARTTLS")
	}
}

func TestConnection_RequireTLSFailsWithoutServerSupport(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	host, port := srv.HostPort()
	cfg := NewConfig(host, WithPort(port), WithRequireTLS(true), WithConnectionTimeout(5*time.Second), WithGreetingTimeout(5*time.Second))
	conn := New(cfg)
	err = conn.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error when TLS is required but unavailable")
	}
}

func asError(err error, target **smtpconn.Error) bool {
	serr, ok := err.(*smtpconn.Error)
	if !ok {
		return false
	}
	*target = serr
	return true
}
