package client

import (
	"context"
	"testing"

	"github.com/mailkit-go/smtpconn/internal/smtptest"
)

func TestConnection_Noop(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if err := conn.Noop(context.Background()); err != nil {
		t.Fatalf("Noop: %v", err)
	}

	// A second NOOP reuses the same round trip Noop shares with checkAlive's
	// internal liveness probe.
	if err := conn.Noop(context.Background()); err != nil {
		t.Fatalf("second Noop: %v", err)
	}
}
