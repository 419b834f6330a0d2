package client

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/smtptest"
)

func TestConnection_SendAccepted(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"rcpt@example.com"}}
	result, err := conn.Send(context.Background(), env, strings.NewReader("Subject: hi\r\n\r\nbody\r\n"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != "rcpt@example.com" {
		t.Errorf("Accepted = %v, want [rcpt@example.com]", result.Accepted)
	}
	if len(result.Rejected) != 0 {
		t.Errorf("Rejected = %v, want none", result.Rejected)
	}
	if result.MessageSize == 0 {
		t.Error("MessageSize should be non-zero")
	}

	envs := srv.Envelopes()
	if len(envs) != 1 {
		t.Fatalf("server recorded %d envelopes, want 1", len(envs))
	}
	if !strings.Contains(string(envs[0].Data), "body") {
		t.Errorf("recorded body = %q, missing %q", envs[0].Data, "body")
	}
}

func TestConnection_SendPartialReject(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{
		Hostname:         "fixture.test",
		RejectRecipients: map[string]int{"bad@example.com": 550},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"good@example.com", "bad@example.com"}}
	result, err := conn.Send(context.Background(), env, strings.NewReader("hello\r\n"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Accepted) != 1 || result.Accepted[0] != "good@example.com" {
		t.Errorf("Accepted = %v, want [good@example.com]", result.Accepted)
	}
	if len(result.Rejected) != 1 || result.Rejected[0] != "bad@example.com" {
		t.Errorf("Rejected = %v, want [bad@example.com]", result.Rejected)
	}
	if len(result.RejectedErrors) != 1 || result.RejectedErrors[0].ResponseCode != 550 {
		t.Errorf("RejectedErrors = %+v, want one with code 550", result.RejectedErrors)
	}
}

func TestConnection_SendAllRejectedIsError(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{
		Hostname:         "fixture.test",
		RejectRecipients: map[string]int{"bad@example.com": 550},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"bad@example.com"}}
	_, err = conn.Send(context.Background(), env, strings.NewReader("hello\r\n"))
	if err == nil {
		t.Fatal("expected error when every recipient is rejected")
	}
	serr, ok := err.(*smtpconn.Error)
	if !ok || serr.Code != smtpconn.EENVELOPE {
		t.Errorf("err = %v, want EENVELOPE", err)
	}
}

func TestConnection_SendEnvelopeOnlyStopsBeforeData(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv, WithEnvelopeOnly(true))
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"rcpt@example.com"}}
	_, err = conn.Send(context.Background(), env, strings.NewReader("hello\r\n"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(srv.Envelopes()) != 0 {
		t.Error("envelope-only mode should never reach DATA")
	}
}

func TestConnection_SendLMTPOneReplyPerRecipient(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test", LMTP: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv, WithLMTP(true))
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"a@example.com", "b@example.com"}}
	result, err := conn.Send(context.Background(), env, strings.NewReader("hello\r\n"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Accepted) != 2 {
		t.Errorf("Accepted = %v, want 2 recipients", result.Accepted)
	}
}

func TestConnection_SendRejectsEmptyRecipientList(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	_, err = conn.Send(context.Background(), smtpconn.Envelope{From: "sender@example.com"}, strings.NewReader("hello\r\n"))
	if err == nil {
		t.Fatal("expected EENVELOPE for empty recipient list")
	}
}

func TestConnection_SendSizeLimitRejected(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test", MaxMessageSize: 10})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"rcpt@example.com"}, Size: 1000}
	_, err = conn.Send(context.Background(), env, strings.NewReader("hello\r\n"))
	if err == nil {
		t.Fatal("expected EMESSAGE for oversized envelope")
	}
	serr, ok := err.(*smtpconn.Error)
	if !ok || serr.Code != smtpconn.EMESSAGE {
		t.Errorf("err = %v, want EMESSAGE", err)
	}
}

func TestConnection_SendUsesChunkingWhenAdvertised(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test", Chunking: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	if !conn.Capabilities().Has(smtpconn.ExtCHUNKING) {
		t.Fatal("CHUNKING not advertised")
	}

	body := "Subject: hi\r\n\r\nsent via BDAT\r\n"
	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"rcpt@example.com"}}
	result, err := conn.Send(context.Background(), env, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Fatalf("Accepted = %v, want 1 recipient", result.Accepted)
	}
	if result.MessageSize != int64(len(body)) {
		t.Errorf("MessageSize = %d, want %d", result.MessageSize, len(body))
	}

	envs := srv.Envelopes()
	if len(envs) != 1 || string(envs[0].Data) != body {
		t.Fatalf("server recorded %q, want %q", envs, body)
	}
}

func TestConnection_SendFallsBackToDataForUnsizedReader(t *testing.T) {
	srv, err := smtptest.NewServer(smtptest.Config{Hostname: "fixture.test", Chunking: true})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	body := "Subject: hi\r\n\r\nsent via DATA\r\n"
	env := smtpconn.Envelope{From: "sender@example.com", To: []string{"rcpt@example.com"}}
	result, err := conn.Send(context.Background(), env, io.MultiReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Fatalf("Accepted = %v, want 1 recipient", result.Accepted)
	}

	envs := srv.Envelopes()
	if len(envs) != 1 || string(envs[0].Data) != body {
		t.Fatalf("server recorded %q, want %q", envs, body)
	}
}
