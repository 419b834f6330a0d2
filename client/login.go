package client

import (
	"context"
	"encoding/base64"
	"math/rand"
	"time"

	"github.com/mailkit-go/smtpconn"
)

// xoauth2RetryDelay returns the jitter delay before the single XOAUTH2
// retry spec §4.5 mandates ("wait a random 1-5 s and retry once using
// generate_token"). Indirected so tests can substitute a zero delay.
var xoauth2RetryDelay = func() time.Duration {
	return time.Duration(1000+rand.Intn(4000)) * time.Millisecond
}

// Credentials selects and parameterizes an authentication attempt
// (spec §3's "Auth Credentials", §4.5's mechanism selection priority).
type Credentials struct {
	User string
	Pass string

	// XOAUTH2 is set for OAuth2 bearer-token authentication; when set, it
	// takes priority over User/Pass if the server advertises XOAUTH2.
	XOAUTH2 smtpconn.TokenSource

	// NTLMDomain and NTLMWorkstation, when NTLMDomain is non-empty, select
	// NTLM authentication (never advertised by servers, so only chosen
	// when the caller explicitly asks for it).
	NTLMDomain      string
	NTLMWorkstation string

	// Mechanism, if non-empty, overrides automatic selection with one of
	// "PLAIN", "LOGIN", "CRAM-MD5", "XOAUTH2", "NTLM".
	Mechanism string
}

// selectMechanism implements spec §4.5's priority: explicit override; else
// XOAUTH2 if offered and advertised; else NTLM if a domain was supplied and
// NTLM is in the caller's intent; else the first advertised mechanism, or
// PLAIN if the server advertised nothing recognized.
func (c *Connection) selectMechanism(creds Credentials) smtpconn.SASLMechanism {
	advertised := c.caps.authMechanisms()
	has := func(name string) bool {
		for _, m := range advertised {
			if m == name {
				return true
			}
		}
		return false
	}

	switch creds.Mechanism {
	case "PLAIN":
		return smtpconn.PlainAuth("", creds.User, creds.Pass)
	case "LOGIN":
		return smtpconn.LoginAuth(creds.User, creds.Pass)
	case "CRAM-MD5":
		return smtpconn.CramMD5Auth(creds.User, creds.Pass)
	case "XOAUTH2":
		return smtpconn.XOAUTH2AuthSource(creds.User, creds.XOAUTH2)
	case "NTLM":
		return smtpconn.NTLMAuth(creds.NTLMDomain, creds.NTLMWorkstation, creds.User, creds.Pass)
	}

	if creds.XOAUTH2 != nil && has("XOAUTH2") {
		return smtpconn.XOAUTH2AuthSource(creds.User, creds.XOAUTH2)
	}
	if creds.NTLMDomain != "" {
		return smtpconn.NTLMAuth(creds.NTLMDomain, creds.NTLMWorkstation, creds.User, creds.Pass)
	}
	if len(advertised) > 0 {
		switch advertised[0] {
		case "LOGIN":
			return smtpconn.LoginAuth(creds.User, creds.Pass)
		case "CRAM-MD5":
			return smtpconn.CramMD5Auth(creds.User, creds.Pass)
		case "XOAUTH2":
			return smtpconn.XOAUTH2AuthSource(creds.User, creds.XOAUTH2)
		}
	}
	return smtpconn.PlainAuth("", creds.User, creds.Pass)
}

// Login runs the SASL mechanism's challenge/response loop against the
// dispatcher (spec §4.5). On success the connection returns to StageReady
// with authenticated set.
func (c *Connection) Login(ctx context.Context, creds Credentials) error {
	if err := c.enter("login"); err != nil {
		return err
	}
	defer c.leave()

	c.setStage(StageAuthenticating)
	mech := c.selectMechanism(creds)

	err := c.runAuth(ctx, mech)
	if err != nil && mech.Name() == "XOAUTH2" && creds.XOAUTH2 != nil {
		// spec §4.5: XOAUTH2 credentials backed by a token provider get a
		// single retry with a freshly generated token, never reusing the
		// one that just failed.
		c.cfg.Metrics.ObserveAuth(c.cfg.Host, mech.Name(), "retry")
		time.Sleep(xoauth2RetryDelay())
		mech = smtpconn.XOAUTH2AuthSource(creds.User, creds.XOAUTH2)
		err = c.runAuth(ctx, mech)
	}
	if err != nil {
		c.cfg.Metrics.ObserveAuth(c.cfg.Host, mech.Name(), "failure")
		c.setStage(StageReady)
		c.emit(smtpconn.Event{Type: smtpconn.EventError, Err: err})
		return err
	}

	c.cfg.Metrics.ObserveAuth(c.cfg.Host, mech.Name(), "success")
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	c.setStage(StageReady)
	return nil
}

func (c *Connection) runAuth(ctx context.Context, mech smtpconn.SASLMechanism) error {
	initial, err := mech.Start()
	if err != nil {
		return &smtpconn.Error{Code: smtpconn.EAUTH, Message: err.Error(), Command: "AUTH", Err: err}
	}

	cmd := "AUTH " + mech.Name()
	if initial != nil {
		cmd += " " + base64.StdEncoding.EncodeToString(initial)
	}

	reply, err := c.do(ctx, cmd)
	if err != nil {
		return err
	}

	for {
		switch {
		case reply.Code == int(smtpconn.ReplyAuthOK):
			return nil
		case reply.Code == int(smtpconn.ReplyAuthContinue):
			// Fall through to the challenge/response step below.
		default:
			return newWireErrorAsError(smtpconn.EAUTH, "AUTH", reply)
		}

		challengeText := ""
		if len(reply.Lines) > 0 {
			challengeText = reply.Lines[0]
		}
		challenge, err := base64.StdEncoding.DecodeString(challengeText)
		if err != nil {
			return &smtpconn.Error{Code: smtpconn.EAUTH, Message: "malformed base64 challenge", Command: "AUTH", Err: err}
		}

		resp, err := mech.Next(challenge)
		if err != nil {
			c.do(ctx, "*") // Best-effort cancel; the server's reply to it is discarded.
			return &smtpconn.Error{Code: smtpconn.EAUTH, Message: err.Error(), Command: "AUTH", Err: err}
		}

		reply, err = c.do(ctx, base64.StdEncoding.EncodeToString(resp))
		if err != nil {
			return err
		}
	}
}
