package smtpconn

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	ntlmssp "github.com/Azure/go-ntlmssp"
)

// SASLMechanism defines a client-side SASL authentication mechanism.
type SASLMechanism interface {
	// Name returns the IANA-registered mechanism name (e.g., "PLAIN").
	Name() string
	// Start begins authentication and returns the initial response.
	// If no initial response is needed, return nil, nil.
	Start() ([]byte, error)
	// Next processes a server challenge and returns the response.
	Next(challenge []byte) ([]byte, error)
}

// PlainAuth returns a SASLMechanism implementing SASL PLAIN (RFC 4616).
// The identity is typically empty (server derives it from username).
func PlainAuth(identity, username, password string) SASLMechanism {
	return &plainAuth{identity: identity, username: username, password: password}
}

type plainAuth struct {
	identity string
	username string
	password string
}

func (a *plainAuth) Name() string { return "PLAIN" }

func (a *plainAuth) Start() ([]byte, error) {
	// PLAIN format: [authzid] NUL authcid NUL passwd
	resp := []byte(a.identity + "\x00" + a.username + "\x00" + a.password)
	return resp, nil
}

func (a *plainAuth) Next(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("smtpconn: unexpected PLAIN challenge")
}

// LoginAuth returns a SASLMechanism implementing the LOGIN mechanism
// (draft-murchison-sasl-login, widely deployed).
type loginAuth struct {
	username string
	password string
	step     int
}

// LoginAuth returns a SASLMechanism implementing SASL LOGIN.
func LoginAuth(username, password string) SASLMechanism {
	return &loginAuth{username: username, password: password}
}

func (a *loginAuth) Name() string { return "LOGIN" }

func (a *loginAuth) Start() ([]byte, error) {
	// LOGIN does not have an initial response; the server sends challenges.
	return nil, nil
}

func (a *loginAuth) Next(challenge []byte) ([]byte, error) {
	switch a.step {
	case 0:
		a.step++
		return []byte(a.username), nil
	case 1:
		a.step++
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("smtpconn: unexpected LOGIN challenge at step %d", a.step)
	}
}

// CramMD5Auth returns a SASLMechanism implementing SASL CRAM-MD5 (RFC 2195).
func CramMD5Auth(username, secret string) SASLMechanism {
	return &cramMD5Auth{username: username, secret: secret}
}

type cramMD5Auth struct {
	username string
	secret   string
}

func (a *cramMD5Auth) Name() string { return "CRAM-MD5" }

func (a *cramMD5Auth) Start() ([]byte, error) {
	// CRAM-MD5 does not have an initial response; server sends the challenge.
	return nil, nil
}

func (a *cramMD5Auth) Next(challenge []byte) ([]byte, error) {
	// HMAC-MD5 of challenge using secret as key.
	mac := hmac.New(md5.New, []byte(a.secret))
	mac.Write(challenge)
	digest := hex.EncodeToString(mac.Sum(nil))
	return []byte(a.username + " " + digest), nil
}

// TokenSource supplies OAuth2 bearer tokens for XOAUTH2Auth. Implementations
// that refresh an expired token should do so inside Token rather than
// caching a value that might already be stale.
type TokenSource interface {
	Token() (string, error)
}

// staticToken is a TokenSource that always returns the same token.
type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

// XOAUTH2Auth returns a SASLMechanism implementing XOAUTH2. token is used
// as a fixed bearer token; callers whose tokens expire and must be
// refreshed per attempt should use XOAUTH2AuthSource instead.
func XOAUTH2Auth(username, token string) SASLMechanism {
	return XOAUTH2AuthSource(username, staticToken(token))
}

// XOAUTH2AuthSource returns a SASLMechanism implementing XOAUTH2 whose
// bearer token is obtained from src at Start time, so a refreshing
// TokenSource can hand back a fresh token on each authentication attempt
// (spec §9(c): a retried login must not reuse an expired token).
func XOAUTH2AuthSource(username string, src TokenSource) SASLMechanism {
	return &xoauth2Auth{username: username, src: src}
}

type xoauth2Auth struct {
	username string
	src      TokenSource
	failed   bool
}

func (a *xoauth2Auth) Name() string { return "XOAUTH2" }

func (a *xoauth2Auth) Start() ([]byte, error) {
	token, err := a.src.Token()
	if err != nil {
		return nil, fmt.Errorf("smtpconn: xoauth2 token: %w", err)
	}
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.username, token)
	return []byte(resp), nil
}

// Next handles the single optional continuation XOAUTH2 uses to deliver a
// JSON error payload on failure (RFC draft, §3). The client must respond
// with an empty message to complete the exchange; the server then returns
// the real failure reply.
func (a *xoauth2Auth) Next(challenge []byte) ([]byte, error) {
	if a.failed {
		return nil, fmt.Errorf("smtpconn: unexpected second XOAUTH2 challenge")
	}
	a.failed = true
	return []byte{}, nil
}

// NTLMAuth returns a SASLMechanism implementing NTLM authentication over
// SMTP AUTH. Servers never advertise NTLM in the EHLO AUTH list; it is only
// selected when the caller explicitly configures it, typically against
// Exchange servers that support it unadvertised.
func NTLMAuth(domain, workstation, username, password string) SASLMechanism {
	return &ntlmAuth{domain: domain, workstation: workstation, username: username, password: password}
}

type ntlmAuth struct {
	domain      string
	workstation string
	username    string
	password    string
}

func (a *ntlmAuth) Name() string { return "NTLM" }

func (a *ntlmAuth) Start() ([]byte, error) {
	return ntlmssp.NewNegotiateMessage(a.domain, a.workstation)
}

func (a *ntlmAuth) Next(challenge []byte) ([]byte, error) {
	return ntlmssp.ProcessChallenge(challenge, a.username, a.password)
}
