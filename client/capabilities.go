package client

import "github.com/mailkit-go/smtpconn"

// capabilities is the EHLO/LHLO-derived capability registry (spec §3, §4.4).
// It is rebuilt on every successful EHLO/LHLO and cleared when a new one is
// about to be issued after a STARTTLS upgrade, so a caller can never act on
// stale pre-TLS capabilities.
type capabilities struct {
	exts     smtpconn.Extensions
	startTLS bool
	hadEHLO  bool
}

func (c *capabilities) reset() {
	c.exts = nil
	c.startTLS = false
	c.hadEHLO = false
}

// load parses an EHLO/LHLO reply's lines into the registry.
func (c *capabilities) load(lines []string) {
	c.exts = smtpconn.ParseEHLOResponse(lines)
	c.startTLS = c.exts.Has(smtpconn.ExtSTARTTLS)
	c.hadEHLO = true
}

func (c *capabilities) supports(ext smtpconn.Extension) bool {
	return c.exts.Has(ext)
}

func (c *capabilities) maxSize() int64 {
	return c.exts.MaxSize()
}

func (c *capabilities) authMechanisms() []string {
	return c.exts.AuthMechanisms()
}
