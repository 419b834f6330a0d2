package client

import (
	"crypto/tls"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailkit-go/smtpconn"
	"github.com/mailkit-go/smtpconn/internal/metrics"
)

// Config holds a Connection's immutable configuration (spec §3).
type Config struct {
	Host string
	Port int // Defaults to 465 if Secure, else 25.

	Secure           bool // Implicit TLS from the first byte.
	IgnoreTLS        bool // Never attempt STARTTLS even if advertised.
	RequireTLS       bool // STARTTLS is mandatory; EHLO failure is fatal, no HELO fallback.
	OpportunisticTLS bool // Continue in plaintext if STARTTLS is refused.
	LMTP             bool // Speak LHLO and expect per-recipient DATA responses.

	LocalAddr string
	TLSConfig *tls.Config

	// Name is the EHLO/LHLO identity. Defaults to the machine's FQDN
	// hostname, or "[127.0.0.1]" / "[<ip>]" if none can be determined.
	Name string

	ConnectionTimeout time.Duration // Default 120s.
	GreetingTimeout   time.Duration // Default 30s.
	IdleTimeout       time.Duration // Default 600s.

	EnvelopeOnly bool // Stop after RCPT TO; never send DATA.
	Debug        bool // Stored only; no code path in this package reads it.

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Option configures a Config via a functional option (the same pattern the
// client package's predecessor used for its Dial options).
type Option func(*Config)

// WithPort overrides the default port.
func WithPort(port int) Option { return func(c *Config) { c.Port = port } }

// WithSecure enables implicit TLS from connection start.
func WithSecure(secure bool) Option { return func(c *Config) { c.Secure = secure } }

// WithIgnoreTLS disables STARTTLS even when advertised.
func WithIgnoreTLS(ignore bool) Option { return func(c *Config) { c.IgnoreTLS = ignore } }

// WithRequireTLS makes STARTTLS mandatory and disables HELO fallback.
func WithRequireTLS(require bool) Option { return func(c *Config) { c.RequireTLS = require } }

// WithOpportunisticTLS continues in plaintext if STARTTLS is refused,
// instead of failing the connection with ETLS.
func WithOpportunisticTLS(opportunistic bool) Option {
	return func(c *Config) { c.OpportunisticTLS = opportunistic }
}

// WithLMTP speaks LHLO and expects one DATA response per recipient.
func WithLMTP(lmtp bool) Option { return func(c *Config) { c.LMTP = lmtp } }

// WithLocalAddr binds the outbound connection to a specific local address.
func WithLocalAddr(addr string) Option { return func(c *Config) { c.LocalAddr = addr } }

// WithTLSConfig sets the TLS configuration used for implicit TLS and STARTTLS.
func WithTLSConfig(cfg *tls.Config) Option { return func(c *Config) { c.TLSConfig = cfg } }

// WithName sets the EHLO/LHLO identity, overriding hostname detection.
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithConnectionTimeout overrides the dial timeout.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectionTimeout = d }
}

// WithGreetingTimeout overrides how long the client waits for the 220 greeting.
func WithGreetingTimeout(d time.Duration) Option {
	return func(c *Config) { c.GreetingTimeout = d }
}

// WithIdleTimeout overrides the socket idle timeout.
func WithIdleTimeout(d time.Duration) Option { return func(c *Config) { c.IdleTimeout = d } }

// WithEnvelopeOnly stops the send pipeline after RCPT TO, never issuing DATA.
func WithEnvelopeOnly(envelopeOnly bool) Option {
	return func(c *Config) { c.EnvelopeOnly = envelopeOnly }
}

// WithDebug sets Config.Debug. The connection does not read the flag, so
// it does not change what is logged.
func WithDebug(debug bool) Option { return func(c *Config) { c.Debug = debug } }

// WithLogger sets the structured logger used for connection diagnostics.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics registers Prometheus collectors on reg and reports
// connection/auth/send activity against them.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Config) { c.Metrics = metrics.New(reg) }
}

// NewConfig builds a Config for host, applying defaults and then opts in
// order.
func NewConfig(host string, opts ...Option) Config {
	c := Config{
		Host:              host,
		Port:              25,
		ConnectionTimeout: 120 * time.Second,
		GreetingTimeout:   30 * time.Second,
		IdleTimeout:       600 * time.Second,
		Logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Port == 25 && c.Secure {
		c.Port = 465
	}
	if c.Name == "" {
		c.Name = defaultEHLOName()
	}
	return c
}

// defaultEHLOName picks the EHLO/LHLO identity per spec §3: the machine's
// FQDN hostname if one is resolvable, else the address literal
// "[127.0.0.1]"; an IPv4 address in place of a hostname is wrapped in
// brackets as an address literal. The identity is always ASCII-compatible-encoded (RFC
// 5321's EHLO argument is a Domain or address-literal, never a raw
// internationalized label, regardless of whether the peer advertises
// SMTPUTF8).
func defaultEHLOName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "[127.0.0.1]"
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "[127.0.0.1]"
	}
	name := hostname
	if names, err := net.LookupAddr(addrs[0]); err == nil && len(names) > 0 {
		name = strings.TrimSuffix(names[0], ".")
	}
	if ip := net.ParseIP(name); ip != nil && ip.To4() != nil {
		return "[" + name + "]"
	}
	if ascii, err := smtpconn.ASCIIDomain(name); err == nil {
		return ascii
	}
	return name
}
