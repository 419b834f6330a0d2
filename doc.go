// Package smtpconn provides the shared wire-level types for an SMTP/LMTP
// client engine (RFC 5321, RFC 2033): reply codes, enhanced status codes,
// error taxonomy, email address parsing, extension parsing, envelope and
// DSN types, and SASL authentication mechanisms. The connection engine
// itself lives in the [github.com/mailkit-go/smtpconn/client] subpackage,
// built on top of these types.
//
// # Reply Codes
//
// [ReplyCode] constants cover all standard SMTP reply codes. [SMTPError]
// carries a reply code, optional [EnhancedCode], and human-readable
// message, and formats itself back into wire-protocol reply lines via
// [SMTPError.WireLines]. [Error] is the richer, taxonomy-based type client
// code actually receives: it classifies failures by [Code] (connection,
// timeout, TLS, protocol, auth, envelope, message, stream) and carries
// per-recipient partial-failure accounting for envelopes.
//
// # Address Types
//
// [Mailbox], [ReversePath], and [ForwardPath] represent RFC 5321 email
// addresses with full parsing and validation, including support for
// internationalized domain names (RFC 6531). [ASCIIDomain] converts an
// internationalized domain to its ASCII-compatible-encoding form for
// servers that do not advertise SMTPUTF8.
//
// # Authentication
//
// The [SASLMechanism] interface and its implementations ([PlainAuth],
// [LoginAuth], [CramMD5Auth], [XOAUTH2Auth], [NTLMAuth]) provide
// client-side SASL authentication.
//
// # Extensions
//
// The [Extension] type and [Extensions] map track EHLO-advertised
// capabilities. Use [ParseEHLOResponse] to parse a server's EHLO reply.
//
// # Envelopes
//
// [Envelope] groups a reverse-path, one or more forward-paths, and the
// optional SIZE, 8BITMIME and DSN parameters for a single submission; the
// message body is passed separately to the client's Send. [Result] carries
// the per-recipient accept/reject outcome once sent.
package smtpconn
