package smtpconn

import (
	"errors"
	"fmt"
)

// Code classifies an Error by the stage of the session that produced it,
// independent of the underlying SMTP reply code (spec §4).
type Code string

// Error taxonomy codes.
const (
	ECONNECTION Code = "ECONNECTION" // Transport-level failure: dial, read, write, unexpected close.
	ETIMEDOUT   Code = "ETIMEDOUT"   // A connection, greeting, or idle timer expired.
	ETLS        Code = "ETLS"        // STARTTLS negotiation or handshake failed.
	EPROTOCOL   Code = "EPROTOCOL"   // The peer violated the expected command/reply sequencing.
	EAUTH       Code = "EAUTH"       // The AUTH exchange was rejected or could not proceed.
	EENVELOPE   Code = "EENVELOPE"   // MAIL FROM or every RCPT TO in the envelope was rejected.
	EMESSAGE    Code = "EMESSAGE"    // DATA/BDAT content was rejected after being accepted for submission.
	ESTREAM     Code = "ESTREAM"     // The local message stream errored while being read.
)

// Error is the error type returned to callers of the client package. It
// carries the taxonomy Code above, the raw SMTP reply when one is
// available, and enough context (command, recipient, partial
// accept/reject accounting) to let a caller decide whether to retry.
type Error struct {
	Code    Code
	Message string

	// Response and ResponseCode carry the raw SMTP/LMTP reply text and
	// numeric code when the Error was produced by a rejected command.
	// ResponseCode is 0 when no reply was involved (e.g. ECONNECTION).
	Response     string
	ResponseCode int
	Enhanced     EnhancedCode

	// Command is the verb that was being attempted (e.g. "RCPT", "DATA").
	Command string

	// Recipient is set when the error pertains to a single forward-path,
	// such as one RCPT TO rejection inside a larger envelope.
	Recipient string

	// Rejected and RejectedErrors report partial envelope failure: the
	// recipients that were refused and the per-recipient error for each,
	// in the same order (spec §4.6's accepted/rejected accounting).
	Rejected       []string
	RejectedErrors []*Error

	// Err is the underlying cause, when the Error wraps one (a network
	// error, a context cancellation, or a *SMTPError from the wire).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Response != "":
		if e.Command != "" {
			return fmt.Sprintf("smtpconn: %s: %s: %s (%d)", e.Code, e.Command, e.Message, e.ResponseCode)
		}
		return fmt.Sprintf("smtpconn: %s: %s (%d)", e.Code, e.Message, e.ResponseCode)
	case e.Err != nil:
		return fmt.Sprintf("smtpconn: %s: %s: %v", e.Code, e.Message, e.Err)
	default:
		return fmt.Sprintf("smtpconn: %s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause, if any, so callers can use
// errors.Is/errors.As against transport or context errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, &Error{Code: EAUTH}) without matching on message
// text.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Temporary reports whether the underlying SMTP reply, if any, indicated a
// transient (4xx) failure that may succeed on retry.
func (e *Error) Temporary() bool {
	return e.ResponseCode >= 400 && e.ResponseCode < 500
}

// newError builds an *Error from a wire-level *SMTPError, tagging it with
// the taxonomy Code appropriate to the command that provoked it.
func newError(code Code, command string, cause *SMTPError) *Error {
	return &Error{
		Code:         code,
		Message:      cause.Message,
		Response:     cause.Error(),
		ResponseCode: int(cause.Code),
		Enhanced:     cause.EnhancedCode,
		Command:      command,
		Err:          cause,
	}
}

// wrapError builds an *Error around a non-protocol cause, such as a
// transport read/write failure or a context deadline.
func wrapError(code Code, command, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Command: command,
		Err:     cause,
	}
}
