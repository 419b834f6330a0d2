package wire

import "io"

// Encoder streams a message body to w, normalizing line endings to CRLF
// and dot-stuffing any line that begins with '.' (RFC 5321 §4.5.2). Close
// writes the termination sequence "\r\n.\r\n". It is grounded on the
// teacher's dotWriter but additionally normalizes bare LF to CRLF and
// tracks byte counts, matching the encoder contract of spec §6.
type Encoder struct {
	w         io.Writer
	beginLine bool
	closed    bool
	afterCR   bool  // The previous Write ended with a CR (already emitted as CRLF).
	inCount   int64 // Bytes accepted via Write, before transformation.
	outCount  int64 // Bytes actually written to w.
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, beginLine: true}
}

// Write accepts arbitrary message bytes and streams their CRLF-normalized,
// dot-stuffed form to the underlying writer.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.closed {
		return 0, io.ErrClosedPipe
	}
	e.inCount += int64(len(p))

	var out []byte
	i := 0
	for i < len(p) {
		b := p[i]
		afterCR := e.afterCR
		e.afterCR = false

		if b == '\n' {
			// Bare LF: normalize to CRLF unless already preceded by CR
			// (the CR was already emitted as CRLF when we saw it below).
			if !afterCR {
				out = append(out, '\r', '\n')
			}
			e.beginLine = true
			i++
			continue
		}

		if b == '\r' {
			out = append(out, '\r', '\n')
			e.beginLine = true
			// Skip a following LF so CRLF pairs aren't doubled; when the CR
			// ends this Write, the next Write skips a leading LF instead.
			if i+1 < len(p) && p[i+1] == '\n' {
				i += 2
			} else {
				e.afterCR = true
				i++
			}
			continue
		}

		if e.beginLine && b == '.' {
			out = append(out, '.')
		}
		out = append(out, b)
		e.beginLine = false
		i++
	}

	n, err := e.w.Write(out)
	e.outCount += int64(n)
	if err != nil {
		return len(p), err
	}
	return len(p), nil
}

// Close writes the DATA termination sequence and reports the transfer as
// finished. It is safe to call exactly once; subsequent calls are no-ops.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var tail []byte
	if !e.beginLine {
		tail = append(tail, '\r', '\n')
	}
	tail = append(tail, '.', '\r', '\n')

	n, err := e.w.Write(tail)
	e.outCount += int64(n)
	return err
}

// InByteCount returns the number of bytes accepted via Write, prior to
// CRLF normalization and dot-stuffing.
func (e *Encoder) InByteCount() int64 { return e.inCount }

// OutByteCount returns the number of bytes actually written to the
// underlying writer, including the termination sequence once Close has
// run.
func (e *Encoder) OutByteCount() int64 { return e.outCount }
