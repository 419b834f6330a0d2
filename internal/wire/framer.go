// Package wire implements the line-framed SMTP/LMTP response reader, the
// FIFO response dispatcher, and the dot-stuffing DATA encoder that sit
// between a raw byte transport and the connection state machine.
package wire

// Framer accumulates raw bytes from a transport and emits complete,
// multi-line-coalesced SMTP reply strings in arrival order. It has no
// notion of sockets or timers; Feed is a pure function of its residual
// buffer, so feeding a response byte-by-byte or in one chunk produces the
// identical sequence of logical responses.
type Framer struct {
	buf     []byte   // Residual bytes not yet forming a complete line.
	partial []string // Continuation lines accumulated for the reply in progress.
	inReply bool     // True once a "###-" continuation line has been seen.
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends chunk to the residual buffer and returns zero or more
// complete logical responses extracted from it. Lines are split on \r?\n.
// A line whose first three bytes are digits followed by '-' opens or
// continues a multi-line reply; one followed by a space or end-of-line
// closes it. Empty lines between responses are skipped without producing
// output.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var out []string
	for {
		i := indexNewline(f.buf)
		if i < 0 {
			break
		}
		line := string(f.buf[:i])
		rest := f.buf[i+1:]
		// Strip a trailing \r left over from a \r\n pair.
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		f.buf = rest

		if line == "" {
			continue
		}

		if resp, complete := f.accumulate(line); complete {
			out = append(out, resp)
		}
	}
	return out
}

// accumulate folds one physical line into the in-progress logical
// response, returning the completed response and true once a closing line
// is seen.
func (f *Framer) accumulate(line string) (string, bool) {
	continuation := len(line) >= 4 && isDigit(line[0]) && isDigit(line[1]) && isDigit(line[2]) && line[3] == '-'

	f.partial = append(f.partial, line)
	f.inReply = true

	if continuation {
		return "", false
	}

	resp := joinLines(f.partial)
	f.partial = nil
	f.inReply = false
	return resp, true
}

// joinLines joins accumulated reply lines with a literal newline separator
// (spec: continuation lines are appended "with a literal \n separator").
func joinLines(lines []string) string {
	if len(lines) == 1 {
		return lines[0]
	}
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	buf := make([]byte, 0, total-1)
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l...)
	}
	return string(buf)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// indexNewline finds the offset of the first LF in buf, treating a
// preceding CR as part of the same line terminator.
func indexNewline(buf []byte) int {
	for i, b := range buf {
		if b == '\n' {
			return i
		}
	}
	return -1
}

// Pending reports whether a multi-line reply is partially accumulated
// (useful for diagnostics; the connection never needs to act on it since
// Feed only returns completed responses).
func (f *Framer) Pending() bool {
	return f.inReply
}
