package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is a parsed SMTP/LMTP reply: a three-digit code and the text of
// each physical line, with the "NNN-"/"NNN " prefix already stripped.
type Reply struct {
	Code  int
	Lines []string
}

// Text joins Lines with "\n", matching the message format SMTPError uses.
func (r Reply) Text() string {
	return strings.Join(r.Lines, "\n")
}

// ParseReply splits a Framer-coalesced response (physical lines joined by
// "\n") into a Reply. Every physical line must carry the same reply code;
// a mismatch is a protocol error.
func ParseReply(response string) (Reply, error) {
	lines := strings.Split(response, "\n")
	var reply Reply
	for i, line := range lines {
		if len(line) < 3 {
			return Reply{}, fmt.Errorf("wire: reply line too short: %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return Reply{}, fmt.Errorf("wire: invalid reply code %q: %w", line[:3], err)
		}
		if i == 0 {
			reply.Code = code
		} else if code != reply.Code {
			return Reply{}, fmt.Errorf("wire: mismatched reply codes %d and %d", reply.Code, code)
		}

		text := ""
		if len(line) > 3 {
			text = line[4:]
		}
		reply.Lines = append(reply.Lines, text)
	}
	return reply, nil
}
