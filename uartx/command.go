// uartx/command.go

package uartx

import (
	"strings"
	"time"
)

// errorLine is the reply that fails any response wait.
const errorLine = "ERROR"

// Response describes the reply expected from a line-oriented device.
type Response struct {
	// Command is the expected echo when Echo is set.
	Command string
	Echo    bool
	// Substring matches candidates anywhere in a line instead of exactly.
	Substring bool
	// Timeout bounds each byte read; Forever waits indefinitely.
	Timeout time.Duration
	// Candidates are tried in order against each line; the first match wins.
	Candidates []string
}

// Command is a Response preceded by writing Response.Command.
type Command struct {
	Response
	// CRLF appends "\r\n" to the command.
	CRLF bool
}

// WaitResponse reads lines until one matches a candidate and returns that
// line. A line equal to "ERROR", a read timeout, or a mismatched echo fails
// the wait. With no candidates it succeeds once the echo (if any) is seen.
// Carriage returns are stripped before comparing.
func (u *UART) WaitResponse(r Response) (string, bool) {
	if r.Echo {
		line, ok := u.responseLine(r.Timeout)
		if !ok || line != r.Command {
			return "", false
		}
	}
	if len(r.Candidates) == 0 {
		return "", true
	}
	for {
		line, ok := u.responseLine(r.Timeout)
		if !ok || line == errorLine {
			return "", false
		}
		for _, c := range r.Candidates {
			if line == c || (r.Substring && strings.Contains(line, c)) {
				return line, true
			}
		}
	}
}

func (u *UART) responseLine(timeout time.Duration) (string, bool) {
	line, ok := u.ReadLine(true, timeout)
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(line, "\r", ""), true
}

// SendCommand writes c.Command, plus "\r\n" if c.CRLF, then waits for the
// response. It fails without reading if the write fails.
func (u *UART) SendCommand(c Command) (string, bool) {
	cmd := c.Command
	if c.CRLF {
		cmd += "\r\n"
	}
	if _, err := u.WriteString(cmd); err != nil {
		return "", false
	}
	return u.WaitResponse(c.Response)
}
