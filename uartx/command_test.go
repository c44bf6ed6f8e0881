package uartx

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replyTimeout = 50 * time.Millisecond

func TestWaitResponse_FirstMatchingLineWins(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("AT+X\r\n+X: 1\r\nOK\r\n")
	line, ok := u.WaitResponse(Response{
		Command:    "AT+X",
		Echo:       true,
		Substring:  true,
		Timeout:    replyTimeout,
		Candidates: []string{"OK", "+X:"},
	})
	require.True(t, ok)
	assert.Equal(t, "+X: 1", line)

	rest, ok := u.ReadLine(false, replyTimeout)
	require.True(t, ok)
	assert.Equal(t, "OK", rest, "lines after the match stay queued")
}

func TestWaitResponse_ExactMatchSkipsOtherLines(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("+X: 1\r\nNOT OK\r\nOK\r\n")
	line, ok := u.WaitResponse(Response{Timeout: replyTimeout, Candidates: []string{"OK"}})
	require.True(t, ok)
	assert.Equal(t, "OK", line)
	assert.Zero(t, u.Buffered())
}

func TestWaitResponse_EchoMismatchFails(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("AT+Y\r\nOK\r\n")
	_, ok := u.WaitResponse(Response{
		Command:    "AT+X",
		Echo:       true,
		Timeout:    replyTimeout,
		Candidates: []string{"OK"},
	})
	assert.False(t, ok)
}

func TestWaitResponse_ErrorFailsEvenAsCandidate(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("ERROR\r\n")
	_, ok := u.WaitResponse(Response{Timeout: replyTimeout, Candidates: []string{"ERROR", "OK"}})
	assert.False(t, ok)

	port.InjectString("+CME ERROR: 10\r\n")
	line, ok := u.WaitResponse(Response{Substring: true, Timeout: replyTimeout, Candidates: []string{"ERROR"}})
	require.True(t, ok, "only a bare ERROR line fails the wait")
	assert.Equal(t, "+CME ERROR: 10", line)
}

func TestWaitResponse_TimeoutMidResponse(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("AT+X\r\n+X: 1")
	start := time.Now()
	_, ok := u.WaitResponse(Response{
		Command:    "AT+X",
		Echo:       true,
		Timeout:    replyTimeout,
		Candidates: []string{"OK"},
	})
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), replyTimeout)
}

func TestWaitResponse_NoCandidates(t *testing.T) {
	u, port, _ := newTestUART(t, 64)

	port.InjectString("AT\r\n")
	line, ok := u.WaitResponse(Response{Command: "AT", Echo: true, Timeout: replyTimeout})
	require.True(t, ok)
	assert.Empty(t, line)

	port.InjectString("OK\r\n")
	line, ok = u.WaitResponse(Response{Timeout: replyTimeout})
	require.True(t, ok)
	assert.Empty(t, line)
	assert.Equal(t, 4, u.Buffered(), "nothing is read without echo or candidates")
}

func TestSendCommand_CRLFOnLoopback(t *testing.T) {
	u, port, _ := newTestUART(t, 64)
	port.SetResponder(func(b []byte) []byte {
		if !bytes.HasSuffix(b, []byte("\r\n")) {
			return b
		}
		return append(b, "OK\r\n"...)
	})

	line, ok := u.SendCommand(Command{
		Response: Response{
			Command:    "AT+PING",
			Echo:       true,
			Timeout:    time.Second,
			Candidates: []string{"OK"},
		},
		CRLF: true,
	})
	require.True(t, ok)
	assert.Equal(t, "OK", line)
	assert.Equal(t, "AT+PING\r\n", string(port.Transmitted()))
}

func TestSendCommand_WriteFailureSkipsWait(t *testing.T) {
	u, port, _ := newTestUART(t, 64)
	port.SetFault(ErrSimFault)

	start := time.Now()
	_, ok := u.SendCommand(Command{Response: Response{Command: "AT", Timeout: time.Second, Candidates: []string{"OK"}}})
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}
