package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jangala-dev/tinygo-hwsync/internal/config"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	sh, closePorts, err := build(&config.Config{
		Units: []config.Unit{{Unit: 1, Queue: 64}},
		Radio: &config.Radio{NSS: 18, RST: 14, DIO: []uint8{26}},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(closePorts)
	var out bytes.Buffer
	sh.out = &out
	return sh, &out
}

func mustExec(t *testing.T, sh *shell, line string) {
	t.Helper()
	quit, err := sh.exec(line)
	require.NoError(t, err, line)
	require.False(t, quit)
}

func TestShell_UnitsAndPins(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, "units")
	assert.Contains(t, out.String(), "uart1")
	assert.Contains(t, out.String(), "rx=GPIO9 tx=GPIO10")
	assert.Contains(t, out.String(), "queue=64")

	out.Reset()
	mustExec(t, sh, "pins")
	assert.Contains(t, out.String(), "GPIO9  uart1")
	assert.Contains(t, out.String(), "GPIO14 lora0")
	assert.Contains(t, out.String(), "GPIO26 lora0")
}

func TestShell_SendAndRead(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, "send uart1 hello world")
	mustExec(t, sh, "read 1")
	assert.Contains(t, out.String(), `"hello world"`)

	mustExec(t, sh, "consume 1")
	_, err := sh.exec("read 1 10ms")
	assert.EqualError(t, err, "timeout")
}

func TestShell_WriteArgs(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, `write 1 0x41 66 "C D"`)
	for _, want := range []string{"0x41", "0x42", "0x43", "0x20", "0x44"} {
		mustExec(t, sh, "byte 1")
		assert.Contains(t, out.String(), want)
	}

	_, err := sh.exec("write 1 300")
	assert.ErrorIs(t, err, uartx.ErrInvalidArgument)
}

func TestShell_InjectAndCommand(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, `inject 1 'OK\r\n'`)
	mustExec(t, sh, "read 1")
	assert.Contains(t, out.String(), `"OK"`)
	mustExec(t, sh, "consume 1")

	// a plain loopback only echoes, which satisfies a wait with no candidates
	mustExec(t, sh, "at 1 AT")

	_, err := sh.exec("inject 0 x")
	assert.Error(t, err)
}

func TestShell_StatsAndSetup(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, `inject 1 '\x03'`)
	mustExec(t, sh, "stats 1")
	assert.Regexp(t, `ctl.interrupt\s+1`, out.String())

	out.Reset()
	mustExec(t, sh, "setup 1 9600 7 even 2 128")
	assert.Contains(t, out.String(), "uart1 at 9600 baud")

	_, err := sh.exec("setup 1 9600 9")
	assert.ErrorIs(t, err, uartx.ErrInvalidArgument)
}

func TestShell_Radio(t *testing.T) {
	sh, out := newTestShell(t)

	mustExec(t, sh, "pulse 26")
	mustExec(t, sh, "radio")
	assert.Contains(t, out.String(), "owner=lora0")
	assert.Contains(t, out.String(), "pending=1")

	_, err := sh.exec("pulse 27")
	assert.Error(t, err)

	mustExec(t, sh, "post 50")
	assert.Contains(t, out.String(), "due at tick")
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newTestShell(t)

	_, err := sh.exec("bogus")
	assert.Error(t, err)

	_, err = sh.exec("stats")
	assert.ErrorIs(t, err, errUsage)

	_, err = sh.exec("read 7")
	assert.ErrorIs(t, err, uartx.ErrInvalidArgument)

	_, err = sh.exec(`send 1 "unterminated`)
	assert.Error(t, err)

	quit, err := sh.exec("quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestRepl_RunsUntilQuit(t *testing.T) {
	sh, out := newTestShell(t)

	in := strings.NewReader("help\nunits\nbogus\nquit\nunits\n")
	require.NoError(t, repl(context.Background(), sh, in))

	s := out.String()
	assert.Contains(t, s, "uart_diag ready")
	assert.Contains(t, s, "monitor")
	assert.Contains(t, s, `unknown command "bogus"`)
	assert.Equal(t, 1, strings.Count(s, "queue=64"), "commands after quit must not run")
}
