package main

import (
	"bytes"

	"github.com/jangala-dev/tinygo-hwsync/uartx"
)

// newModem returns a simulated loopback that also answers AT commands the
// way a modem with echo enabled does: the command comes back, then OK, or
// ERROR for AT+FAIL.
func newModem() *uartx.SimPort {
	p := uartx.NewSimPort()
	p.SetResponder(func(b []byte) []byte {
		if !bytes.HasPrefix(b, []byte("AT")) || !bytes.HasSuffix(b, []byte("\r\n")) {
			return b
		}
		reply := append([]byte(nil), b...)
		if bytes.Equal(b, []byte("AT+FAIL\r\n")) {
			return append(reply, "ERROR\r\n"...)
		}
		return append(reply, "OK\r\n"...)
	})
	return p
}
