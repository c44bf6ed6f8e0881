package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"github.com/mattn/go-tty"
)

// escape leaves the monitor (Ctrl-]).
const escape = 0x1d

// monitor connects the controlling terminal to u until the escape key.
// Keys go out raw, so Ctrl-C reaches the device as an interrupt byte.
func monitor(u *uartx.UART) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()
	restore, err := t.Raw()
	if err != nil {
		return err
	}
	defer restore()

	out := t.Output()
	fmt.Fprintf(out, "Connected to %s. Press Ctrl-] to return.\r\n", u.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		for {
			b, err := u.RecvByteContext(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					err = nil
				}
				done <- err
				return
			}
			if _, err := out.Write([]byte{b}); err != nil {
				done <- err
				return
			}
		}
	}()

	for {
		r, err := t.ReadRune()
		if err != nil {
			cancel()
			return errors.Join(err, <-done)
		}
		if r == escape {
			cancel()
			fmt.Fprint(out, "\r\n")
			return <-done
		}
		if r == 0 {
			continue
		}
		if _, err := u.WriteString(string(r)); err != nil {
			cancel()
			return errors.Join(err, <-done)
		}
	}
}
