// uartx/uartx_blocking.go

package uartx

import (
	"context"
	"strings"
	"time"
)

// Readable exposes a coalesced readiness signal suitable for select.
func (u *UART) Readable() <-chan struct{} { return u.notify }

// Buffered returns the number of queued bytes.
func (u *UART) Buffered() int {
	if rb := u.rx.Load(); rb != nil {
		return rb.Used()
	}
	return 0
}

// WaitReadableContext blocks until data is available or ctx is done. It
// returns ErrNotSetup if the unit has never been configured.
func (u *UART) WaitReadableContext(ctx context.Context) error {
	for {
		rb := u.rx.Load()
		if rb == nil {
			return ErrNotSetup
		}
		if rb.Used() > 0 {
			return nil
		}
		u.stats.readWaits.Add(1)
		select {
		case <-u.notify:
			// re-check; if empty, it was a spurious wake (coalesced notify)
			if u.Buffered() == 0 {
				u.stats.spuriousWakes.Add(1)
			}
		case <-rb.retired:
			// queue replaced by Configure; wait on the new one
		case <-ctx.Done():
			u.stats.timeouts.Add(1)
			return ctx.Err()
		}
	}
}

// get pops one byte. After a wait, a reader that leaves bytes behind passes
// the readiness token on so other blocked readers are not stranded.
func (u *UART) get(passOn bool) (byte, bool) {
	u.rxMu.Lock()
	defer u.rxMu.Unlock()
	rb := u.rx.Load()
	if rb == nil {
		return 0, false
	}
	b, ok := rb.Get()
	if ok && passOn && rb.Used() > 0 {
		u.wake()
	}
	return b, ok
}

// RecvByteContext blocks for a single byte or until ctx is done.
func (u *UART) RecvByteContext(ctx context.Context) (byte, error) {
	if b, ok := u.get(false); ok {
		return b, nil
	}
	for {
		if err := u.WaitReadableContext(ctx); err != nil {
			return 0, err
		}
		if b, ok := u.get(true); ok {
			return b, nil
		}
	}
}

// RecvByte waits up to timeout for a byte. A zero timeout polls; Forever
// blocks until a byte arrives. It reports false on timeout and, immediately,
// on an unconfigured unit.
func (u *UART) RecvByte(timeout time.Duration) (byte, bool) {
	if u.rx.Load() == nil {
		return 0, false
	}
	if b, ok := u.get(false); ok {
		return b, true
	}
	if timeout == 0 {
		return 0, false
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	b, err := u.RecvByteContext(ctx)
	return b, err == nil
}

// ReadLine reads bytes until NUL or '\n', neither of which is stored. A '\r'
// also ends the line unless keepCRLF is set, in which case it is kept. Each
// byte gets its own timeout; if any read times out the partial line is
// discarded and ReadLine reports false.
func (u *UART) ReadLine(keepCRLF bool, timeout time.Duration) (string, bool) {
	var sb strings.Builder
	for {
		c, ok := u.RecvByte(timeout)
		if !ok {
			return "", false
		}
		switch {
		case c == 0, c == '\n':
			return sb.String(), true
		case c == '\r' && !keepCRLF:
			return sb.String(), true
		}
		sb.WriteByte(c)
	}
}

// ReadLineContext is ReadLine bounded by ctx rather than a per-byte timeout.
func (u *UART) ReadLineContext(ctx context.Context, keepCRLF bool) (string, error) {
	var sb strings.Builder
	for {
		c, err := u.RecvByteContext(ctx)
		if err != nil {
			return "", err
		}
		switch {
		case c == 0, c == '\n':
			return sb.String(), nil
		case c == '\r' && !keepCRLF:
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}

// Consume discards every queued byte.
func (u *UART) Consume() {
	u.rxMu.Lock()
	defer u.rxMu.Unlock()
	if rb := u.rx.Load(); rb != nil {
		rb.Clear()
	}
}
