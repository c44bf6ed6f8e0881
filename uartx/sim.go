// uartx/sim.go

package uartx

import (
	"errors"
	"sync"

	"github.com/jangala-dev/tinygo-hwsync/irq"
)

// Host shim: a Port with no hardware behind it, for tests and the self-test
// tools. Injected bytes land in a hardware FIFO and raise the attached line,
// exactly as a receiving UART would.

// SimClock is the peripheral clock the simulated baud divider runs from.
const SimClock = 80_000_000

var ErrSimFault = errors.New("simulated port fault")

// SimPort is an in-memory Port.
type SimPort struct {
	mu        sync.Mutex
	hw        []Frame
	tx        []byte
	cfg       Config
	programs  int
	fault     error
	responder func(p []byte) []byte
	ctrl      *irq.Controller
	line      irq.Line
	attached  bool
}

// NewSimPort returns an idle simulated port.
func NewSimPort() *SimPort { return &SimPort{} }

// NewLoopback returns a simulated port wired TX to RX.
func NewLoopback() *SimPort {
	p := NewSimPort()
	p.SetResponder(func(b []byte) []byte { return b })
	return p
}

// ---------- Port ----------

// Program records cfg and returns the baud rate the integer clock divider
// actually produces.
func (p *SimPort) Program(cfg Config) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fault != nil {
		return 0, p.fault
	}
	if cfg.BaudRate == 0 || cfg.BaudRate > SimClock/16 {
		return 0, ErrSimFault
	}
	div := SimClock / cfg.BaudRate
	p.cfg = cfg
	p.programs++
	return SimClock / div, nil
}

func (p *SimPort) Transmit(b []byte) (int, error) {
	p.mu.Lock()
	if p.fault != nil {
		err := p.fault
		p.mu.Unlock()
		return 0, err
	}
	p.tx = append(p.tx, b...)
	var reply []byte
	if p.responder != nil {
		reply = p.responder(append([]byte(nil), b...))
	}
	// Replies join the hardware FIFO in transmit order.
	for _, c := range reply {
		p.hw = append(p.hw, Frame{Data: c})
	}
	p.mu.Unlock()

	if len(reply) > 0 {
		// Transmit may run inside the ISR; raise the interrupt from outside
		// rather than re-entering the controller.
		go p.raise()
	}
	return len(b), nil
}

func (p *SimPort) Receive() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.hw) == 0 {
		return Frame{}, false
	}
	f := p.hw[0]
	p.hw = p.hw[1:]
	return f, true
}

func (p *SimPort) Attach(c *irq.Controller, line irq.Line) {
	p.mu.Lock()
	p.ctrl, p.line, p.attached = c, line, true
	pending := len(p.hw) > 0
	p.mu.Unlock()
	if pending {
		c.Raise(line)
	}
}

// ---------- Test helpers ----------

// Inject queues bytes in the hardware FIFO and raises the receive interrupt
// once. Call from task context only.
func (p *SimPort) Inject(data ...byte) {
	p.mu.Lock()
	for _, b := range data {
		p.hw = append(p.hw, Frame{Data: b})
	}
	p.mu.Unlock()
	p.raise()
}

// InjectString is Inject for text.
func (p *SimPort) InjectString(s string) { p.Inject([]byte(s)...) }

// InjectFramingError queues a frame received with a framing error.
func (p *SimPort) InjectFramingError() {
	p.mu.Lock()
	p.hw = append(p.hw, Frame{FramingErr: true})
	p.mu.Unlock()
	p.raise()
}

func (p *SimPort) raise() {
	p.mu.Lock()
	c, line, ok := p.ctrl, p.line, p.attached
	p.mu.Unlock()
	if ok {
		c.Raise(line)
	}
}

// Transmitted returns and clears everything written to the port.
func (p *SimPort) Transmitted() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.tx
	p.tx = nil
	return out
}

// SetResponder installs f to answer each transmitted chunk. A non-empty
// reply is queued behind earlier replies and its interrupt raised
// asynchronously.
func (p *SimPort) SetResponder(f func(p []byte) []byte) {
	p.mu.Lock()
	p.responder = f
	p.mu.Unlock()
}

// SetFault makes Program and Transmit fail with err until cleared with nil.
func (p *SimPort) SetFault(err error) {
	p.mu.Lock()
	p.fault = err
	p.mu.Unlock()
}

// Programmed returns the last applied config and how many times Program
// succeeded.
func (p *SimPort) Programmed() (Config, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, p.programs
}
