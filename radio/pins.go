// radio/pins.go

package radio

import (
	"sync"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/irq"
)

// PinMode is the direction a GPIO is configured for.
type PinMode uint8

const (
	PinFloat PinMode = iota // input, undriven
	PinOutput
	PinInput
)

// PinDriver is the GPIO block the HAL drives.
type PinDriver interface {
	Output(pin claim.Pin)
	Input(pin claim.Pin)
	Set(pin claim.Pin, high bool)
	// EnableRisingEdge routes rising edges on pin to line of c.
	EnableRisingEdge(pin claim.Pin, c *irq.Controller, line irq.Line)
}

// SPI is the radio's bus: chip select and full-duplex byte transfer.
type SPI interface {
	Select()
	Deselect()
	Transfer(out byte) byte
}

// SimPins is an in-memory PinDriver.
type SimPins struct {
	mu    sync.Mutex
	mode  map[claim.Pin]PinMode
	level map[claim.Pin]bool
	edges map[claim.Pin]simEdge
}

type simEdge struct {
	c    *irq.Controller
	line irq.Line
}

func NewSimPins() *SimPins {
	return &SimPins{
		mode:  make(map[claim.Pin]PinMode),
		level: make(map[claim.Pin]bool),
		edges: make(map[claim.Pin]simEdge),
	}
}

func (p *SimPins) Output(pin claim.Pin) {
	p.mu.Lock()
	p.mode[pin] = PinOutput
	p.mu.Unlock()
}

func (p *SimPins) Input(pin claim.Pin) {
	p.mu.Lock()
	p.mode[pin] = PinInput
	p.mu.Unlock()
}

func (p *SimPins) Set(pin claim.Pin, high bool) {
	p.mu.Lock()
	p.level[pin] = high
	p.mu.Unlock()
}

func (p *SimPins) EnableRisingEdge(pin claim.Pin, c *irq.Controller, line irq.Line) {
	p.mu.Lock()
	p.edges[pin] = simEdge{c: c, line: line}
	p.mu.Unlock()
}

// Mode reports how pin is configured; unconfigured pins float.
func (p *SimPins) Mode(pin claim.Pin) PinMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode[pin]
}

// Level reports the last level driven on pin.
func (p *SimPins) Level(pin claim.Pin) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level[pin]
}

// Pulse simulates a rising edge on pin, raising its interrupt line if one is
// routed. It reports whether an interrupt was raised.
func (p *SimPins) Pulse(pin claim.Pin) bool {
	p.mu.Lock()
	e, ok := p.edges[pin]
	ok = ok && p.mode[pin] == PinInput
	p.mu.Unlock()
	if !ok {
		return false
	}
	e.c.Raise(e.line)
	return true
}

// SimSPI is an in-memory SPI bus. Transfers while deselected are ignored and
// read back 0xff.
type SimSPI struct {
	mu       sync.Mutex
	selected bool
	sent     []byte
	replies  []byte
}

func NewSimSPI() *SimSPI { return &SimSPI{} }

func (s *SimSPI) Select() {
	s.mu.Lock()
	s.selected = true
	s.mu.Unlock()
}

func (s *SimSPI) Deselect() {
	s.mu.Lock()
	s.selected = false
	s.mu.Unlock()
}

func (s *SimSPI) Transfer(out byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.selected {
		return 0xff
	}
	s.sent = append(s.sent, out)
	if len(s.replies) == 0 {
		return 0
	}
	in := s.replies[0]
	s.replies = s.replies[1:]
	return in
}

// Reply queues bytes to be clocked back by subsequent transfers.
func (s *SimSPI) Reply(b ...byte) {
	s.mu.Lock()
	s.replies = append(s.replies, b...)
	s.mu.Unlock()
}

// Sent returns and clears the bytes transferred while selected.
func (s *SimSPI) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// Selected reports the chip select state.
func (s *SimSPI) Selected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}
