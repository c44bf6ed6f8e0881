// radio/hal.go

// Package radio is the hardware abstraction layer a LoRa MAC stack runs on:
// pin and SPI control of the transceiver, an OS tick clock, a nested
// critical section over the interrupt controller, and the sleep/resume
// handshake that parks the MAC's cooperative run loop when it has no work.
//
// The handshake uses two latches guarded by the HAL lock. Resume posts at
// most one wake until the loop sleeps again; Sleep parks at most once until
// resumed. A Resume that lands between the loop deciding to sleep and
// actually blocking is kept in the wake channel, so Sleep returns at once.
package radio

import (
	"context"
	"fmt"
	"sync"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/joeycumines/logiface"
)

// DefaultLine is the GPIO interrupt line shared by the DIO pins.
const DefaultLine irq.Line = 4

// Config places the transceiver. DIO entries of 0 are not connected.
type Config struct {
	Unit    int
	SPIUnit int
	NSS     claim.Pin
	RST     claim.Pin
	DIO     [3]claim.Pin
	Line    irq.Line
}

// HAL drives one transceiver.
type HAL struct {
	cfg     Config
	claimer claim.Claimer
	ctrl    *irq.Controller
	clock   Clock
	log     *logiface.Logger[logiface.Event]
	pins    PinDriver
	spi     SPI
	onIRQ   func(irq.Interrupt)

	mu      sync.Mutex
	asleep  bool
	resumed bool
	wake    chan struct{}
}

// Option configures a HAL.
type Option func(*HAL)

func WithClaimer(c claim.Claimer) Option { return func(h *HAL) { h.claimer = c } }

func WithController(c *irq.Controller) Option { return func(h *HAL) { h.ctrl = c } }

func WithClock(c Clock) Option { return func(h *HAL) { h.clock = c } }

func WithLogger(l *logiface.Logger[logiface.Event]) Option { return func(h *HAL) { h.log = l } }

func WithPins(p PinDriver) Option { return func(h *HAL) { h.pins = p } }

func WithSPI(s SPI) Option { return func(h *HAL) { h.spi = s } }

// WithRadioIRQ sets the transceiver interrupt handler, run on every DIO edge
// before the run loop is resumed.
func WithRadioIRQ(f func(irq.Interrupt)) Option { return func(h *HAL) { h.onIRQ = f } }

// New returns an uninitialized HAL. Pins and SPI default to the in-memory
// simulations.
func New(cfg Config, opts ...Option) *HAL {
	if cfg.Line == 0 {
		cfg.Line = DefaultLine
	}
	h := &HAL{
		cfg:  cfg,
		ctrl: irq.Default,
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	if h.claimer == nil {
		h.claimer = claim.NewLedger()
	}
	if h.clock == nil {
		h.clock = defaultClock()
	}
	if h.pins == nil {
		h.pins = NewSimPins()
	}
	if h.spi == nil {
		h.spi = NewSimSPI()
	}
	return h
}

// Owner is the claim identity of the HAL, e.g. lora0.
func (h *HAL) Owner() claim.Owner { return claim.Owner{Driver: claim.Lora, Unit: h.cfg.Unit} }

// Init claims RST and the connected DIO pins, then configures them and hooks
// the DIO interrupt. A claim conflict is returned before any pin is touched.
func (h *HAL) Init() error {
	owner := h.Owner()
	pins := []claim.Pin{h.cfg.RST}
	for _, dio := range h.cfg.DIO {
		if dio != 0 {
			pins = append(pins, dio)
		}
	}
	if err := h.claimer.Claim(owner, pins...); err != nil {
		return err
	}

	h.log.Info().
		Str("radio", owner.String()).
		Str("spi", fmt.Sprintf("spi%d", h.cfg.SPIUnit)).
		Stringer("cs", h.cfg.NSS).
		Log("radio attached")

	h.pins.Output(h.cfg.RST)
	h.ctrl.Register(h.cfg.Line, h.handleDIO)
	for _, dio := range h.cfg.DIO {
		if dio == 0 {
			continue
		}
		h.pins.Input(dio)
		h.pins.EnableRisingEdge(dio, h.ctrl, h.cfg.Line)
	}
	return nil
}

func (h *HAL) handleDIO(intr irq.Interrupt) {
	if h.onIRQ != nil {
		h.onIRQ(intr)
	}
	h.ResumeFromISR(intr)
}

// ---------- Pin control ----------

// PinNSS drives chip select: 0 selects the radio, anything else deselects.
func (h *HAL) PinNSS(val uint8) {
	if val == 0 {
		h.spi.Select()
	} else {
		h.spi.Deselect()
	}
}

// PinRxTx would drive an antenna switch (0 rx, 1 tx); boards here have none.
func (h *HAL) PinRxTx(uint8) {}

// PinRST drives reset: 0 low, 1 high, anything else floats the pin.
func (h *HAL) PinRST(val uint8) {
	switch val {
	case 0:
		h.pins.Output(h.cfg.RST)
		h.pins.Set(h.cfg.RST, false)
	case 1:
		h.pins.Output(h.cfg.RST)
		h.pins.Set(h.cfg.RST, true)
	default:
		h.pins.Input(h.cfg.RST)
	}
}

// SPI clocks out one byte and returns the byte clocked in.
func (h *HAL) SPI(out byte) byte { return h.spi.Transfer(out) }

// Failed reports a failed assertion in the radio stack and halts the caller.
func (h *HAL) Failed(file string, line int) {
	h.log.Crit().
		Int64("ticks", h.Ticks()).
		Str("file", file).
		Int("line", line).
		Log("assert failed")
	panic(fmt.Sprintf("radio: assert at %s, line %d", file, line))
}

// ---------- Critical section ----------

// DisableIRQs enters the critical section. The nesting count lives on the
// interrupt controller, so sections taken by every driver sharing it nest
// together and only the outermost call masks delivery.
func (h *HAL) DisableIRQs() { h.ctrl.Disable() }

// EnableIRQs leaves the critical section, unmasking the controller when the
// shared nesting count returns to zero.
func (h *HAL) EnableIRQs() { h.ctrl.Enable() }

// Nesting reports the controller's critical section depth.
func (h *HAL) Nesting() int { return h.ctrl.Nesting() }

// ---------- Sleep / resume ----------

// Resume wakes the run loop. Calls after the first are no-ops until the loop
// sleeps again. Task context.
func (h *HAL) Resume() { h.resume() }

// ResumeFromISR is Resume for interrupt handlers.
func (h *HAL) ResumeFromISR(irq.Interrupt) { h.resume() }

func (h *HAL) resume() {
	h.mu.Lock()
	post := !h.resumed
	if post {
		h.asleep = false
		h.resumed = true
	}
	h.mu.Unlock()

	if post {
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

// Rearm clears the resumed latch so that the next Resume posts a wake. The
// run loop calls it before looking for work.
func (h *HAL) Rearm() {
	h.mu.Lock()
	h.resumed = false
	h.mu.Unlock()
}

// Sleep parks the run loop until resumed. It returns at once if a wake is
// already pending, and is a no-op while the loop is already parked. Only the
// run loop may call it.
func (h *HAL) Sleep() { _ = h.SleepContext(context.Background()) }

// SleepContext is Sleep that also returns when ctx is done.
func (h *HAL) SleepContext(ctx context.Context) error {
	h.mu.Lock()
	if h.asleep {
		h.mu.Unlock()
		return nil
	}
	h.asleep = true
	h.resumed = false
	h.mu.Unlock()

	var err error
	select {
	case <-h.wake:
	case <-ctx.Done():
		err = ctx.Err()
	}
	// a wake posted before Rearm leaves asleep set; the loop is running now
	h.mu.Lock()
	h.asleep = false
	h.mu.Unlock()
	return err
}

// Asleep reports whether the run loop is parked.
func (h *HAL) Asleep() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.asleep
}

// Resumed reports whether a wake has been posted since the last Sleep.
func (h *HAL) Resumed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resumed
}
