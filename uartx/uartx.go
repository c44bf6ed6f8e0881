// uartx/uartx.go

// Package uartx provides an interrupt-driven UART line driver. A shared
// receive ISR drains each unit's hardware FIFO into a bounded software queue,
// filtering console control bytes on the way; task-context readers block on
// the queue with a timeout. Request/response helpers (WaitResponse,
// SendCommand) layer command protocols such as AT modems over the byte stream.
//
// Each unit moves through Unconfigured → Configured → InterruptsEnabled.
// Configure claims the unit's pins before touching the port, so a pin conflict
// leaves the unit exactly as it was.
package uartx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// NumUnits is the number of UART units in the unit table.
const NumUnits = 3

const (
	DefaultBaudRate  = 115200
	DefaultQueueSize = 1024

	// DefaultLine is the controller line shared by every unit's RX interrupt.
	DefaultLine irq.Line = 5

	// Forever, passed as a timeout, blocks without a deadline.
	Forever time.Duration = -1
)

// Console control bytes, intercepted by the ISR.
const (
	ctrlInterrupt   = 0x03
	ctrlStatusQuery = 0x04
)

var (
	// ErrInvalidArgument matches every *ConfigError.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotSetup is returned by I/O on a unit whose interrupts are not enabled.
	ErrNotSetup = errors.New("uart is not setup")
)

// ConfigError reports a rejected unit index, line parameter, or state.
type ConfigError struct {
	Unit  int
	Field string
	Value any
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("uart%d: invalid %s (%v)", e.Unit, e.Field, e.Value)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidArgument }

// UARTParity defines the parity setting used for UART communication.
type UARTParity uint8

const (
	// ParityNone disables parity generation and checking (the most common setting).
	ParityNone UARTParity = iota
	// ParityEven sets even parity (total number of 1 bits is even).
	ParityEven
	// ParityOdd sets odd parity (total number of 1 bits is odd).
	ParityOdd
)

func (p UARTParity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return fmt.Sprintf("parity(%d)", uint8(p))
	}
}

// StopBits selects the stop bit length.
type StopBits uint8

const (
	StopHalf StopBits = iota // 1.5 stop bits
	StopOne
	StopTwo
)

func (s StopBits) String() string {
	switch s {
	case StopHalf:
		return "1.5"
	case StopOne:
		return "1"
	case StopTwo:
		return "2"
	default:
		return fmt.Sprintf("stop(%d)", uint8(s))
	}
}

// Config holds line parameters. Zero BaudRate and QueueSize select the defaults.
type Config struct {
	BaudRate  uint32
	DataBits  uint8
	Parity    UARTParity
	StopBits  StopBits
	QueueSize int
}

// State is a unit's configuration state.
type State uint32

const (
	Unconfigured State = iota
	Configured
	InterruptsEnabled
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case InterruptsEnabled:
		return "interrupts-enabled"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// StatusFunc returns the banner written in answer to a status query byte.
// It runs in interrupt context and must not block.
type StatusFunc func() string

// Driver owns the fixed unit table and the shared receive ISR.
type Driver struct {
	units   [NumUnits]*UART
	claimer claim.Claimer
	ctrl    *irq.Controller
	line    irq.Line
	log     *logiface.Logger[logiface.Event]
	status  StatusFunc
	signal  func(unit int)

	bindOnce sync.Once

	reportMu sync.Mutex
	reported [NumUnits]uint64
	limiter  *catrate.Limiter
}

// UART is one serial unit. Methods are safe for concurrent use; configuration
// is serialized against writes by the unit lock, which is never held while
// blocking for input.
type UART struct {
	d      *Driver
	unit   int
	name   string
	port   Port
	rxPin  claim.Pin
	txPin  claim.Pin
	mu     sync.Mutex // serializes Configure/EnableInterrupts/Write
	rxMu   sync.Mutex // consumer side of the RX ring
	state  atomic.Uint32
	rx     atomic.Pointer[RingBuffer]
	baud   uint32
	notify chan struct{} // coalesced RX readiness
	sigs   chan struct{} // pending interrupt-byte signal
	stats  stats
}

// Option configures a Driver.
type Option func(*Driver)

// WithClaimer sets the pin arbiter. The default is a private claim.Ledger.
func WithClaimer(c claim.Claimer) Option { return func(d *Driver) { d.claimer = c } }

// WithController sets the interrupt controller and the shared RX line.
func WithController(c *irq.Controller, line irq.Line) Option {
	return func(d *Driver) {
		d.ctrl = c
		d.line = line
	}
}

// WithLogger sets the logger for configuration and overflow messages.
func WithLogger(l *logiface.Logger[logiface.Event]) Option { return func(d *Driver) { d.log = l } }

// WithStatus sets the status query banner source.
func WithStatus(f StatusFunc) Option { return func(d *Driver) { d.status = f } }

// WithSignal sets a hook called, in interrupt context, when an interrupt byte
// raises a signal that was not already pending.
func WithSignal(f func(unit int)) Option { return func(d *Driver) { d.signal = f } }

// WithPins overrides the RX/TX pins of unit.
func WithPins(unit int, rx, tx claim.Pin) Option {
	return func(d *Driver) {
		if unit >= 0 && unit < NumUnits {
			d.units[unit].rxPin, d.units[unit].txPin = rx, tx
		}
	}
}

// defaultPins mirrors the ESP32 IO_MUX routing of the three UARTs.
var defaultPins = [NumUnits][2]claim.Pin{
	{3, 1},
	{9, 10},
	{16, 17},
}

// New builds the unit table. ports[i] backs unit i; missing or nil entries
// leave that unit unusable.
func New(ports []Port, opts ...Option) (*Driver, error) {
	if len(ports) > NumUnits {
		return nil, fmt.Errorf("uartx: %d ports for %d units", len(ports), NumUnits)
	}
	d := &Driver{
		ctrl:   irq.Default,
		line:   DefaultLine,
		status: func() string { return "hwsync-running" },
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
	}
	for i := range d.units {
		u := &UART{
			d:      d,
			unit:   i,
			name:   fmt.Sprintf("uart%d", i),
			rxPin:  defaultPins[i][0],
			txPin:  defaultPins[i][1],
			baud:   DefaultBaudRate,
			notify: make(chan struct{}, 1),
			sigs:   make(chan struct{}, 1),
		}
		if i < len(ports) {
			u.port = ports[i]
		}
		d.units[i] = u
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	if d.claimer == nil {
		d.claimer = claim.NewLedger()
	}
	return d, nil
}

// Unit returns unit n.
func (d *Driver) Unit(n int) (*UART, error) {
	if n < 0 || n >= NumUnits || d.units[n].port == nil {
		return nil, &ConfigError{Unit: n, Field: "unit", Value: n}
	}
	return d.units[n], nil
}

// Setup configures unit n and enables its interrupts, returning the baud rate
// in effect.
func (d *Driver) Setup(n int, cfg Config) (uint32, error) {
	u, err := d.Unit(n)
	if err != nil {
		return 0, err
	}
	if err := u.Configure(cfg); err != nil {
		return 0, err
	}
	if err := u.EnableInterrupts(); err != nil {
		return 0, err
	}
	return u.Baud(), nil
}

// Configure validates cfg, claims the unit's pins, programs the port, and
// replaces the RX queue if cfg asks for more capacity than it has. Buffered
// bytes are discarded on replacement. On error the unit is unchanged.
func (u *UART) Configure(cfg Config) error {
	if u.port == nil {
		return &ConfigError{Unit: u.unit, Field: "unit", Value: u.unit}
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	switch {
	case cfg.DataBits < 5 || cfg.DataBits > 8:
		return &ConfigError{Unit: u.unit, Field: "data bits", Value: cfg.DataBits}
	case cfg.Parity > ParityOdd:
		return &ConfigError{Unit: u.unit, Field: "parity", Value: uint8(cfg.Parity)}
	case cfg.StopBits > StopTwo:
		return &ConfigError{Unit: u.unit, Field: "stop bits", Value: uint8(cfg.StopBits)}
	case cfg.QueueSize < 0:
		return &ConfigError{Unit: u.unit, Field: "queue size", Value: cfg.QueueSize}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	owner := claim.Owner{Driver: claim.UART, Unit: u.unit}
	if err := u.d.claimer.Claim(owner, u.rxPin, u.txPin); err != nil {
		return err
	}

	baud, err := u.port.Program(cfg)
	if err != nil {
		return fmt.Errorf("%s: can't setup: %w", u.name, err)
	}

	if cur := u.rx.Load(); cur == nil || cfg.QueueSize > cur.Size() {
		if old := u.rx.Swap(NewRingBuffer(cfg.QueueSize)); old != nil {
			old.retire()
		}
	}
	u.baud = baud
	u.state.CompareAndSwap(uint32(Unconfigured), uint32(Configured))

	u.d.log.Info().
		Str("uart", u.name).
		Stringer("rx", u.rxPin).
		Stringer("tx", u.txPin).
		Log("at pins")
	u.d.log.Info().
		Str("uart", u.name).
		Uint64("baud", uint64(baud)).
		Str("format", fmt.Sprintf("%d%s%s", cfg.DataBits, cfg.Parity, cfg.StopBits)).
		Log("speed")

	return nil
}

// EnableInterrupts binds the unit to the receive ISR. It fails if the unit is
// not configured and is a no-op if interrupts are already enabled.
func (u *UART) EnableInterrupts() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch State(u.state.Load()) {
	case InterruptsEnabled:
		return nil
	case Unconfigured:
		return &ConfigError{Unit: u.unit, Field: "state", Value: Unconfigured}
	}

	u.d.bindOnce.Do(func() { u.d.ctrl.Register(u.d.line, u.d.handleInterrupt) })
	u.state.Store(uint32(InterruptsEnabled))
	u.port.Attach(u.d.ctrl, u.d.line)

	u.d.log.Info().Str("uart", u.name).Log("interrupts enabled")
	return nil
}

// State reports the unit's configuration state.
func (u *UART) State() State { return State(u.state.Load()) }

// Name returns the unit name, e.g. "uart1".
func (u *UART) Name() string { return u.name }

// Pins returns the unit's RX and TX pins.
func (u *UART) Pins() (rx, tx claim.Pin) { return u.rxPin, u.txPin }

// Baud returns the last programmed baud rate.
func (u *UART) Baud() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.baud
}

// QueueSize returns the RX queue capacity, 0 if unconfigured.
func (u *UART) QueueSize() int {
	if rb := u.rx.Load(); rb != nil {
		return rb.Size()
	}
	return 0
}

// Signals delivers one value per interrupt byte received while no signal was
// pending. Receiving clears the pending signal.
func (u *UART) Signals() <-chan struct{} { return u.sigs }

// Write transmits p. It blocks until the port accepts every byte.
func (u *UART) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if State(u.state.Load()) != InterruptsEnabled {
		return 0, ErrNotSetup
	}
	return u.port.Transmit(p)
}

// WriteString transmits s.
func (u *UART) WriteString(s string) (int, error) { return u.Write([]byte(s)) }

// WriteArgs writes each argument in order. Integers must fit in a byte;
// strings and byte slices are written verbatim.
func (u *UART) WriteArgs(args ...any) error {
	for i, a := range args {
		var p []byte
		switch v := a.(type) {
		case byte:
			p = []byte{v}
		case int:
			if v < 0 || v > 0xff {
				return &ConfigError{Unit: u.unit, Field: fmt.Sprintf("argument %d (not a byte)", i+1), Value: v}
			}
			p = []byte{byte(v)}
		case string:
			p = []byte(v)
		case []byte:
			p = v
		default:
			return &ConfigError{Unit: u.unit, Field: fmt.Sprintf("argument %d", i+1), Value: a}
		}
		if _, err := u.Write(p); err != nil {
			return err
		}
	}
	return nil
}
