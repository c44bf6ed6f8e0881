// serialport/serialport.go

// Package serialport backs a uartx unit with a host serial device. A reader
// goroutine plays the part of the receive hardware: it fills a FIFO from the
// device and raises the unit's interrupt line, and the uartx ISR drains it.
//
// Each device is guarded by an advisory file lock so two processes never
// share a line.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"go.bug.st/serial"
)

// ReadTimeout bounds each device read so Close is noticed promptly.
const ReadTimeout = 50 * time.Millisecond

// hwFIFO is the receive FIFO depth; bytes arriving while it is full are lost,
// as with a hardware overrun.
const hwFIFO = 4096

var (
	ErrBusy   = errors.New("serial device is locked by another process")
	ErrClosed = errors.New("serial port closed")
)

// Opener opens a device; serial.Open by default.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Option configures a Port.
type Option func(*Port)

// WithOpener replaces the device opener.
func WithOpener(o Opener) Option { return func(p *Port) { p.open = o } }

// WithLockDir sets where lock files are created; os.TempDir by default.
func WithLockDir(dir string) Option { return func(p *Port) { p.lockDir = dir } }

// Port is a uartx.Port over a serial device. The device is opened by the
// first Program call.
type Port struct {
	name    string
	open    Opener
	lockDir string
	lock    *flock.Flock

	mu      sync.Mutex
	dev     serial.Port
	rx      []uartx.Frame
	overrun int
	ctrl    *irq.Controller
	line    irq.Line
	reading bool
	closed  chan struct{}
	done    chan struct{}
}

var _ uartx.Port = (*Port)(nil)

// New takes the device lock for name without opening the device.
func New(name string, opts ...Option) (*Port, error) {
	p := &Port{
		name:    name,
		open:    serial.Open,
		lockDir: os.TempDir(),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	p.lock = flock.New(lockPath(p.lockDir, name))
	ok, err := p.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("serialport: lock %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("serialport: %s: %w", name, ErrBusy)
	}
	return p, nil
}

func lockPath(dir, name string) string {
	base := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(strings.TrimPrefix(name, "/"))
	return filepath.Join(dir, "hwsync-"+base+".lock")
}

// Name returns the device name.
func (p *Port) Name() string { return p.name }

func mode(cfg uartx.Config) (*serial.Mode, error) {
	m := &serial.Mode{BaudRate: int(cfg.BaudRate), DataBits: int(cfg.DataBits)}
	switch cfg.Parity {
	case uartx.ParityNone:
		m.Parity = serial.NoParity
	case uartx.ParityEven:
		m.Parity = serial.EvenParity
	case uartx.ParityOdd:
		m.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("serialport: parity %s", cfg.Parity)
	}
	switch cfg.StopBits {
	case uartx.StopOne:
		m.StopBits = serial.OneStopBit
	case uartx.StopHalf:
		m.StopBits = serial.OnePointFiveStopBits
	case uartx.StopTwo:
		m.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("serialport: stop bits %s", cfg.StopBits)
	}
	return m, nil
}

// Program opens the device on first use and applies cfg. The OS driver
// reports no achieved rate, so the requested one is returned.
func (p *Port) Program(cfg uartx.Config) (uint32, error) {
	m, err := mode(cfg)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}

	if p.dev != nil {
		if err := p.dev.SetMode(m); err != nil {
			return 0, fmt.Errorf("serialport: %s: %w", p.name, err)
		}
		return cfg.BaudRate, nil
	}

	dev, err := p.open(p.name, m)
	if err != nil {
		return 0, fmt.Errorf("serialport: open %s: %w", p.name, err)
	}
	if err := dev.SetReadTimeout(ReadTimeout); err != nil {
		_ = dev.Close()
		return 0, fmt.Errorf("serialport: %s: %w", p.name, err)
	}
	p.dev = dev
	return cfg.BaudRate, nil
}

func (p *Port) Transmit(b []byte) (int, error) {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev == nil {
		return 0, ErrClosed
	}
	written := 0
	for written < len(b) {
		n, err := dev.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func (p *Port) Receive() (uartx.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return uartx.Frame{}, false
	}
	f := p.rx[0]
	p.rx = p.rx[1:]
	return f, true
}

// Attach starts the reader goroutine. Later calls only move the interrupt
// route.
func (p *Port) Attach(c *irq.Controller, line irq.Line) {
	p.mu.Lock()
	p.ctrl, p.line = c, line
	start := !p.reading && p.dev != nil
	p.reading = p.reading || start
	dev := p.dev
	p.mu.Unlock()

	if start {
		go p.readLoop(dev)
	}
}

func (p *Port) readLoop(dev serial.Port) {
	defer close(p.done)
	buf := make([]byte, 256)
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		n, err := dev.Read(buf)
		if n > 0 {
			p.push(buf[:n])
		}
		if err != nil {
			var pe *serial.PortError
			if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
				return
			}
			select {
			case <-p.closed:
				return
			case <-time.After(ReadTimeout):
			}
		}
	}
}

func (p *Port) push(b []byte) {
	p.mu.Lock()
	for _, c := range b {
		if len(p.rx) >= hwFIFO {
			p.overrun++
			continue
		}
		p.rx = append(p.rx, uartx.Frame{Data: c})
	}
	c, line := p.ctrl, p.line
	p.mu.Unlock()
	if c != nil {
		c.Raise(line)
	}
}

// Overruns returns the number of bytes lost to a full receive FIFO.
func (p *Port) Overruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overrun
}

// Close stops the reader, closes the device, and releases the lock.
func (p *Port) Close() error {
	p.mu.Lock()
	select {
	case <-p.closed:
		p.mu.Unlock()
		return nil
	default:
	}
	close(p.closed)
	dev, reading := p.dev, p.reading
	p.mu.Unlock()

	var errs []error
	if dev != nil {
		errs = append(errs, dev.Close())
	}
	if reading {
		<-p.done
	}
	errs = append(errs, p.lock.Unlock())
	return errors.Join(errs...)
}

// Devices lists the serial devices present on the host.
func Devices() ([]string, error) { return serial.GetPortsList() }
