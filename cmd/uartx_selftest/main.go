// Command uartx_selftest exercises the line driver, the event, and the radio
// run loop end to end. By default the UART under test is a simulated loopback;
// with -device it drives a real port whose TX is wired back to its RX.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/event"
	"github.com/jangala-dev/tinygo-hwsync/internal/syslog"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/jangala-dev/tinygo-hwsync/radio"
	"github.com/jangala-dev/tinygo-hwsync/serialport"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"github.com/joeycumines/logiface"
	"github.com/mattn/go-colorable"
	"github.com/sigurn/crc16"
	"golang.org/x/sync/errgroup"
)

const (
	unit      = 1
	queueSize = 8 * 1024
	frameLen  = 48
	status    = "hwsync-selftest"
)

var (
	device = flag.String("device", "", "serial device with TX looped to RX (default: simulated loopback)")
	baud   = flag.Uint("baud", 115200, "baud rate")
	level  = flag.String("log", "notice", "log level")

	crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
)

func main() {
	flag.Parse()
	out := colorable.NewColorableStdout()
	if err := run(out); err != nil {
		fmt.Fprintln(os.Stderr, "uartx_selftest:", err)
		os.Exit(1)
	}
}

func run(out io.Writer) error {
	lvl, err := syslog.ParseLevel(*level)
	if err != nil {
		return err
	}
	log, err := syslog.New(syslog.Options{Tag: "uartx_selftest", Level: lvl, Console: colorable.NewColorableStderr()})
	if err != nil {
		return err
	}
	defer log.Close()

	ctrl := irq.NewController()
	ledger := claim.NewLedger()

	var port uartx.Port
	sim := *device == ""
	if sim {
		port = newModem()
	} else {
		sp, err := serialport.New(*device)
		if err != nil {
			return err
		}
		defer sp.Close()
		port = sp
	}

	var signals atomic.Int32
	ports := make([]uartx.Port, unit+1)
	ports[unit] = port
	d, err := uartx.New(ports,
		uartx.WithController(ctrl, uartx.DefaultLine),
		uartx.WithClaimer(ledger),
		uartx.WithLogger(log.Logger),
		uartx.WithStatus(func() string { return status }),
		uartx.WithSignal(func(int) { signals.Add(1) }),
	)
	if err != nil {
		return err
	}
	actual, err := d.Setup(unit, uartx.Config{BaudRate: uint32(*baud), DataBits: 8, StopBits: uartx.StopOne, QueueSize: queueSize})
	if err != nil {
		return err
	}
	u, err := d.Unit(unit)
	if err != nil {
		return err
	}

	h := &harness{out: out}
	fmt.Fprintln(out, "uartx self-test starting")
	fmt.Fprintf(out, "  %s at %d baud (requested %d)\n", u.Name(), actual, *baud)

	h.run("sanity: short loopback", func() string {
		u.Consume()
		if _, err := u.WriteString("hello, uartx\r\n"); err != nil {
			return "write failed"
		}
		line, ok := u.ReadLine(false, time.Second)
		if !ok {
			return "timeout"
		}
		if line != "hello, uartx" {
			return fmt.Sprintf("got %q", line)
		}
		u.Consume()
		return ""
	})

	h.run("blocking: RecvByte waits for a single byte", func() string {
		u.Consume()
		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = u.Write([]byte{'Z'})
		}()
		b, ok := u.RecvByte(time.Second)
		if !ok {
			return "timeout"
		}
		if b != 'Z' {
			return "wrong byte"
		}
		return ""
	})

	h.run("timeout: no data within 200ms", func() string {
		u.Consume()
		start := time.Now()
		if _, ok := u.RecvByte(200 * time.Millisecond); ok {
			return "unexpected data"
		}
		if time.Since(start) < 200*time.Millisecond {
			return "returned early"
		}
		return ""
	})

	h.run("framing: two lines", func() string {
		u.Consume()
		if _, err := u.WriteString("first line\r\nsecond line\n"); err != nil {
			return "write failed"
		}
		var got []string
		for len(got) < 2 {
			line, ok := u.ReadLine(false, time.Second)
			if !ok {
				return "timeout"
			}
			if line != "" {
				got = append(got, line)
			}
		}
		if got[0] != "first line" || got[1] != "second line" {
			return fmt.Sprintf("got %q", got)
		}
		return ""
	})

	h.run("control: status query answers out of band", func() string {
		u.Consume()
		if _, err := u.Write([]byte{0x04}); err != nil {
			return "write failed"
		}
		// the banner loops back as ordinary data
		line, ok := u.ReadLine(false, time.Second)
		if !ok {
			return "no banner"
		}
		if line != status {
			return fmt.Sprintf("banner %q", line)
		}
		u.Consume()
		return ""
	})

	h.run("control: interrupt byte raises the signal once", func() string {
		u.Consume()
		before := signals.Load()
		if _, err := u.Write([]byte{0x03, 0x03}); err != nil {
			return "write failed"
		}
		select {
		case <-u.Signals():
		case <-time.After(time.Second):
			return "no signal"
		}
		if u.Buffered() != 0 {
			return "control byte queued"
		}
		if signals.Load() == before {
			return "hook not called"
		}
		return ""
	})

	h.run("binary: CRC16 framed integrity", func() string {
		u.Consume()
		u.ResetStats()
		const frames = 128
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		start := time.Now()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			seed := uint32(0x12345678)
			for i := 0; i < frames; i++ {
				var f string
				f, seed = frame(seed)
				if _, err := u.WriteString(f); err != nil {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < frames; {
				line, err := u.ReadLineContext(ctx, false)
				if err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				if line == "" {
					continue
				}
				if err := checkFrame(line); err != nil {
					return fmt.Errorf("frame %d: %w", i, err)
				}
				i++
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err.Error()
		}
		n := frames * (frameLen + 6)
		ms := max(int(time.Since(start)/time.Millisecond), 1)
		fmt.Fprintf(out, "  speed = %.2f kbps\n", float64(n*8)/float64(ms))
		if s := u.Stats(); s.RingDrops != 0 {
			return fmt.Sprintf("%d bytes dropped", s.RingDrops)
		}
		return ""
	})

	h.run("overflow: burst twice the queue keeps the oldest bytes", func() string {
		u.Consume()
		u.ResetStats()
		burst := make([]byte, 2*queueSize)
		for i := range burst {
			burst[i] = 'a' + byte(i%26)
		}
		if _, err := u.Write(burst); err != nil {
			return "write failed"
		}
		if !settle(u, 2*time.Second) {
			return "no data"
		}
		if u.Buffered() != queueSize {
			return fmt.Sprintf("buffered %d want %d", u.Buffered(), queueSize)
		}
		for i := 0; i < 26; i++ {
			if b, _ := u.RecvByte(0); b != 'a'+byte(i) {
				return "newest bytes were kept"
			}
		}
		s := u.Stats()
		fmt.Fprintf(out, "  drops = %d, high water = %d\n", s.RingDrops, s.RingMaxUsed)
		d.ReportDrops()
		u.Consume()
		if s.RingDrops == 0 {
			return "no drops counted"
		}
		return ""
	})

	if sim {
		h.run("command: AT echo and OK", func() string {
			u.Consume()
			line, ok := u.SendCommand(uartx.Command{
				Response: uartx.Response{Command: "AT+PING", Echo: true, Timeout: time.Second, Candidates: []string{"OK"}},
				CRLF:     true,
			})
			if !ok || line != "OK" {
				return fmt.Sprintf("got %q %v", line, ok)
			}
			return ""
		})

		h.run("command: ERROR fails the wait", func() string {
			u.Consume()
			_, ok := u.SendCommand(uartx.Command{
				Response: uartx.Response{Command: "AT+FAIL", Echo: true, Timeout: time.Second, Candidates: []string{"OK"}},
				CRLF:     true,
			})
			if ok {
				return "succeeded"
			}
			return ""
		})
	}

	h.run("event: broadcast wakes every waiter", func() string {
		ev := event.New()
		defer ev.Destroy()
		const waiters = 8
		var g errgroup.Group
		for i := 0; i < waiters; i++ {
			g.Go(ev.Wait)
		}
		deadline := time.Now().Add(time.Second)
		for ev.Waiting() < waiters {
			if time.Now().After(deadline) {
				return "waiters never registered"
			}
			time.Sleep(time.Millisecond)
		}
		if err := ev.Broadcast(); err != nil {
			return err.Error()
		}
		if err := g.Wait(); err != nil {
			return err.Error()
		}
		if ev.Waiting() != 0 {
			return "waiters left registered"
		}
		return ""
	})

	h.run("radio: run loop sleeps and wakes", func() string {
		return radioCheck(ctrl, ledger, log.Logger)
	})

	h.run("radio: pin conflict with the UART", func() string {
		hal := radio.New(radio.Config{Unit: 1, RST: 9},
			radio.WithClaimer(ledger), radio.WithController(ctrl))
		err := hal.Init()
		if !errors.Is(err, claim.ErrConflict) {
			return fmt.Sprintf("got %v", err)
		}
		fmt.Fprintln(out, "  "+err.Error())
		return ""
	})

	s := u.Stats()
	log.Notice().
		Str("uart", u.Name()).
		Int64("isr", int64(s.ISRCount)).
		Int64("rx", int64(s.RxBytes)).
		Int64("status_queries", int64(s.StatusQueries)).
		Int64("interrupts", int64(s.Interrupts)).
		Log("self-test finished")

	return h.summary()
}

// radioCheck runs a loop on a simulated radio: immediate and timed jobs run
// in order, and a DIO edge posts work from interrupt context.
func radioCheck(ctrl *irq.Controller, ledger claim.Claimer, log *logiface.Logger[logiface.Event]) string {
	pins := radio.NewSimPins()
	var loop *radio.RunLoop
	dio := make(chan struct{}, 1)
	hal := radio.New(radio.Config{RST: 14, DIO: [3]claim.Pin{26, 33, 32}},
		radio.WithClaimer(ledger),
		radio.WithController(ctrl),
		radio.WithLogger(log),
		radio.WithPins(pins),
		radio.WithRadioIRQ(func(intr irq.Interrupt) {
			loop.PostFromISR(intr, func() { dio <- struct{}{} })
		}),
	)
	loop = radio.NewRunLoop(hal)
	if err := hal.Init(); err != nil {
		return err.Error()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	order := make(chan string, 3)
	now := hal.Ticks()
	loop.PostAt(now+radio.MsToTicks(20), func() { order <- "timed" })
	loop.Post(func() { order <- "now" })
	for _, want := range []string{"now", "timed"} {
		select {
		case got := <-order:
			if got != want {
				return fmt.Sprintf("ran %s before %s", got, want)
			}
		case <-time.After(time.Second):
			return "job " + want + " never ran"
		}
	}

	deadline := time.Now().Add(time.Second)
	for !hal.Asleep() {
		if time.Now().After(deadline) {
			return "loop never slept"
		}
		time.Sleep(time.Millisecond)
	}
	if !pins.Pulse(33) {
		return "DIO1 not routed"
	}
	select {
	case <-dio:
	case <-time.After(time.Second):
		return "DIO job never ran"
	}
	return ""
}

// frame builds one line: printable payload, '*', CRC16 as four hex digits.
func frame(seed uint32) (string, uint32) {
	var b strings.Builder
	p := make([]byte, frameLen)
	for i := range p {
		seed = 1664525*seed + 1013904223
		p[i] = '!' + byte(seed>>24)%94
	}
	b.Write(p)
	fmt.Fprintf(&b, "*%04X\n", crc16.Checksum(p, crcTable))
	return b.String(), seed
}

func checkFrame(line string) error {
	i := strings.LastIndexByte(line, '*')
	if i != frameLen {
		return fmt.Errorf("malformed %q", line)
	}
	payload, sum := line[:i], line[i+1:]
	if want := fmt.Sprintf("%04X", crc16.Checksum([]byte(payload), crcTable)); sum != want {
		return fmt.Errorf("crc %s want %s", sum, want)
	}
	return nil
}

// settle waits until the receive queue stops growing.
func settle(u *uartx.UART, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	last := -1
	for time.Now().Before(deadline) {
		n := u.Buffered()
		if n > 0 && n == last {
			return true
		}
		last = n
		time.Sleep(50 * time.Millisecond)
	}
	return last > 0
}

// ---------- Harness ----------

const (
	green = "\x1b[32m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

type harness struct {
	out        io.Writer
	pass, fail int
}

func (h *harness) run(name string, f func() string) {
	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, "[Test]", name)
	if msg := f(); msg == "" {
		fmt.Fprintln(h.out, "  "+green+"PASS"+reset)
		h.pass++
	} else {
		fmt.Fprintln(h.out, "  "+red+"FAIL:"+reset, msg)
		h.fail++
	}
}

func (h *harness) summary() error {
	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, "Summary")
	fmt.Fprintln(h.out, "  passed =", h.pass)
	fmt.Fprintln(h.out, "  failed =", h.fail)
	if h.fail > 0 {
		return fmt.Errorf("%d of %d tests failed", h.fail, h.pass+h.fail)
	}
	return nil
}
