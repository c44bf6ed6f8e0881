// Command uart_diag is an interactive diagnostic shell for the line driver.
//
// Units come from a board description (-config); a unit with a device is
// opened through the host serial port, any other unit is a simulated
// loopback. When the board has a radio, its HAL and run loop are started on
// simulated pins so DIO edges can be pulsed from the shell.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/internal/config"
	"github.com/jangala-dev/tinygo-hwsync/internal/syslog"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/jangala-dev/tinygo-hwsync/radio"
	"github.com/jangala-dev/tinygo-hwsync/serialport"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"github.com/joeycumines/logiface"
	"github.com/mattn/go-colorable"
	"golang.org/x/sync/errgroup"
)

const reportInterval = 10 * time.Second

var (
	configPath = flag.String("config", "", "board description (YAML); default is one simulated uart1")
	simulate   = flag.Bool("sim", false, "simulate every unit even when a device is configured")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "uart_diag:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return &config.Config{
			Log:   config.Log{Tag: "uart_diag", Console: true},
			Units: []config.Unit{{Unit: 1}},
		}, nil
	}
	return config.Load(*configPath)
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.Log.Syslog(colorable.NewColorableStderr())
	if err != nil {
		return err
	}
	log, err := syslog.New(opts)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sh, closePorts, err := build(cfg, log.Logger)
	if err != nil {
		return err
	}
	defer closePorts()
	sh.out = colorable.NewColorableStdout()
	sh.monitor = monitor

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	for _, u := range sh.units {
		u := u
		g.Go(func() error { return watchSignals(ctx, u, log.Logger) })
	}
	g.Go(func() error {
		t := time.NewTicker(reportInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				sh.d.ReportDrops()
			}
		}
	})
	if sh.loop != nil {
		g.Go(func() error {
			if err := sh.loop.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = repl(ctx, sh, os.Stdin)
	cancel()
	return errors.Join(err, g.Wait())
}

// build opens the ports and configures every unit in cfg. The returned func
// closes any host serial ports.
func build(cfg *config.Config, log *logiface.Logger[logiface.Event]) (*shell, func(), error) {
	ledger := claim.NewLedger()
	sh := &shell{ledger: ledger, sims: make(map[int]*uartx.SimPort)}

	var hosts []*serialport.Port
	closePorts := func() {
		for _, p := range hosts {
			_ = p.Close()
		}
	}

	ports := make([]uartx.Port, uartx.NumUnits)
	driverOpts := []uartx.Option{
		uartx.WithClaimer(ledger),
		uartx.WithController(irq.Default, uartx.DefaultLine),
		uartx.WithLogger(log),
		uartx.WithStatus(func() string { return "hwsync-diag" }),
	}
	for _, u := range cfg.Units {
		if u.Device != "" && !*simulate {
			p, err := serialport.New(u.Device)
			if err != nil {
				closePorts()
				return nil, nil, err
			}
			hosts = append(hosts, p)
			ports[u.Unit] = p
		} else {
			p := uartx.NewLoopback()
			sh.sims[u.Unit] = p
			ports[u.Unit] = p
		}
		driverOpts = append(driverOpts, u.Pins())
	}

	d, err := uartx.New(ports, driverOpts...)
	if err != nil {
		closePorts()
		return nil, nil, err
	}
	sh.d = d
	for _, u := range cfg.Units {
		c, err := u.UART()
		if err != nil {
			closePorts()
			return nil, nil, err
		}
		if _, err := d.Setup(u.Unit, c); err != nil {
			closePorts()
			return nil, nil, err
		}
		unit, _ := d.Unit(u.Unit)
		sh.units = append(sh.units, unit)
	}

	if cfg.Radio != nil {
		sh.pins = radio.NewSimPins()
		var loop *radio.RunLoop
		hal := radio.New(cfg.Radio.HAL(),
			radio.WithClaimer(ledger),
			radio.WithLogger(log),
			radio.WithPins(sh.pins),
			radio.WithRadioIRQ(func(intr irq.Interrupt) {
				line := intr.Line()
				loop.PostFromISR(intr, func() {
					log.Notice().Int("line", int(line)).Log("radio irq")
				})
			}),
		)
		loop = radio.NewRunLoop(hal)
		if err := hal.Init(); err != nil {
			closePorts()
			return nil, nil, err
		}
		sh.hal, sh.loop = hal, loop
	}
	return sh, closePorts, nil
}

// watchSignals logs every interrupt byte u receives.
func watchSignals(ctx context.Context, u *uartx.UART, log *logiface.Logger[logiface.Event]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-u.Signals():
			log.Notice().Str("uart", u.Name()).Log("interrupt received")
		}
	}
}

// repl runs shell commands read from in until quit, EOF, or ctx ends. The
// next line is only read once the previous command has finished, so a
// command may take over the terminal.
func repl(ctx context.Context, sh *shell, in io.Reader) error {
	lines := make(chan string)
	next := make(chan struct{})
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for {
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
			if !sc.Scan() {
				return
			}
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(sh.out, "uart_diag ready; type help")
	for {
		fmt.Fprint(sh.out, "> ")
		select {
		case next <- struct{}{}:
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(sh.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := sh.exec(line)
			if err != nil {
				fmt.Fprintln(sh.out, red+"error:"+reset, err)
			}
			if quit {
				return nil
			}
		}
	}
}
