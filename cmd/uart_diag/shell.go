package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/radio"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
)

const (
	red   = "\x1b[31m"
	reset = "\x1b[0m"

	defaultTimeout = time.Second
	maxPin         = 40
)

var errUsage = errors.New("usage")

type shell struct {
	out    io.Writer
	d      *uartx.Driver
	ledger *claim.Ledger
	units  []*uartx.UART
	sims   map[int]*uartx.SimPort

	hal  *radio.HAL
	loop *radio.RunLoop
	pins *radio.SimPins

	// monitor attaches the terminal to a unit; nil disables the command.
	monitor func(u *uartx.UART) error
}

type command struct {
	args  string
	help  string
	min   int
	run   func(s *shell, args []string) error
	radio bool
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":    {help: "list commands", run: (*shell).help},
		"units":   {help: "show configured units", run: (*shell).listUnits},
		"pins":    {help: "show claimed pins", run: (*shell).listPins},
		"stats":   {args: "<unit>", help: "show driver counters", min: 1, run: (*shell).stats},
		"reset":   {args: "<unit>", help: "zero driver counters", min: 1, run: (*shell).resetStats},
		"drops":   {help: "log queue overflow since the last report", run: (*shell).drops},
		"setup":   {args: "<unit> <baud> [bits] [none|even|odd] [1|1.5|2] [queue]", help: "reconfigure a unit", min: 2, run: (*shell).setup},
		"send":    {args: "<unit> <text>...", help: "write text followed by CRLF", min: 2, run: (*shell).send},
		"write":   {args: "<unit> <byte|text>...", help: "write numbers as bytes and everything else verbatim", min: 2, run: (*shell).write},
		"read":    {args: "<unit> [timeout]", help: "read one line", min: 1, run: (*shell).read},
		"byte":    {args: "<unit> [timeout]", help: "read one byte", min: 1, run: (*shell).readByte},
		"consume": {args: "<unit>", help: "discard buffered input", min: 1, run: (*shell).consume},
		"at":      {args: "<unit> <command> [expect]...", help: "send a command and wait for a reply", min: 2, run: (*shell).at},
		"inject":  {args: "<unit> <text>", help: "feed escaped text to a simulated unit's receiver", min: 2, run: (*shell).inject},
		"monitor": {args: "<unit>", help: "attach the terminal to a unit (Ctrl-] leaves)", min: 1, run: (*shell).attach},
		"pulse":   {args: "<pin>", help: "raise a rising edge on a radio DIO pin", min: 1, run: (*shell).pulse, radio: true},
		"post":    {args: "<ms>", help: "schedule a radio run-loop job", min: 1, run: (*shell).post, radio: true},
		"radio":   {help: "show radio handshake state", run: (*shell).radioState, radio: true},
	}
}

// exec runs one command line and reports whether the shell should exit.
func (s *shell) exec(line string) (bool, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	name, args := args[0], args[1:]
	if name == "quit" || name == "exit" {
		return true, nil
	}
	c, ok := commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command %q", name)
	}
	if c.radio && s.hal == nil {
		return false, errors.New("no radio configured")
	}
	if len(args) < c.min {
		return false, fmt.Errorf("%w: %s %s", errUsage, name, c.args)
	}
	return false, c.run(s, args)
}

func (s *shell) unit(arg string) (*uartx.UART, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(arg, "uart"))
	if err != nil {
		return nil, fmt.Errorf("bad unit %q", arg)
	}
	return s.d.Unit(n)
}

func timeoutArg(args []string, i int) (time.Duration, error) {
	if len(args) <= i {
		return defaultTimeout, nil
	}
	if args[i] == "forever" {
		return uartx.Forever, nil
	}
	return time.ParseDuration(args[i])
}

func (s *shell) help([]string) error {
	names := make([]string, 0, len(commands)+1)
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		c := commands[n]
		fmt.Fprintf(s.out, "  %-8s %-24s %s\n", n, c.args, c.help)
	}
	fmt.Fprintf(s.out, "  %-8s %-24s %s\n", "quit", "", "leave")
	return nil
}

func (s *shell) listUnits([]string) error {
	for _, u := range s.units {
		rx, tx := u.Pins()
		fmt.Fprintf(s.out, "  %s  %-17s rx=%s tx=%s baud=%d queue=%d buffered=%d\n",
			u.Name(), u.State(), rx, tx, u.Baud(), u.QueueSize(), u.Buffered())
	}
	return nil
}

func (s *shell) listPins([]string) error {
	for p := claim.Pin(0); p < maxPin; p++ {
		if o, ok := s.ledger.Owner(p); ok {
			fmt.Fprintf(s.out, "  %-6s %s\n", p, o)
		}
	}
	return nil
}

func (s *shell) stats(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	st := u.Stats()
	for _, kv := range []struct {
		k string
		v uint32
	}{
		{"isr", st.ISRCount},
		{"rx.bytes", st.RxBytes},
		{"rx.max_drain", st.MaxDrain},
		{"err.framing", st.FramingErrors},
		{"ctl.status", st.StatusQueries},
		{"ctl.interrupt", st.Interrupts},
		{"ring.puts", st.RingPuts},
		{"ring.drops", st.RingDrops},
		{"ring.max_used", st.RingMaxUsed},
		{"read.waits", st.ReadWaits},
		{"read.spurious", st.SpuriousWakes},
		{"read.timeouts", st.Timeouts},
	} {
		fmt.Fprintf(s.out, "  %-14s %d\n", kv.k, kv.v)
	}
	return nil
}

func (s *shell) resetStats(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	u.ResetStats()
	return nil
}

func (s *shell) drops([]string) error {
	s.d.ReportDrops()
	return nil
}

func (s *shell) setup(args []string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(args[0], "uart"))
	if err != nil {
		return fmt.Errorf("bad unit %q", args[0])
	}
	baud, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return err
	}
	cfg := uartx.Config{BaudRate: uint32(baud), DataBits: 8, StopBits: uartx.StopOne}
	if len(args) > 2 {
		bits, err := strconv.ParseUint(args[2], 10, 8)
		if err != nil {
			return err
		}
		cfg.DataBits = uint8(bits)
	}
	if len(args) > 3 {
		switch args[3] {
		case "none":
			cfg.Parity = uartx.ParityNone
		case "even":
			cfg.Parity = uartx.ParityEven
		case "odd":
			cfg.Parity = uartx.ParityOdd
		default:
			return fmt.Errorf("bad parity %q", args[3])
		}
	}
	if len(args) > 4 {
		switch args[4] {
		case "1":
			cfg.StopBits = uartx.StopOne
		case "1.5":
			cfg.StopBits = uartx.StopHalf
		case "2":
			cfg.StopBits = uartx.StopTwo
		default:
			return fmt.Errorf("bad stop bits %q", args[4])
		}
	}
	if len(args) > 5 {
		if cfg.QueueSize, err = strconv.Atoi(args[5]); err != nil {
			return err
		}
	}
	actual, err := s.d.Setup(n, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "  uart%d at %d baud\n", n, actual)
	return nil
}

func (s *shell) send(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	_, err = u.WriteString(strings.Join(args[1:], " ") + "\r\n")
	return err
}

func (s *shell) write(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	vals := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		if n, err := strconv.ParseInt(a, 0, 64); err == nil {
			vals = append(vals, int(n))
			continue
		}
		vals = append(vals, a)
	}
	return u.WriteArgs(vals...)
}

func (s *shell) read(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	timeout, err := timeoutArg(args, 1)
	if err != nil {
		return err
	}
	line, ok := u.ReadLine(false, timeout)
	if !ok {
		return errors.New("timeout")
	}
	fmt.Fprintf(s.out, "  %q\n", line)
	return nil
}

func (s *shell) readByte(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	timeout, err := timeoutArg(args, 1)
	if err != nil {
		return err
	}
	b, ok := u.RecvByte(timeout)
	if !ok {
		return errors.New("timeout")
	}
	fmt.Fprintf(s.out, "  0x%02x %q\n", b, b)
	return nil
}

func (s *shell) consume(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	u.Consume()
	return nil
}

func (s *shell) at(args []string) error {
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	line, ok := u.SendCommand(uartx.Command{
		Response: uartx.Response{
			Command:    args[1],
			Echo:       true,
			Timeout:    defaultTimeout,
			Candidates: args[2:],
		},
		CRLF: true,
	})
	if !ok {
		return errors.New("no matching response")
	}
	fmt.Fprintf(s.out, "  %q\n", line)
	return nil
}

func (s *shell) inject(args []string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(args[0], "uart"))
	if err != nil {
		return fmt.Errorf("bad unit %q", args[0])
	}
	p, ok := s.sims[n]
	if !ok {
		return fmt.Errorf("uart%d is not simulated", n)
	}
	text, err := strconv.Unquote(`"` + strings.Join(args[1:], " ") + `"`)
	if err != nil {
		return fmt.Errorf("bad escape: %w", err)
	}
	p.InjectString(text)
	return nil
}

func (s *shell) attach(args []string) error {
	if s.monitor == nil {
		return errors.New("no terminal")
	}
	u, err := s.unit(args[0])
	if err != nil {
		return err
	}
	return s.monitor(u)
}

func (s *shell) pulse(args []string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(args[0], "GPIO"), 10, 8)
	if err != nil {
		return err
	}
	if !s.pins.Pulse(claim.Pin(n)) {
		return fmt.Errorf("GPIO%d has no edge interrupt", n)
	}
	return nil
}

func (s *shell) post(args []string) error {
	ms, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}
	out := s.out
	at := s.hal.Ticks() + radio.MsToTicks(ms)
	id := s.loop.PostAt(at, func() {
		fmt.Fprintf(out, "  job ran at tick %d (due %d)\n", s.hal.Ticks(), at)
	})
	fmt.Fprintf(s.out, "  job %d due at tick %d\n", id, at)
	return nil
}

func (s *shell) radioState([]string) error {
	fmt.Fprintf(s.out, "  owner=%s ticks=%d asleep=%t resumed=%t nesting=%d pending=%d\n",
		s.hal.Owner(), s.hal.Ticks(), s.hal.Asleep(), s.hal.Resumed(), s.hal.Nesting(), s.loop.Pending())
	return nil
}
