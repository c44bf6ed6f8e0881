// Package config loads the board description: UART units, the radio
// placement, and logging sinks.
//
//	log:
//	  tag: hwsync
//	  level: info
//	  host: 10.0.0.10
//	units:
//	  - unit: 1
//	    device: /dev/ttyUSB0
//	    baud: 115200
//	    data_bits: 8
//	    parity: none
//	    stop_bits: "1"
//	    queue: 1KB
//	    rx: 9
//	    tx: 10
//	radio:
//	  rst: 14
//	  dio: [26, 33, 32]
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/internal/syslog"
	"github.com/jangala-dev/tinygo-hwsync/radio"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Log   Log    `yaml:"log"`
	Units []Unit `yaml:"units"`
	Radio *Radio `yaml:"radio,omitempty"`
}

type Log struct {
	Tag     string `yaml:"tag"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Host    string `yaml:"host"`
	Console bool   `yaml:"console"`
}

type Unit struct {
	Unit     int    `yaml:"unit"`
	Device   string `yaml:"device"`
	Baud     uint32 `yaml:"baud"`
	DataBits uint8  `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits string `yaml:"stop_bits"`
	Queue    Size   `yaml:"queue"`
	RX       *uint8 `yaml:"rx"`
	TX       *uint8 `yaml:"tx"`
}

type Radio struct {
	Unit int     `yaml:"unit"`
	SPI  int     `yaml:"spi"`
	NSS  uint8   `yaml:"nss"`
	RST  uint8   `yaml:"rst"`
	DIO  []uint8 `yaml:"dio"`
}

// Size is a byte count written either as an integer or with a unit suffix
// such as "1KB".
type Size int

func (s *Size) UnmarshalYAML(unmarshal func(any) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	b, err := bytesize.Parse(str)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", str, err)
	}
	*s = Size(b)
	return nil
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a board description.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	for i, u := range c.Units {
		if u.Unit < 0 || u.Unit >= uartx.NumUnits {
			return nil, fmt.Errorf("units[%d]: unit %d out of range", i, u.Unit)
		}
		if seen[u.Unit] {
			return nil, fmt.Errorf("units[%d]: unit %d listed twice", i, u.Unit)
		}
		seen[u.Unit] = true
		if (u.RX == nil) != (u.TX == nil) {
			return nil, fmt.Errorf("units[%d]: rx and tx must be set together", i)
		}
		if _, err := u.UART(); err != nil {
			return nil, fmt.Errorf("units[%d]: %w", i, err)
		}
	}
	if _, err := c.Log.Syslog(nil); err != nil {
		return nil, err
	}
	if c.Radio != nil && len(c.Radio.DIO) > 3 {
		return nil, fmt.Errorf("radio: %d dio pins, at most 3", len(c.Radio.DIO))
	}
	return &c, nil
}

// UART converts the unit entry to line parameters. Unset fields take the
// driver defaults: 8 data bits, no parity, one stop bit.
func (u Unit) UART() (uartx.Config, error) {
	cfg := uartx.Config{
		BaudRate:  u.Baud,
		DataBits:  u.DataBits,
		StopBits:  uartx.StopOne,
		QueueSize: int(u.Queue),
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	switch u.Parity {
	case "", "none":
		cfg.Parity = uartx.ParityNone
	case "even":
		cfg.Parity = uartx.ParityEven
	case "odd":
		cfg.Parity = uartx.ParityOdd
	default:
		return cfg, fmt.Errorf("parity %q", u.Parity)
	}
	switch u.StopBits {
	case "", "1":
		cfg.StopBits = uartx.StopOne
	case "1.5":
		cfg.StopBits = uartx.StopHalf
	case "2":
		cfg.StopBits = uartx.StopTwo
	default:
		return cfg, fmt.Errorf("stop bits %q", u.StopBits)
	}
	return cfg, nil
}

// Pins returns the driver option overriding the unit's pins, or nil.
func (u Unit) Pins() uartx.Option {
	if u.RX == nil || u.TX == nil {
		return nil
	}
	return uartx.WithPins(u.Unit, claim.Pin(*u.RX), claim.Pin(*u.TX))
}

// Syslog returns logger options, writing to console when Console is set.
// The level defaults to info.
func (l Log) Syslog(console io.Writer) (syslog.Options, error) {
	o := syslog.Options{
		Tag:  l.Tag,
		File: l.File,
		Host: l.Host,
	}
	if l.Console {
		o.Console = console
	}
	if l.Level == "" {
		l.Level = "info"
	}
	lvl, err := syslog.ParseLevel(l.Level)
	if err != nil {
		return o, err
	}
	o.Level = lvl
	return o, nil
}

// HAL converts the radio entry.
func (r Radio) HAL() radio.Config {
	c := radio.Config{
		Unit:    r.Unit,
		SPIUnit: r.SPI,
		NSS:     claim.Pin(r.NSS),
		RST:     claim.Pin(r.RST),
	}
	for i, p := range r.DIO {
		if i < len(c.DIO) {
			c.DIO[i] = claim.Pin(p)
		}
	}
	return c
}
