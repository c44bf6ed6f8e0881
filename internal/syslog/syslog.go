// Package syslog builds the process logger: a logiface front end over stumpy
// JSON events, fanned out to an optional console, an append-only log file,
// and a remote syslog collector over UDP.
package syslog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

const (
	// DefaultPort is the syslog collector port used when Host has none.
	DefaultPort = 514

	facilityUser = 1
)

// Options selects the sinks. Empty fields disable the matching sink; a Host of
// "0.0.0.0" also disables remote logging.
type Options struct {
	Tag     string
	Level   logiface.Level
	Console io.Writer
	File    string
	Host    string
}

// Logger is a logiface logger that owns its sinks.
type Logger struct {
	*logiface.Logger[logiface.Event]
	sink *sink
}

// New opens the configured sinks and returns the logger.
func New(o Options) (*Logger, error) {
	s := &sink{tag: o.Tag, console: o.Console}

	if o.File != "" {
		f, err := os.OpenFile(o.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("syslog: open %s: %w", o.File, err)
		}
		s.file = f
	}

	if o.Host != "" && o.Host != "0.0.0.0" {
		addr := o.Host
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
		}
		conn, err := net.Dial("udp", addr)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("syslog: dial %s: %w", addr, err)
		}
		s.conn = conn
	}

	l := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(s), stumpy.WithTimeField("time")),
		stumpy.L.WithLevel(o.Level),
	)
	return &Logger{Logger: l.Logger(), sink: s}, nil
}

// Close releases the file and socket. The logger must not be used after.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// ParseLevel maps a syslog keyword (as printed by logiface.Level) to a level.
func ParseLevel(s string) (logiface.Level, error) {
	for lvl := logiface.LevelDisabled; lvl <= logiface.LevelTrace; lvl++ {
		if lvl.String() == s {
			return lvl, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("syslog: unknown level %q", s)
}

// sink receives one complete JSON event per Write.
type sink struct {
	mu      sync.Mutex
	tag     string
	console io.Writer
	file    *os.File
	conn    net.Conn
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.console != nil {
		if _, err := s.console.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	if s.conn != nil {
		// best effort, like the collector it talks to
		_, _ = s.conn.Write(s.datagram(p))
	}
	return len(p), errors.Join(errs...)
}

// datagram frames an event as an RFC 3164 message: <pri>tag: body.
func (s *sink) datagram(p []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<%d>", facilityUser*8+int(severity(p)))
	if s.tag != "" {
		b.WriteString(s.tag)
		b.WriteString(": ")
	}
	b.Write(bytes.TrimRight(p, "\r\n"))
	return b.Bytes()
}

var levelKey = []byte(`"lvl":"`)

// severity recovers the level stumpy wrote into the event.
func severity(p []byte) logiface.Level {
	i := bytes.Index(p, levelKey)
	if i < 0 {
		return logiface.LevelInformational
	}
	rest := p[i+len(levelKey):]
	j := bytes.IndexByte(rest, '"')
	if j < 0 {
		return logiface.LevelInformational
	}
	lvl, err := ParseLevel(string(rest[:j]))
	if err != nil || lvl < logiface.LevelEmergency || lvl > logiface.LevelDebug {
		return logiface.LevelDebug
	}
	return lvl
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}
