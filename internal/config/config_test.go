package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/uartx"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const board = `
log:
  tag: hwsync
  level: warning
  host: 10.0.0.10
  console: true
units:
  - unit: 1
    device: /dev/ttyUSB0
    baud: 9600
    parity: even
    stop_bits: "2"
    queue: 1KB
    rx: 9
    tx: 10
  - unit: 2
    queue: 256
radio:
  spi: 2
  nss: 18
  rst: 14
  dio: [26, 33]
`

func TestParse_Board(t *testing.T) {
	c, err := Parse([]byte(board))
	require.NoError(t, err)
	require.Len(t, c.Units, 2)

	cfg, err := c.Units[0].UART()
	require.NoError(t, err)
	assert.Equal(t, uartx.Config{
		BaudRate:  9600,
		DataBits:  8,
		Parity:    uartx.ParityEven,
		StopBits:  uartx.StopTwo,
		QueueSize: 1024,
	}, cfg)
	assert.Equal(t, "/dev/ttyUSB0", c.Units[0].Device)
	assert.NotNil(t, c.Units[0].Pins())

	cfg, err = c.Units[1].UART()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, uartx.StopOne, cfg.StopBits)
	assert.Nil(t, c.Units[1].Pins())

	require.NotNil(t, c.Radio)
	hal := c.Radio.HAL()
	assert.Equal(t, 2, hal.SPIUnit)
	assert.Equal(t, claim.Pin(14), hal.RST)
	assert.Equal(t, [3]claim.Pin{26, 33, 0}, hal.DIO)

	var console bytes.Buffer
	o, err := c.Log.Syslog(&console)
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelWarning, o.Level)
	assert.Equal(t, "10.0.0.10", o.Host)
	assert.Same(t, &console, o.Console)
}

func TestParse_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":  "units:\n  - unit: 0\n    speed: 9600\n",
		"unit range":     "units:\n  - unit: 3\n",
		"duplicate unit": "units:\n  - unit: 0\n  - unit: 0\n",
		"rx without tx":  "units:\n  - unit: 0\n    rx: 3\n",
		"parity":         "units:\n  - unit: 0\n    parity: mark\n",
		"stop bits":      "units:\n  - unit: 0\n    stop_bits: \"3\"\n",
		"queue size":     "units:\n  - unit: 0\n    queue: lots\n",
		"log level":      "log:\n  level: loud\n",
		"dio count":      "radio:\n  dio: [1, 2, 3, 4]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLog_DefaultsAndConsoleOff(t *testing.T) {
	o, err := Log{}.Syslog(os.Stderr)
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelInformational, o.Level)
	assert.Nil(t, o.Console)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(board), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hwsync", c.Log.Tag)

	require.NoError(t, os.WriteFile(path, []byte("units: [{unit: 7}]\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
