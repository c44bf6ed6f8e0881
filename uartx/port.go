// uartx/port.go

package uartx

import "github.com/jangala-dev/tinygo-hwsync/irq"

// Frame is one entry popped from a port's hardware receive FIFO.
type Frame struct {
	Data       byte
	FramingErr bool // the byte arrived with a framing error and carries no data
}

// Port is the hardware side of a unit: line programming, the transmit path,
// and the receive FIFO drained by the ISR.
type Port interface {
	// Program applies line parameters and returns the baud rate actually
	// achieved.
	Program(cfg Config) (uint32, error)

	// Transmit writes p, blocking until the transmitter accepts every byte.
	// The ISR calls it for status replies, so it must not raise the RX line
	// synchronously.
	Transmit(p []byte) (int, error)

	// Receive pops the next hardware FIFO entry. It is called only from the
	// ISR.
	Receive() (Frame, bool)

	// Attach routes the port's receive interrupt to line on c. The port
	// raises the line whenever its hardware FIFO becomes non-empty.
	Attach(c *irq.Controller, line irq.Line)
}
