// irq/irq.go

// Package irq models a single-level interrupt controller: a hardware-wide mask,
// a pending latch per line, and serialized handler dispatch. Handlers run with
// every other handler excluded (equal priority masked) and receive an Interrupt
// token; ISR-safe APIs elsewhere take that token, so code that only holds a
// token cannot reach blocking task-context operations by accident.
package irq

import (
	"fmt"
	"math/bits"
	"sync"
)

// MaxLines is the number of interrupt lines a Controller supports.
const MaxLines = 64

// Line identifies an interrupt source.
type Line uint8

// Interrupt is the execution-context token handed to a running handler.
// Only a Controller constructs one.
type Interrupt struct {
	line Line
	c    *Controller
}

// Line reports the line being serviced.
func (i Interrupt) Line() Line { return i.line }

// Valid reports whether i was issued by a Controller.
func (i Interrupt) Valid() bool { return i.c != nil }

// Handler services one interrupt line. It must not block or call
// back into the Controller.
type Handler func(Interrupt)

// Controller dispatches raised lines to their handlers.
type Controller struct {
	run sync.Mutex // held while a handler executes, and by Mask

	mu       sync.Mutex
	handlers [MaxLines]Handler
	masked   bool
	pending  uint64

	cs     sync.Mutex // serializes Disable and Enable; never taken by handlers
	nested int
}

// NewController returns an unmasked controller with no handlers.
func NewController() *Controller { return &Controller{} }

// Default is the process-wide controller.
var Default = NewController()

// Register binds h to line, replacing any previous handler. A nil h unbinds.
func (c *Controller) Register(line Line, h Handler) {
	if int(line) >= MaxLines {
		panic(fmt.Sprintf("irq: line %d out of range", line))
	}
	c.mu.Lock()
	c.handlers[line] = h
	if h == nil {
		c.pending &^= 1 << line
	}
	c.mu.Unlock()
}

// Registered reports whether line has a handler.
func (c *Controller) Registered(line Line) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(line) < MaxLines && c.handlers[line] != nil
}

// Raise signals line. With interrupts unmasked the handler runs on the calling
// goroutine before Raise returns; while masked the line is latched and
// serviced by Unmask. Lines without a handler are ignored.
func (c *Controller) Raise(line Line) {
	if int(line) >= MaxLines {
		return
	}
	c.run.Lock()
	defer c.run.Unlock()

	c.mu.Lock()
	h := c.handlers[line]
	if h == nil {
		c.mu.Unlock()
		return
	}
	if c.masked {
		c.pending |= 1 << line
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	h(Interrupt{line: line, c: c})
}

// Mask disables interrupt delivery. It returns once no handler is running.
func (c *Controller) Mask() {
	c.run.Lock()
	c.mu.Lock()
	c.masked = true
	c.mu.Unlock()
	c.run.Unlock()
}

// Unmask enables interrupt delivery and services latched lines in ascending
// line order.
func (c *Controller) Unmask() {
	c.mu.Lock()
	c.masked = false
	p := c.pending
	c.pending = 0
	c.mu.Unlock()

	for p != 0 {
		line := Line(bits.TrailingZeros64(p))
		p &^= 1 << line
		c.Raise(line)
	}
}

// Disable enters a critical section. Sections nest across every caller of
// the controller; the outermost Disable masks delivery and returns once no
// handler is running. Task context only.
func (c *Controller) Disable() {
	c.cs.Lock()
	defer c.cs.Unlock()
	c.nested++
	if c.nested == 1 {
		c.Mask()
	}
}

// Enable leaves a critical section. The last Enable unmasks and services
// latched lines before returning. Unbalanced calls drive the count negative
// and are not detected.
func (c *Controller) Enable() {
	c.cs.Lock()
	defer c.cs.Unlock()
	c.nested--
	if c.nested == 0 {
		c.Unmask()
	}
}

// Nesting reports the critical section depth.
func (c *Controller) Nesting() int {
	c.cs.Lock()
	defer c.cs.Unlock()
	return c.nested
}

// Masked reports whether delivery is disabled.
func (c *Controller) Masked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masked
}

// Pending reports whether line is latched awaiting Unmask.
func (c *Controller) Pending(line Line) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(line) < MaxLines && c.pending&(1<<line) != 0
}

func Mask()        { Default.Mask() }
func Unmask()      { Default.Unmask() }
func Masked() bool { return Default.Masked() }
func Disable()     { Default.Disable() }
func Enable()      { Default.Enable() }
