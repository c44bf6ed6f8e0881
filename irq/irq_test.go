package irq

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRaise_RunsHandlerWithToken(t *testing.T) {
	c := NewController()
	var got Interrupt
	c.Register(3, func(i Interrupt) { got = i })

	c.Raise(3)

	assert.True(t, got.Valid())
	assert.Equal(t, Line(3), got.Line())
	assert.False(t, Interrupt{}.Valid())
}

func TestRaise_UnregisteredIgnored(t *testing.T) {
	c := NewController()
	c.Raise(5)
	c.Mask()
	c.Raise(5)
	assert.False(t, c.Pending(5))
	c.Unmask()
}

func TestMask_LatchesUntilUnmask(t *testing.T) {
	c := NewController()
	var calls atomic.Int32
	var order []Line
	h := func(i Interrupt) {
		calls.Add(1)
		order = append(order, i.Line())
	}
	c.Register(7, h)
	c.Register(2, h)

	c.Mask()
	require.True(t, c.Masked())
	c.Raise(7)
	c.Raise(7)
	c.Raise(2)
	assert.Zero(t, calls.Load())
	assert.True(t, c.Pending(7))

	c.Unmask()
	assert.False(t, c.Masked())
	assert.EqualValues(t, 2, calls.Load(), "a latched line is serviced once")
	assert.Equal(t, []Line{2, 7}, order)
	assert.False(t, c.Pending(7))
}

func TestMask_WaitsForRunningHandler(t *testing.T) {
	c := NewController()
	entered := make(chan struct{})
	release := make(chan struct{})
	c.Register(1, func(Interrupt) {
		close(entered)
		<-release
	})

	go c.Raise(1)
	<-entered

	masked := make(chan struct{})
	go func() {
		c.Mask()
		close(masked)
	}()

	select {
	case <-masked:
		t.Fatal("Mask returned while a handler was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-masked:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Mask")
	}
	c.Unmask()
}

func TestRegister_NilClearsPending(t *testing.T) {
	c := NewController()
	c.Register(4, func(Interrupt) {})
	c.Mask()
	c.Raise(4)
	c.Register(4, nil)
	assert.False(t, c.Pending(4))
	assert.False(t, c.Registered(4))
	c.Unmask()
}

func TestDisable_NestsAcrossCallers(t *testing.T) {
	c := NewController()
	var calls atomic.Int32
	c.Register(6, func(Interrupt) { calls.Add(1) })

	c.Disable() // first driver
	c.Disable() // second driver
	c.Raise(6)
	c.Enable()
	assert.True(t, c.Masked(), "the first driver is still inside its section")
	assert.Equal(t, 1, c.Nesting())
	assert.Zero(t, calls.Load())

	c.Enable()
	assert.False(t, c.Masked())
	assert.Zero(t, c.Nesting())
	assert.EqualValues(t, 1, calls.Load())
}

func TestDisable_ConcurrentSectionsAlwaysMasked(t *testing.T) {
	c := NewController()
	var running atomic.Int32
	c.Register(1, func(Interrupt) {
		running.Add(1)
		running.Add(-1)
	})

	var unmasked, inHandler atomic.Int32
	var g errgroup.Group
	for n := 0; n < 8; n++ {
		g.Go(func() error {
			for n := 0; n < 2000; n++ {
				c.Disable()
				if !c.Masked() {
					unmasked.Add(1)
				}
				if running.Load() != 0 {
					inHandler.Add(1)
				}
				c.Enable()
			}
			return nil
		})
	}
	g.Go(func() error {
		for n := 0; n < 2000; n++ {
			c.Raise(1)
		}
		return nil
	})
	require.NoError(t, g.Wait())

	assert.Zero(t, unmasked.Load(), "a section saw the controller unmasked")
	assert.Zero(t, inHandler.Load(), "a handler ran inside a section")
	assert.Zero(t, c.Nesting())
	assert.False(t, c.Masked())
}
