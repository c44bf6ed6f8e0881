package radio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-hwsync/claim"
	"github.com/jangala-dev/tinygo-hwsync/irq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	SPIUnit: 2,
	NSS:     18,
	RST:     14,
	DIO:     [3]claim.Pin{26, 33, 0},
}

func newTestHAL(t *testing.T, opts ...Option) (*HAL, *irq.Controller, *SimPins) {
	t.Helper()
	c := irq.NewController()
	pins := NewSimPins()
	h := New(testConfig, append([]Option{WithController(c), WithPins(pins)}, opts...)...)
	return h, c, pins
}

func TestCriticalSection_Nested(t *testing.T) {
	h, c, _ := newTestHAL(t)

	require.False(t, c.Masked())
	h.DisableIRQs()
	assert.True(t, c.Masked())
	h.DisableIRQs()
	assert.Equal(t, 2, h.Nesting())

	h.EnableIRQs()
	assert.True(t, c.Masked(), "still masked between the two enables")
	assert.Equal(t, 1, h.Nesting())

	h.EnableIRQs()
	assert.False(t, c.Masked())
	assert.Zero(t, h.Nesting())
}

func TestCriticalSection_SharedAcrossHALs(t *testing.T) {
	c := irq.NewController()
	a := New(Config{Unit: 0}, WithController(c))
	b := New(Config{Unit: 1}, WithController(c))

	a.DisableIRQs()
	b.DisableIRQs()
	b.EnableIRQs()
	assert.True(t, c.Masked(), "b must not unmask inside a's section")
	assert.Equal(t, 1, a.Nesting())

	a.EnableIRQs()
	assert.False(t, c.Masked())
	assert.Zero(t, b.Nesting())
}

func TestCriticalSection_DefersDIOInterrupt(t *testing.T) {
	var fired atomic.Int32
	h, _, pins := newTestHAL(t, WithRadioIRQ(func(irq.Interrupt) { fired.Add(1) }))
	require.NoError(t, h.Init())

	h.DisableIRQs()
	require.True(t, pins.Pulse(26))
	assert.Zero(t, fired.Load())

	h.EnableIRQs()
	assert.EqualValues(t, 1, fired.Load())
	assert.True(t, h.Resumed())
}

func TestHandshake_ResumeResumeSleep(t *testing.T) {
	h, _, _ := newTestHAL(t)

	h.Resume()
	h.Resume()

	done := make(chan struct{})
	go func() {
		h.Sleep()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep blocked with a wake pending")
	}
	assert.False(t, h.Asleep())
	assert.False(t, h.Resumed())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.SleepContext(ctx), context.DeadlineExceeded, "the second resume posted nothing")
}

func TestHandshake_SleepThenResume(t *testing.T) {
	h, _, _ := newTestHAL(t)

	done := make(chan struct{})
	go func() {
		h.Sleep()
		close(done)
	}()

	require.Eventually(t, h.Asleep, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("Sleep returned without a resume")
	case <-time.After(20 * time.Millisecond):
	}

	h.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Sleep to return")
	}
	assert.False(t, h.Asleep())
	assert.True(t, h.Resumed())
}

func TestHandshake_SleepWhileAsleepIsNoop(t *testing.T) {
	h, _, _ := newTestHAL(t)

	go h.Sleep()
	require.Eventually(t, h.Asleep, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		h.Sleep()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Sleep parked")
	}
	h.Resume()
}

func TestHandshake_DIOResumesSleeper(t *testing.T) {
	h, _, pins := newTestHAL(t)
	require.NoError(t, h.Init())

	done := make(chan error, 1)
	go func() { done <- h.SleepContext(context.Background()) }()
	require.Eventually(t, h.Asleep, time.Second, time.Millisecond)

	assert.False(t, pins.Pulse(0), "unconnected DIO raises nothing")
	require.True(t, pins.Pulse(33))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("DIO edge did not resume the sleeper")
	}
}

func TestHandshake_SleepContextCancel(t *testing.T) {
	h, _, _ := newTestHAL(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, h.SleepContext(ctx), context.Canceled)
	assert.False(t, h.Asleep())
}

func TestInit_ClaimsAndConfiguresPins(t *testing.T) {
	ledger := claim.NewLedger()
	h, c, pins := newTestHAL(t, WithClaimer(ledger))
	require.NoError(t, h.Init())

	for _, p := range []claim.Pin{14, 26, 33} {
		o, ok := ledger.Owner(p)
		require.True(t, ok, "%s", p)
		assert.Equal(t, "lora0", o.String())
	}
	_, ok := ledger.Owner(18)
	assert.False(t, ok, "chip select belongs to the SPI driver")

	assert.Equal(t, PinOutput, pins.Mode(14))
	assert.Equal(t, PinInput, pins.Mode(26))
	assert.True(t, c.Registered(DefaultLine))
}

func TestInit_ConflictBeforeAnyPinMutation(t *testing.T) {
	ledger := claim.NewLedger()
	require.NoError(t, ledger.Claim(claim.Owner{Driver: claim.UART, Unit: 1}, 33))

	h, c, pins := newTestHAL(t, WithClaimer(ledger))
	err := h.Init()
	require.ErrorIs(t, err, claim.ErrConflict)
	assert.Equal(t, "GPIO33 is used by uart1", err.Error())

	assert.Equal(t, PinFloat, pins.Mode(14))
	assert.False(t, c.Registered(DefaultLine))
	_, ok := ledger.Owner(14)
	assert.False(t, ok, "RST is not held after a DIO conflict")
}

func TestPinControlAndSPI(t *testing.T) {
	spi := NewSimSPI()
	h, _, pins := newTestHAL(t, WithSPI(spi))

	h.PinRST(1)
	assert.Equal(t, PinOutput, pins.Mode(14))
	assert.True(t, pins.Level(14))
	h.PinRST(0)
	assert.False(t, pins.Level(14))
	h.PinRST(2)
	assert.Equal(t, PinInput, pins.Mode(14))

	assert.Equal(t, byte(0xff), h.SPI(0x42), "deselected")
	h.PinNSS(0)
	assert.True(t, spi.Selected())
	spi.Reply(0x12)
	assert.Equal(t, byte(0x12), h.SPI(0x42))
	h.PinNSS(1)
	assert.False(t, spi.Selected())
	assert.Equal(t, []byte{0x42}, spi.Sent())

	h.PinRxTx(1)
}

func TestFailedPanics(t *testing.T) {
	h, _, _ := newTestHAL(t)
	assert.PanicsWithValue(t, "radio: assert at radio.c, line 42", func() { h.Failed("radio.c", 42) })
}

func TestTicks(t *testing.T) {
	var us atomic.Int64
	us.Store(1_000)
	h, _, _ := newTestHAL(t, WithClock(ClockFunc(us.Load)))

	assert.EqualValues(t, 50, h.Ticks())
	assert.True(t, h.CheckTimer(50))
	assert.False(t, h.CheckTimer(51))

	done := make(chan struct{})
	go func() {
		h.WaitUntil(100)
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("WaitUntil returned early")
	case <-time.After(10 * time.Millisecond):
	}
	us.Store(2_000)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntil did not observe the clock")
	}

	assert.EqualValues(t, 50_000, OSTicksPerSec)
	assert.EqualValues(t, 50, MsToTicks(1))
	assert.EqualValues(t, 5, UsToTicks(100))
	assert.Equal(t, time.Millisecond, TicksToDuration(50))
}

func TestDefaultClockIsMonotonic(t *testing.T) {
	h := New(testConfig)
	a := h.Ticks()
	time.Sleep(2 * time.Millisecond)
	b := h.Ticks()
	assert.GreaterOrEqual(t, b-a, MsToTicks(2))
}
