// radio/ticks.go

package radio

import "time"

// The radio stack counts time in OS ticks of 20 µs: three periods of the
// 150 kHz RTC.
const (
	UsPerOSTick   = 20
	OSTicksPerSec = 1_000_000 / UsPerOSTick
)

// BusyWaitTicks is the horizon below which the run loop spins on a timed
// job instead of sleeping.
const BusyWaitTicks = 2000 / UsPerOSTick

// Clock is a monotonic microsecond source.
type Clock interface {
	Micros() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Micros() int64 { return f() }

// UsToTicks converts microseconds to ticks, rounding down.
func UsToTicks(us int64) int64 { return us / UsPerOSTick }

// MsToTicks converts milliseconds to ticks.
func MsToTicks(ms int64) int64 { return ms * 1000 / UsPerOSTick }

// TicksToDuration converts ticks to a time.Duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(ticks) * UsPerOSTick * time.Microsecond
}

// Ticks returns the current time in OS ticks.
func (h *HAL) Ticks() int64 { return h.clock.Micros() / UsPerOSTick }

// CheckTimer reports whether target has been reached.
func (h *HAL) CheckTimer(target int64) bool { return h.Ticks() >= target }

// WaitUntil busy-waits until target is reached, pausing about a microsecond
// per iteration.
func (h *HAL) WaitUntil(target int64) {
	for !h.CheckTimer(target) {
		time.Sleep(time.Microsecond)
	}
}
