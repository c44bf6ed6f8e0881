//go:build unix

package radio

import "golang.org/x/sys/unix"

// monotonicClock reads CLOCK_MONOTONIC, which wall-clock adjustments do not
// move.
type monotonicClock struct{}

func (monotonicClock) Micros() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(err)
	}
	return ts.Nano() / 1_000
}

func defaultClock() Clock { return monotonicClock{} }
