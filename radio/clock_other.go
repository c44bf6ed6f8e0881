//go:build !unix

package radio

import "time"

var epoch = time.Now()

func defaultClock() Clock {
	return ClockFunc(func() int64 { return time.Since(epoch).Microseconds() })
}
