// uartx/stats.go

package uartx

import "sync/atomic"

// Stats holds counters since the last reset.
type Stats struct {
	// ISR-level
	ISRCount      uint32 // ISR passes that drained at least one frame
	RxBytes       uint32 // frames drained from the hardware FIFO
	MaxDrain      uint32 // max frames drained in a single pass
	FramingErrors uint32 // frames discarded for framing errors
	StatusQueries uint32 // status query bytes answered
	Interrupts    uint32 // interrupt bytes seen, pending or not

	// Ring buffer
	RingPuts    uint32 // successful Put()s
	RingDrops   uint32 // failed Put()s (overflow)
	RingMaxUsed uint32 // high-water mark of ring occupancy

	// Blocking API behaviour
	ReadWaits     uint32 // times a reader had to wait
	SpuriousWakes uint32 // notify received but no data available
	Timeouts      uint32 // reads that gave up at their deadline
}

type stats struct {
	isrCount      atomic.Uint32
	rxBytes       atomic.Uint32
	maxDrain      atomic.Uint32
	framingErrors atomic.Uint32
	statusQueries atomic.Uint32
	interrupts    atomic.Uint32
	ringPuts      atomic.Uint32
	ringDrops     atomic.Uint32
	ringMaxUsed   atomic.Uint32
	readWaits     atomic.Uint32
	spuriousWakes atomic.Uint32
	timeouts      atomic.Uint32
}

// Stats returns a snapshot of the unit's counters.
func (u *UART) Stats() Stats {
	s := &u.stats
	return Stats{
		ISRCount:      s.isrCount.Load(),
		RxBytes:       s.rxBytes.Load(),
		MaxDrain:      s.maxDrain.Load(),
		FramingErrors: s.framingErrors.Load(),
		StatusQueries: s.statusQueries.Load(),
		Interrupts:    s.interrupts.Load(),

		RingPuts:    s.ringPuts.Load(),
		RingDrops:   s.ringDrops.Load(),
		RingMaxUsed: s.ringMaxUsed.Load(),

		ReadWaits:     s.readWaits.Load(),
		SpuriousWakes: s.spuriousWakes.Load(),
		Timeouts:      s.timeouts.Load(),
	}
}

// ResetStats zeroes the unit's counters.
func (u *UART) ResetStats() {
	s := &u.stats
	for _, c := range [...]*atomic.Uint32{
		&s.isrCount, &s.rxBytes, &s.maxDrain, &s.framingErrors,
		&s.statusQueries, &s.interrupts, &s.ringPuts, &s.ringDrops,
		&s.ringMaxUsed, &s.readWaits, &s.spuriousWakes, &s.timeouts,
	} {
		c.Store(0)
	}
}

func storeMax(c *atomic.Uint32, v uint32) {
	for {
		max := c.Load()
		if v <= max {
			return
		}
		if c.CompareAndSwap(max, v) {
			return
		}
	}
}
