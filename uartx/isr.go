// uartx/isr.go

package uartx

import "github.com/jangala-dev/tinygo-hwsync/irq"

// handleInterrupt is the shared receive ISR. It drains every enabled unit's
// hardware FIFO; nothing here blocks, logs, or takes a unit lock.
func (d *Driver) handleInterrupt(intr irq.Interrupt) {
	for _, u := range d.units {
		if u.port == nil || State(u.state.Load()) != InterruptsEnabled {
			continue
		}
		u.drain(intr)
	}
}

func (u *UART) drain(irq.Interrupt) {
	rb := u.rx.Load()
	drained := 0
	queued := false

	for {
		f, ok := u.port.Receive()
		if !ok {
			break
		}
		drained++
		if f.FramingErr {
			u.stats.framingErrors.Add(1)
			continue
		}

		switch f.Data {
		case ctrlStatusQuery:
			u.stats.statusQueries.Add(1)
			_, _ = u.port.Transmit([]byte(u.d.status() + "\r\n"))
			continue
		case ctrlInterrupt:
			u.stats.interrupts.Add(1)
			u.raiseSignal()
			continue
		}

		if rb.Put(f.Data) {
			u.stats.ringPuts.Add(1)
			storeMax(&u.stats.ringMaxUsed, uint32(rb.Used()))
			queued = true
		} else {
			u.stats.ringDrops.Add(1)
		}
	}

	if drained == 0 {
		return
	}
	u.stats.isrCount.Add(1)
	u.stats.rxBytes.Add(uint32(drained))
	storeMax(&u.stats.maxDrain, uint32(drained))

	if queued {
		u.wake()
	}
}

// raiseSignal posts the interrupt signal unless one is already pending.
func (u *UART) raiseSignal() {
	select {
	case u.sigs <- struct{}{}:
		if u.d.signal != nil {
			u.d.signal(u.unit)
		}
	default:
	}
}

// wake posts the coalesced readiness notification.
func (u *UART) wake() {
	select {
	case u.notify <- struct{}{}:
	default:
	}
}
