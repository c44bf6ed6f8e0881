// uartx/report.go

package uartx

// ReportDrops logs, at warning level, the bytes each unit has dropped on
// overflow since the previous report. Reports are rate limited per unit;
// a suppressed delta is carried into the next allowed report. Task context
// only.
func (d *Driver) ReportDrops() {
	d.reportMu.Lock()
	defer d.reportMu.Unlock()

	for i, u := range d.units {
		if u.port == nil {
			continue
		}
		drops := uint64(u.stats.ringDrops.Load())
		if drops < d.reported[i] {
			// counters were reset
			d.reported[i] = 0
		}
		delta := drops - d.reported[i]
		if delta == 0 {
			continue
		}
		if _, ok := d.limiter.Allow(u.name); !ok {
			continue
		}
		d.reported[i] = drops
		d.log.Warning().
			Str("uart", u.name).
			Uint64("dropped", delta).
			Int("queue", u.QueueSize()).
			Log("rx queue overflow")
	}
}
