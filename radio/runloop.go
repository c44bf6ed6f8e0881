// radio/runloop.go

package radio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jangala-dev/tinygo-hwsync/irq"
)

// JobID identifies a posted job.
type JobID uint64

type job struct {
	id    JobID
	at    int64 // deadline in ticks; runnable jobs leave it 0
	timed bool
	fn    func()
}

// RunLoop is the MAC's cooperative scheduler. Jobs run one at a time on the
// goroutine calling Run; when nothing is due the loop sleeps on the HAL.
type RunLoop struct {
	h *HAL

	mu        sync.Mutex // never held while masking the controller
	next      JobID
	runnable  []job
	scheduled []job // ascending deadline, FIFO among equals
}

// NewRunLoop returns an empty loop parked on h.
func NewRunLoop(h *HAL) *RunLoop { return &RunLoop{h: h} }

// Post queues fn to run as soon as possible and resumes the loop. Task
// context.
func (l *RunLoop) Post(fn func()) JobID {
	id := l.add(job{fn: fn})
	l.h.Resume()
	return id
}

// PostFromISR is Post for interrupt handlers.
func (l *RunLoop) PostFromISR(intr irq.Interrupt, fn func()) JobID {
	id := l.add(job{fn: fn})
	l.h.ResumeFromISR(intr)
	return id
}

// PostAt queues fn to run once the tick counter reaches at.
func (l *RunLoop) PostAt(at int64, fn func()) JobID {
	id := l.add(job{at: at, timed: true, fn: fn})
	l.h.Resume()
	return id
}

func (l *RunLoop) add(j job) JobID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	j.id = l.next
	if !j.timed {
		l.runnable = append(l.runnable, j)
		return j.id
	}
	i := sort.Search(len(l.scheduled), func(i int) bool { return l.scheduled[i].at > j.at })
	l.scheduled = append(l.scheduled, job{})
	copy(l.scheduled[i+1:], l.scheduled[i:])
	l.scheduled[i] = j
	return j.id
}

// Cancel removes a job that has not started. It reports whether the job was
// found.
func (l *RunLoop) Cancel(id JobID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, q := range []*[]job{&l.runnable, &l.scheduled} {
		for i, j := range *q {
			if j.id == id {
				*q = append((*q)[:i], (*q)[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Pending returns the number of queued jobs.
func (l *RunLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.runnable) + len(l.scheduled)
}

// pick takes the next due job, or reports the earliest deadline.
func (l *RunLoop) pick() (j job, ok bool, deadline int64, timed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.runnable) > 0 {
		j = l.runnable[0]
		l.runnable = l.runnable[1:]
		return j, true, 0, false
	}
	if len(l.scheduled) == 0 {
		return job{}, false, 0, false
	}
	if l.h.CheckTimer(l.scheduled[0].at) {
		j = l.scheduled[0]
		l.scheduled = l.scheduled[1:]
		return j, true, 0, false
	}
	return job{}, false, l.scheduled[0].at, true
}

// RunOnce performs one scheduling step: run a due job, spin briefly for a
// timed job that is almost due, or sleep until resumed or ctx is done.
func (l *RunLoop) RunOnce(ctx context.Context) error {
	l.h.Rearm()

	l.h.DisableIRQs()
	j, ok, deadline, timed := l.pick()
	l.h.EnableIRQs()

	if ok {
		j.fn()
		return nil
	}
	if timed {
		remaining := deadline - l.h.Ticks()
		if remaining <= BusyWaitTicks {
			l.h.WaitUntil(deadline)
			return nil
		}
		t := time.AfterFunc(TicksToDuration(remaining-BusyWaitTicks), l.h.Resume)
		defer t.Stop()
	}
	return l.h.SleepContext(ctx)
}

// Run steps the loop until ctx is done.
func (l *RunLoop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.RunOnce(ctx); err != nil {
			return err
		}
	}
}
