// uartx/ringbuffer.go

// A single-producer single-consumer byte ring. The ISR is the only producer;
// consumers serialize on the owning UART's rxMu.

package uartx

import "sync/atomic"

// RingBuffer is a fixed-capacity byte FIFO. Put drops the incoming byte when
// the buffer is full, so bytes already queued are never overwritten.
type RingBuffer struct {
	buf     []byte
	head    atomic.Uint64 // total bytes written
	tail    atomic.Uint64 // total bytes read
	retired chan struct{} // closed when the owning UART replaces this buffer
}

// NewRingBuffer returns an empty buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		buf:     make([]byte, size),
		retired: make(chan struct{}),
	}
}

// Size returns the total capacity of the buffer in bytes.
func (rb *RingBuffer) Size() int { return len(rb.buf) }

// Used returns how many bytes are buffered.
func (rb *RingBuffer) Used() int {
	return int(rb.head.Load() - rb.tail.Load())
}

// Put stores a byte. If the buffer is already full, it returns false.
func (rb *RingBuffer) Put(val byte) bool {
	h := rb.head.Load()
	if h-rb.tail.Load() == uint64(len(rb.buf)) {
		return false
	}
	rb.buf[h%uint64(len(rb.buf))] = val // 1) write data
	rb.head.Store(h + 1)                // 2) publish
	return true
}

// Get returns the oldest byte, or (0, false) if the buffer is empty.
func (rb *RingBuffer) Get() (byte, bool) {
	t := rb.tail.Load()
	if rb.head.Load() == t {
		return 0, false
	}
	v := rb.buf[t%uint64(len(rb.buf))] // 1) read current element
	rb.tail.Store(t + 1)               // 2) publish consumption
	return v, true
}

// Clear discards buffered bytes. Consumer side only.
func (rb *RingBuffer) Clear() {
	rb.tail.Store(rb.head.Load())
}

func (rb *RingBuffer) retire() { close(rb.retired) }
