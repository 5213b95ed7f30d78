package audio

import (
	"sync"
)

// RingBuffer is a fixed-capacity FIFO byte buffer used to cut microphone
// chunks of arbitrary size into fixed-size analysis frames
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	head  int // next read position
	count int // bytes stored
}

// NewRingBuffer creates a ring buffer holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write appends as much of data as fits and returns the number of bytes stored
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(rb.buf) - rb.count
	if n > len(data) {
		n = len(data)
	}
	tail := (rb.head + rb.count) % len(rb.buf)
	first := copy(rb.buf[tail:], data[:n])
	copy(rb.buf, data[first:n])
	rb.count += n
	return n
}

// Read moves up to len(p) bytes into p and returns the number read
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.readLocked(p)
}

// ReadFull reads exactly len(p) bytes, or nothing if fewer are buffered
func (rb *RingBuffer) ReadFull(p []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count < len(p) {
		return false
	}
	rb.readLocked(p)
	return true
}

func (rb *RingBuffer) readLocked(p []byte) int {
	n := rb.count
	if n > len(p) {
		n = len(p)
	}
	end := rb.head + n
	if end <= len(rb.buf) {
		copy(p, rb.buf[rb.head:end])
	} else {
		first := copy(p, rb.buf[rb.head:])
		copy(p[first:n], rb.buf)
	}
	rb.head = (rb.head + n) % len(rb.buf)
	rb.count -= n
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Space returns the number of bytes that can still be written
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.count
}

// Clear drops all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}
