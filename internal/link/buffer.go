package link

import "github.com/rs/zerolog/log"

// ringBuffer is a fixed-capacity FIFO that stores output lines while the
// port cannot be written.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	buf      []string
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any line was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]string, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(line string) {
	if r.count == r.capacity {
		if !r.overflow {
			log.Warn().Int("capacity", r.capacity).Msg("link: replay buffer full, dropping oldest")
			r.overflow = true
		}
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = line
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = line
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []string {
	if r.count == 0 {
		return nil
	}

	result := make([]string, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
