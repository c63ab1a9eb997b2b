package stability

import "sync"

// SampleBuffer is a fixed-capacity ring of float64 samples. When full, a
// push evicts the oldest sample. One goroutine may push while another takes
// snapshots; the lock is held only for the O(1) mutation or the copy.
type SampleBuffer struct {
	mu     sync.Mutex
	buf    []float64
	cursor int
	count  int
}

// NewSampleBuffer allocates a buffer holding up to capacity samples.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleBuffer{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample when full.
func (b *SampleBuffer) Push(v float64) {
	b.mu.Lock()
	b.buf[b.cursor] = v
	b.cursor = (b.cursor + 1) % len(b.buf)
	if b.count < len(b.buf) {
		b.count++
	}
	b.mu.Unlock()
}

// Snapshot returns the samples from oldest to newest.
func (b *SampleBuffer) Snapshot() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float64, b.count)
	start := (b.cursor - b.count + len(b.buf)) % len(b.buf)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(start+i)%len(b.buf)]
	}
	return out
}

// Len returns the number of samples held.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity.
func (b *SampleBuffer) Cap() int {
	return len(b.buf)
}

// Full reports whether Len equals Cap.
func (b *SampleBuffer) Full() bool {
	return b.Len() == len(b.buf)
}

// Reset drops every sample.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.cursor = 0
	b.count = 0
	b.mu.Unlock()
}
