package poller

import "sync/atomic"

// Latest is a single-slot cell holding the newest value. Store never blocks
// and overwrites any value not yet read; there is no queue behind it.
type Latest[T any] struct {
	p atomic.Pointer[T]
}

// Store publishes v, replacing the previous value.
func (l *Latest[T]) Store(v T) {
	l.p.Store(&v)
}

// Load returns the newest value and whether one was ever stored.
func (l *Latest[T]) Load() (T, bool) {
	p := l.p.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
