package session

import "sync"

// Ledger is the append-only sample buffer for one recording session. The
// capture side appends, the scheduler reads snapshot slices; a mutex
// synchronises the two so a snapshot never observes a partially written
// append.
type Ledger struct {
	mu      sync.Mutex
	samples []float32
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds samples to the end of the ledger. There is no capacity bound
// other than session duration.
func (l *Ledger) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, samples...)
}

// Len returns the current number of samples.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Slice returns a copy of the samples from offset to the current end. The
// offset is clamped into range; the copy is safe to hand to a worker
// goroutine while appends continue.
func (l *Ledger) Slice(offset int) []float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > len(l.samples) {
		offset = len(l.samples)
	}
	out := make([]float32, len(l.samples)-offset)
	copy(out, l.samples[offset:])
	return out
}

// Reset discards all samples. Called at the start of a new session.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = nil
}
