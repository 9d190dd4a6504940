// Package notify provides a coalescing change signal for push-style status
// streaming. Every state mutation bumps a sequence number and wakes all
// current waiters; slow consumers observe the latest state, not every step.
package notify

import (
	"sync"
)

// Notifier broadcasts change signals by closing the current wait channel.
type Notifier struct {
	mu  sync.Mutex
	ch  chan struct{}
	seq uint64
}

// NewNotifier creates a Notifier with sequence zero.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Notify wakes every goroutine waiting on the channel returned by Changed.
func (n *Notifier) Notify() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.seq++
	n.mu.Unlock()
}

// Changed returns a channel closed on the next Notify, together with the
// current sequence number. Callers select on the channel alongside their
// context to wait for changes.
func (n *Notifier) Changed() (<-chan struct{}, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch, n.seq
}

// Seq returns the current sequence number.
func (n *Notifier) Seq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}
