package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var ErrBarrierTimeout = fmt.Errorf("timed out waiting for barrier to be lowered")

// Barrier suspends arrivals while it is raised
type Barrier struct {
	mu     sync.Mutex
	raised bool
	open   chan struct{}
}

func NewBarrier() *Barrier {
	b := &Barrier{open: make(chan struct{})}
	close(b.open)
	return b
}

func (b *Barrier) Raise() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.raised {
		b.raised = true
		b.open = make(chan struct{})
	}
}

func (b *Barrier) Lower() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.raised {
		b.raised = false
		close(b.open)
	}
}

func (b *Barrier) Raised() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raised
}

// Arrive returns immediately if the barrier is lowered and otherwise waits for it
// to be lowered, at most timeout.
func (b *Barrier) Arrive(ctx context.Context, timeout time.Duration) error {
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-open:
		return nil
	case <-timer.C:
		return ErrBarrierTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
