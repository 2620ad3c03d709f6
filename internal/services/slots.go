package services

import (
	"context"
	"fmt"
)

// Slots is a token bucket bounding concurrent calls to the AI provider.
type Slots struct {
	ch chan struct{}
}

func NewSlots(n int) *Slots {
	if n <= 0 {
		n = 1
	}
	ch := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		ch <- struct{}{}
	}
	return &Slots{ch: ch}
}

// Acquire blocks until a slot is available
func (s *Slots) Acquire(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for AI slot: %w", ctx.Err())
	}
}

func (s *Slots) Release() {
	s.ch <- struct{}{}
}

func (s *Slots) Available() int {
	return len(s.ch)
}
