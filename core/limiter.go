package core

import (
	"context"
)

// SpawnLimiter enforces a process wide ceiling on concurrently running
// delegated sessions. Acquisition blocks until a slot frees up or the
// context is cancelled, so a burst of delegations queues instead of failing.
// If max <= 0, delegation is unlimited.
type SpawnLimiter struct {
	slots chan struct{}
}

// NewSpawnLimiter creates a limiter admitting at most max concurrent
// delegated sessions.
func NewSpawnLimiter(max int) *SpawnLimiter {
	if max <= 0 {
		return &SpawnLimiter{}
	}

	return &SpawnLimiter{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is available or ctx is done. On cancellation
// it returns a classified error without consuming a slot.
func (l *SpawnLimiter) Acquire(ctx context.Context) error {
	if l.slots == nil {
		return nil
	}

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return WrapError(CodeCancelled, "waiting for delegation slot", ctx.Err())
	}
}

// TryAcquire takes a slot without blocking and reports whether it got one.
// Nested delegations use this instead of Acquire: a delegation chain holds a
// slot per level, so queueing would wait on the chain's own ancestors.
func (l *SpawnLimiter) TryAcquire() bool {
	if l.slots == nil {
		return true
	}

	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a previously acquired slot. Releasing without a matching
// Acquire breaks the limiter accounting and is rejected.
func (l *SpawnLimiter) Release() {
	if l.slots == nil {
		return
	}

	select {
	case <-l.slots:
	default:
		panic("core: SpawnLimiter.Release without matching Acquire")
	}
}

// InUse returns the number of currently held slots. Zero for an unlimited
// limiter.
func (l *SpawnLimiter) InUse() int {
	if l.slots == nil {
		return 0
	}

	return len(l.slots)
}
