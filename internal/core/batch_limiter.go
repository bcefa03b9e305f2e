package core

// batch_limiter.go caps how many import batches run at once.
//
// Each batch is single-threaded, but the HTTP surface may accept several
// batches in parallel. A buffered channel acts as the semaphore; callers
// that cannot get a slot within maxWait fail with ErrTooManyBatches.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManyBatches is returned when every batch slot stays busy for the
// whole wait. Clients should retry after a short delay.
var ErrTooManyBatches = errors.New("too many import batches in progress, please try again later")

// DefaultMaxConcurrentBatches is the default limit for parallel batches.
const DefaultMaxConcurrentBatches = 4

// DefaultBatchWait is how long to wait for a slot before rejecting.
const DefaultBatchWait = 30 * time.Second

// BatchLimiter bounds concurrent import batches.
type BatchLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewBatchLimiter allows at most maxConcurrent batches at once. Callers
// wait up to maxWait for a slot.
func NewBatchLimiter(maxConcurrent int, maxWait time.Duration) *BatchLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentBatches
	}
	if maxWait <= 0 {
		maxWait = DefaultBatchWait
	}
	return &BatchLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must call Release exactly once after a
// nil return.
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManyBatches
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *BatchLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Do runs fn while holding a slot.
func (l *BatchLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// Active returns the number of running batches.
func (l *BatchLimiter) Active() int {
	return int(l.active.Load())
}

// Capacity returns the maximum number of concurrent batches.
func (l *BatchLimiter) Capacity() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no batch is running or ctx is done.
// Used during shutdown.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
