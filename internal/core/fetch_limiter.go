package core

// fetch_limiter.go bounds how many sheet refreshes run at once.
//
// Polls and manual refreshes share a small semaphore. A refresh that
// cannot get a slot within maxWait fails with ErrFetchBusy instead of
// piling more requests onto the spreadsheet host. WaitForDrain lets
// shutdown wait for in-flight refreshes.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFetchBusy is returned when every refresh slot stays occupied for the
// whole wait period.
var ErrFetchBusy = errors.New("refresh already in progress, too many concurrent fetches")

// DefaultMaxConcurrentFetches is the default number of parallel refreshes.
const DefaultMaxConcurrentFetches = 2

// DefaultMaxFetchWait is how long a refresh waits for a slot.
const DefaultMaxFetchWait = 10 * time.Second

// FetchLimiter is a counting semaphore for refreshes.
type FetchLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewFetchLimiter allows at most maxConcurrent refreshes. Non-positive
// arguments select the defaults.
func NewFetchLimiter(maxConcurrent int, maxWait time.Duration) *FetchLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentFetches
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxFetchWait
	}

	return &FetchLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire blocks until a slot is free, ctx is done or maxWait passes.
// Every successful Acquire must be paired with Release.
func (l *FetchLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrFetchBusy
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *FetchLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *FetchLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of refreshes holding a slot.
func (l *FetchLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *FetchLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *FetchLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until no refresh is running or ctx is done.
func (l *FetchLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchLimiterStatus is a point-in-time view of the limiter.
type FetchLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports the limiter state for /api/snapshot and debugging.
func (l *FetchLimiter) Status() FetchLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return FetchLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
