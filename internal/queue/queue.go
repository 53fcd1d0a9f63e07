// Package queue implements a blocking queue keyed by timestamp. A producer
// puts values in any order; a consumer asks for the value at a specific
// timestamp and waits until it arrives. MaxLen bounds how far a producer
// can run ahead of the consumer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by every blocking call once the queue is closed.
	ErrClosed = errors.New("queue closed")
	// ErrTimeout is returned when a wait exceeds its timeout.
	ErrTimeout = errors.New("queue wait timed out")
	// ErrNotReady is returned by a non-blocking Get for an absent key.
	ErrNotReady = errors.New("timestamp not yet available")
	// ErrDuplicate is returned when a key already held is put again.
	ErrDuplicate = errors.New("timestamp already queued")
	// ErrStale is returned when a key at or before the last eviction is put.
	ErrStale = errors.New("timestamp already evicted")
)

// Options configure a Queue.
type Options struct {
	// MaxLen is the most entries held at once. Zero means unbounded.
	MaxLen int
	// PutTimeout bounds how long Put waits for room. Zero waits forever.
	PutTimeout time.Duration
}

// Queue is a timestamp-keyed blocking queue. It is safe for concurrent use.
type Queue[T any] struct {
	mu         sync.Mutex
	items      map[int64]T
	maxLen     int
	putTimeout time.Duration
	evicted    int64
	hasEvicted bool
	closed     bool
	// wake is closed and replaced on every state change.
	wake chan struct{}
}

// New returns an empty queue.
func New[T any](opts Options) *Queue[T] {
	return &Queue[T]{
		items:      make(map[int64]T),
		maxLen:     opts.MaxLen,
		putTimeout: opts.PutTimeout,
		wake:       make(chan struct{}),
	}
}

// Put stores v at t, waiting while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, t time.Time, v T) error {
	key := t.UnixNano()

	var deadline <-chan time.Time
	if q.putTimeout > 0 {
		timer := time.NewTimer(q.putTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if _, ok := q.items[key]; ok {
			q.mu.Unlock()
			return ErrDuplicate
		}
		if q.hasEvicted && key <= q.evicted {
			q.mu.Unlock()
			return ErrStale
		}
		if q.maxLen <= 0 || len(q.items) < q.maxLen {
			q.items[key] = v
			q.broadcastLocked()
			q.mu.Unlock()
			return nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get returns the value at t without removing it. With block false it
// returns ErrNotReady immediately when t is absent; otherwise it waits up
// to timeout, or forever when timeout is zero.
func (q *Queue[T]) Get(ctx context.Context, t time.Time, block bool, timeout time.Duration) (T, error) {
	key := t.UnixNano()
	var zero T

	var deadline <-chan time.Time
	if block && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if v, ok := q.items[key]; ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if !block {
			q.mu.Unlock()
			return zero, ErrNotReady
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Evict drops every entry at or before t and wakes waiting producers.
func (q *Queue[T]) Evict(t time.Time) int {
	key := t.UnixNano()
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for k := range q.items {
		if k <= key {
			delete(q.items, k)
			n++
		}
	}
	if !q.hasEvicted || key > q.evicted {
		q.evicted = key
		q.hasEvicted = true
	}
	q.broadcastLocked()
	return n
}

// Close wakes every waiter with ErrClosed. Values already queued can still
// be read. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

// Len returns the number of entries held.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}
