// Package ratelimit implements the token-bucket rate limiter shared by the
// ingestion pipeline, search service, and recommendation engine. It
// implements a per-caller mutation rate limiter (a sliding
// window counter) into a continuous-refill token bucket with an optional
// FIFO wait queue, keyed by an arbitrary string (source host, client id,
// API route).
package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FailMode is the admission answer Check gives when no bucket can be
// obtained for a key. Bucket creation does not fail in this package (a
// full table evicts older buckets instead), so Check does not reach that
// path in practice.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// MaxUniqueKeys bounds the number of distinct buckets retained at once.
// Keys beyond this are evicted idle-past-TTL first, then LRU.
const MaxUniqueKeys = 10000

// BucketTTL is how long an idle bucket survives before it is eligible for
// eviction regardless of LRU order.
const BucketTTL = 30 * time.Minute

// queuePollInterval is how often the FIFO wait queue processor re-checks
// whether the head of the queue can be admitted.
const queuePollInterval = 100 * time.Millisecond

// ErrQueueFull is returned by Wait when a key's wait queue is at capacity.
var ErrQueueFull = errors.New("ratelimit: wait queue full")

// ErrTimeout is returned by Wait when the timeout elapses before enough
// tokens become available.
var ErrTimeout = errors.New("ratelimit: wait timed out")

// bucket is one key's token-bucket state.
type bucket struct {
	tokens      float64
	maxTokens   float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
	lastTouched time.Time
	elem        *list.Element // position in the LRU list
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// Limiter is a keyed token-bucket rate limiter with bounded memory and an
// optional FIFO wait queue per key.
type Limiter struct {
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	failMode   FailMode

	buckets map[string]*bucket
	lru     *list.List // front = most recently used

	queues map[string]*waitQueue
}

// New creates a Limiter with the given bucket capacity, refill rate
// (tokens/second), and fail mode (see FailMode). A never-seen key that
// arrives while the table is at MaxUniqueKeys evicts older buckets to
// make room.
func New(maxTokens, refillRate float64, failMode FailMode) *Limiter {
	return &Limiter{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		failMode:   failMode,
		buckets:    make(map[string]*bucket),
		lru:        list.New(),
		queues:     make(map[string]*waitQueue),
	}
}

// Check attempts to consume cost tokens from key's bucket, returning
// whether the request is admitted and the number of tokens remaining
// after the attempt.
func (l *Limiter) Check(key string, cost float64) (admitted bool, remaining float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := l.getOrCreateBucketLocked(key)
	if err != nil {
		return l.failMode == FailOpen, 0
	}

	now := time.Now()
	b.refill(now)
	b.lastTouched = now
	l.lru.MoveToFront(b.elem)

	if b.tokens >= cost {
		b.tokens -= cost
		return true, b.tokens
	}
	return false, b.tokens
}

// Result reports how Wait admitted a request: whether it had to queue
// behind other callers for the same key, and if so, how long it waited.
// Resolvers surface this as {queued, queue_wait_ms}.
type Result struct {
	Queued      bool
	QueueWaitMS int64
}

// Wait blocks until cost tokens become available for key, the queue
// capacity is exceeded, or timeout elapses. queueCap of 0 disables
// queueing entirely (Wait behaves like a blocking Check poll). The
// returned Result reports Queued=false when tokens were available on the
// first attempt, with no wait; Queued=true when the caller had to wait,
// in the per-key FIFO or (queueCap 0) by polling, with QueueWaitMS
// recording how long.
func (l *Limiter) Wait(ctx context.Context, key string, cost float64, timeout time.Duration, queueCap int) (Result, error) {
	if admitted, _ := l.Check(key, cost); admitted {
		return Result{Queued: false}, nil
	}
	if queueCap <= 0 {
		return l.pollUntilAdmitted(ctx, key, cost, timeout)
	}

	enqueuedAt := time.Now()
	entryID := uuid.NewString()
	q, err := l.enqueue(key, entryID, queueCap)
	if err != nil {
		return Result{}, err
	}
	defer l.dequeue(key, entryID)

	deadline := enqueuedAt.Add(timeout)
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return Result{}, ErrTimeout
			}
			if !q.isHead(entryID) {
				continue
			}
			if admitted, _ := l.Check(key, cost); admitted {
				return Result{Queued: true, QueueWaitMS: time.Since(enqueuedAt).Milliseconds()}, nil
			}
		}
	}
}

func (l *Limiter) pollUntilAdmitted(ctx context.Context, key string, cost float64, timeout time.Duration) (Result, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			if admitted, _ := l.Check(key, cost); admitted {
				return Result{Queued: true, QueueWaitMS: time.Since(start).Milliseconds()}, nil
			}
			if time.Now().After(deadline) {
				return Result{}, ErrTimeout
			}
		}
	}
}

// Remaining returns the current token count for key without consuming any.
func (l *Limiter) Remaining(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return l.maxTokens
	}
	b.refill(time.Now())
	return b.tokens
}

// getOrCreateBucketLocked must be called with l.mu held.
func (l *Limiter) getOrCreateBucketLocked(key string) (*bucket, error) {
	if b, ok := l.buckets[key]; ok {
		return b, nil
	}

	l.evictIfNeededLocked()

	b := &bucket{
		tokens:      l.maxTokens,
		maxTokens:   l.maxTokens,
		refillRate:  l.refillRate,
		lastRefill:  time.Now(),
		lastTouched: time.Now(),
	}
	b.elem = l.lru.PushFront(key)
	l.buckets[key] = b
	return b, nil
}

// evictIfNeededLocked drops idle-past-TTL buckets first, then the least
// recently used bucket, until the table is under MaxUniqueKeys. Must be
// called with l.mu held.
func (l *Limiter) evictIfNeededLocked() {
	if len(l.buckets) < MaxUniqueKeys {
		return
	}

	cutoff := time.Now().Add(-BucketTTL)
	for e := l.lru.Back(); e != nil; {
		prev := e.Prev()
		key := e.Value.(string)
		if b, ok := l.buckets[key]; ok && b.lastTouched.Before(cutoff) {
			delete(l.buckets, key)
			l.lru.Remove(e)
		}
		e = prev
	}

	for len(l.buckets) >= MaxUniqueKeys {
		back := l.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		delete(l.buckets, key)
		l.lru.Remove(back)
	}
}

// waitQueue is a FIFO admission queue for a single rate-limited key.
type waitQueue struct {
	mu  sync.Mutex
	ids []string
	cap int
}

func (l *Limiter) enqueue(key, entryID string, queueCap int) (*waitQueue, error) {
	l.mu.Lock()
	q, ok := l.queues[key]
	if !ok {
		q = &waitQueue{cap: queueCap}
		l.queues[key] = q
	}
	l.mu.Unlock()

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) >= q.cap {
		return nil, ErrQueueFull
	}
	q.ids = append(q.ids, entryID)
	return q, nil
}

func (l *Limiter) dequeue(key, entryID string) {
	l.mu.Lock()
	q, ok := l.queues[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.ids {
		if id == entryID {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

func (q *waitQueue) isHead(entryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids) > 0 && q.ids[0] == entryID
}
