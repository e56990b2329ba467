package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCheck_AdmitsWithinCapacity(t *testing.T) {
	l := New(5, 1, FailClosed)
	for i := 0; i < 5; i++ {
		admitted, _ := l.Check("k1", 1)
		if !admitted {
			t.Fatalf("request %d should be admitted", i)
		}
	}
	admitted, remaining := l.Check("k1", 1)
	if admitted {
		t.Fatal("6th request should be rejected")
	}
	if remaining >= 1 {
		t.Errorf("remaining = %v, want < 1", remaining)
	}
}

func TestCheck_RefillsOverTime(t *testing.T) {
	l := New(1, 10, FailClosed) // 10 tokens/sec refill
	admitted, _ := l.Check("k1", 1)
	if !admitted {
		t.Fatal("first request should be admitted")
	}
	admitted, _ = l.Check("k1", 1)
	if admitted {
		t.Fatal("immediate second request should be rejected")
	}
	time.Sleep(150 * time.Millisecond)
	admitted, _ = l.Check("k1", 1)
	if !admitted {
		t.Fatal("request after refill window should be admitted")
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := New(1, 1, FailClosed)
	l.Check("a", 1)
	admitted, _ := l.Check("b", 1)
	if !admitted {
		t.Fatal("separate key should have its own bucket")
	}
}

func TestWait_AdmitsAfterRefill(t *testing.T) {
	l := New(1, 20, FailClosed) // refills a token every 50ms
	l.Check("k1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	result, err := l.Wait(ctx, "k1", 1, time.Second, 0)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if !result.Queued {
		t.Error("Wait should report Queued=true after blocking for a refill")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Wait took too long: %v", time.Since(start))
	}
}

func TestWait_TimesOut(t *testing.T) {
	l := New(1, 0.01, FailClosed) // effectively no refill within the test window
	l.Check("k1", 1)

	ctx := context.Background()
	_, err := l.Wait(ctx, "k1", 1, 200*time.Millisecond, 0)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestWait_QueueFullReturnsError(t *testing.T) {
	l := New(1, 0.001, FailClosed)
	l.Check("k1", 1) // drain the bucket

	ctx := context.Background()
	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		close(started)
		_, err := l.Wait(ctx, "k1", 1, 2*time.Second, 1)
		errCh <- err
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the goroutine occupy the single queue slot

	_, err := l.Wait(ctx, "k1", 1, 50*time.Millisecond, 1)
	if err != ErrQueueFull {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
}

// TestWait_ReportsQueueWaitMS exercises the literal worked example: a
// {max_tokens: 1, refill: 1/sec} bucket drained by one immediate Check,
// then four Wait(cost=1, timeout=10s) calls issued back to back (the
// draining Check stands in for the first, unqueued call). The first
// queued caller admits on the next refill (~1s), and each subsequent
// caller waits roughly one more refill interval behind it.
func TestWait_ReportsQueueWaitMS(t *testing.T) {
	l := New(1, 1, FailClosed)
	l.Check("k1", 1) // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const callers = 4
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Wait(ctx, "k1", 1, 10*time.Second, callers)
		}(i)
		time.Sleep(2 * time.Millisecond) // preserve FIFO enqueue order
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: Wait returned error: %v", i, err)
		}
		if !results[i].Queued {
			t.Errorf("caller %d: Queued = false, want true", i)
		}
		wantMS := int64(1000 * (i + 1))
		if diff := results[i].QueueWaitMS - wantMS; diff < -400 || diff > 400 {
			t.Errorf("caller %d: QueueWaitMS = %d, want ~%d (±400ms)", i, results[i].QueueWaitMS, wantMS)
		}
	}
}

func TestRemaining_ReturnsMaxForUnseenKey(t *testing.T) {
	l := New(42, 1, FailClosed)
	if got := l.Remaining("never-seen"); got != 42 {
		t.Errorf("Remaining = %v, want 42", got)
	}
}

func TestEviction_BoundsBucketCount(t *testing.T) {
	l := New(1, 1, FailOpen)
	for i := 0; i < MaxUniqueKeys+100; i++ {
		l.Check(keyFor(i), 1)
	}
	l.mu.Lock()
	count := len(l.buckets)
	l.mu.Unlock()
	if count > MaxUniqueKeys {
		t.Errorf("bucket count = %d, want <= %d", count, MaxUniqueKeys)
	}
}

func keyFor(i int) string {
	return fmt.Sprintf("key-%d", i)
}
