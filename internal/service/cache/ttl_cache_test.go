package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrFetchCachesWithinTTL(t *testing.T) {
	c := New[int]()
	ctx := context.Background()
	calls := 0

	fetch := func(context.Context) (int, error) {
		calls++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrFetch(ctx, "k", time.Minute, fetch)
		if err != nil {
			t.Fatal(err)
		}
		if v != 42 {
			t.Fatalf("got %d, want 42", v)
		}
	}
	if calls != 1 {
		t.Errorf("fetch invoked %d times, want 1", calls)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits 1 miss", st)
	}
}

func TestExpiredEntryTriggersExactlyOneRefetch(t *testing.T) {
	c := New[string]()
	ctx := context.Background()
	calls := 0

	fetch := func(context.Context) (string, error) {
		calls++
		return "v", nil
	}

	if _, err := c.GetOrFetch(ctx, "k", 30*time.Millisecond, fetch); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrFetch(ctx, "k", 30*time.Millisecond, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("fetch invoked %d times before expiry, want 1", calls)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := c.GetOrFetch(ctx, "k", 30*time.Millisecond, fetch); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fetch invoked %d times after expiry, want 2", calls)
	}
}

// Request collapsing: N concurrent callers for the same cold key produce
// exactly one upstream invocation, and every caller sees its result.
func TestConcurrentCallersCollapse(t *testing.T) {
	c := New[int]()
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrFetch(ctx, "k", time.Minute, fetch)
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let all callers pile onto the pending entry
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("fetch invoked %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != 7 {
			t.Fatalf("caller %d got %d, want 7", i, results[i])
		}
	}
}

func TestFailedFillIsNotCached(t *testing.T) {
	c := New[int]()
	ctx := context.Background()
	boom := errors.New("upstream down")
	calls := 0

	if _, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) {
		calls++
		return 0, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fill error, got %v", err)
	}

	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) {
		calls++
		return 9, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != 9 || calls != 2 {
		t.Errorf("got v=%d calls=%d, want 9 and 2", v, calls)
	}
}

func TestWaitersObserveFillFailure(t *testing.T) {
	c := New[int]()
	ctx := context.Background()
	boom := errors.New("nope")
	release := make(chan struct{})

	go func() {
		_, _ = c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) {
			<-release
			return 0, boom
		})
	}()
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) {
			t.Error("waiter must not trigger its own fetch while a fill is pending")
			return 0, nil
		})
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if err := <-done; !errors.Is(err, boom) {
		t.Errorf("waiter got %v, want fill error", err)
	}
}

func TestWaiterHonoursCancellation(t *testing.T) {
	c := New[int]()
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = c.GetOrFetch(context.Background(), "k", time.Minute, func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) { return 0, nil })
	if err != context.DeadlineExceeded {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestPutReplacesEntry(t *testing.T) {
	c := New[int]()
	ctx := context.Background()

	c.Put("k", 5, time.Minute)
	v, err := c.GetOrFetch(ctx, "k", time.Minute, func(context.Context) (int, error) {
		t.Error("fetch must not run for a warm entry")
		return 0, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 {
		t.Errorf("got %d, want 5", v)
	}
}

func TestDistinctKeysFetchIndependently(t *testing.T) {
	c := New[string]()
	ctx := context.Background()

	blockA := make(chan struct{})
	go func() {
		_, _ = c.GetOrFetch(ctx, "a", time.Minute, func(context.Context) (string, error) {
			<-blockA
			return "a", nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	// A pending fill for "a" must not serialize a fetch of "b".
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := c.GetOrFetch(ctx, "b", time.Minute, func(context.Context) (string, error) { return "b", nil })
		if err != nil || v != "b" {
			t.Errorf("b fetch: v=%q err=%v", v, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fetch of b blocked behind pending fill of a")
	}
	close(blockA)
}
