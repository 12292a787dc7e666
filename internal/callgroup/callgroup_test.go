package callgroup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplication(t *testing.T) {
	var g Group[string, int]
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (int, error) {
		calls.Add(1)
		close(started)
		<-release
		return 42, nil
	}

	const n = 8
	chans := make([]<-chan Result[int], n)
	chans[0] = g.DoChan("reload", fn)
	<-started
	// DoChan registers joiners before returning.
	for i := 1; i < n; i++ {
		chans[i] = g.DoChan("reload", fn)
	}
	close(release)

	results := make([]Result[int], n)
	for i, ch := range chans {
		results[i] = <-ch
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("fn called %d times, want 1", got)
	}
	for i, r := range results {
		if r.Err != nil || r.Val != 42 {
			t.Errorf("caller %d got %+v", i, r)
		}
	}
	if results[0].Shared {
		t.Error("the executing caller should not see Shared")
	}
}

func TestIndependentKeys(t *testing.T) {
	var g Group[int, struct{}]
	var calls atomic.Int32
	fn := func() (struct{}, error) {
		calls.Add(1)
		return struct{}{}, nil
	}

	var wg sync.WaitGroup
	for _, key := range []int{1, 2, 3} {
		wg.Go(func() { <-g.DoChan(key, fn) })
	}
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("fn called %d times, want 3", got)
	}
}

func TestErrorSharedWithJoiners(t *testing.T) {
	var g Group[int, string]
	sentinel := errors.New("open failed")
	started := make(chan struct{})
	release := make(chan struct{})

	ch1 := g.DoChan(1, func() (string, error) {
		close(started)
		<-release
		return "", sentinel
	})
	<-started
	ch2 := g.DoChan(1, func() (string, error) {
		t.Error("second fn should not execute")
		return "", nil
	})
	close(release)

	if r := <-ch1; !errors.Is(r.Err, sentinel) {
		t.Errorf("caller 1: %v", r.Err)
	}
	r := <-ch2
	if !errors.Is(r.Err, sentinel) || !r.Shared {
		t.Errorf("caller 2: %+v", r)
	}
}

func TestKeyForgottenAfterCompletion(t *testing.T) {
	var g Group[int, int]
	var calls atomic.Int32
	fn := func() (int, error) { return int(calls.Add(1)), nil }

	a := <-g.DoChan(1, fn)
	b := <-g.DoChan(1, fn)
	if a.Val != 1 || b.Val != 2 {
		t.Errorf("got %d then %d, want 1 then 2", a.Val, b.Val)
	}
}

func TestDoHonoursContext(t *testing.T) {
	var g Group[int, int]
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, 1, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do = %v, want deadline exceeded", err)
	}
}

func TestDoReturnsValue(t *testing.T) {
	var g Group[string, string]
	v, err := g.Do(context.Background(), "k", func() (string, error) { return "gen-1", nil })
	if err != nil || v != "gen-1" {
		t.Errorf("Do = %q, %v", v, err)
	}
}
