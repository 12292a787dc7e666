// Package callgroup collapses concurrent calls that share a key.
//
// While a call for a key is in flight, later callers for the same key
// wait for it and receive its result instead of starting their own. Once
// the call returns the key is forgotten, so the next caller runs fn again.
package callgroup

import (
	"context"
	"sync"
)

// Result is what a call produced.
type Result[V any] struct {
	Val V
	Err error
	// Shared is true when the result came from another caller's call.
	Shared bool
}

// Group deduplicates concurrent calls by key. The zero value is ready to use.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// DoChan runs fn unless a call for key is already in flight, in which
// case it joins that call. The channel receives exactly one Result and is
// never closed.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	ch := make(chan Result[V], 1)

	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		go func() {
			<-c.done
			ch <- Result[V]{Val: c.val, Err: c.err, Shared: true}
		}()
		return ch
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn()

		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)

		ch <- Result[V]{Val: c.val, Err: c.err}
	}()
	return ch
}

// Do is DoChan that blocks until the call finishes or ctx is done. A
// caller that gives up does not cancel the call; it keeps running for the
// others.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	select {
	case r := <-g.DoChan(key, fn):
		return r.Val, r.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
