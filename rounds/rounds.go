// Package rounds supplies the logical clock. Engines never look at wall
// time; the execution substrate hands them a monotonically increasing
// round number and this package carries it.
package rounds

import "sync/atomic"

// Source yields the current round.
type Source interface {
	Current() int64
}

// Func adapts a plain function to a Source.
type Func func() int64

func (f Func) Current() int64 { return f() }

// Counter is an in-process monotonic round counter. It stands in for the
// substrate's clock when the engines run self-contained, e.g. in tests.
type Counter struct {
	n atomic.Int64
}

func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

func (c *Counter) Current() int64 {
	return c.n.Load()
}

// Advance moves the clock forward one round and returns the new value.
func (c *Counter) Advance() int64 {
	return c.n.Add(1)
}

// AdvanceTo moves the clock forward to n. Attempts to move it backwards
// are ignored; the clock never regresses.
func (c *Counter) AdvanceTo(n int64) {
	for {
		cur := c.n.Load()
		if n <= cur {
			return
		}
		if c.n.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Fixed returns a Source pinned to a single round.
func Fixed(n int64) Source {
	return Func(func() int64 { return n })
}
