package metrics

import (
	"sync"
	"sync/atomic"
)

// cell memoizes one lazily created value. The first successful create wins
// and every later get returns that value with a single atomic load. A
// failed create stores nothing, so the next caller retries.
type cell[T any] struct {
	v  atomic.Pointer[T]
	mu sync.Mutex
}

func (c *cell[T]) get(create func() (T, error)) (T, error) {
	if p := c.v.Load(); p != nil {
		return *p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.v.Load(); p != nil {
		return *p, nil
	}
	v, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	c.v.Store(&v)
	return v, nil
}

func (c *cell[T]) loaded() bool {
	return c.v.Load() != nil
}
