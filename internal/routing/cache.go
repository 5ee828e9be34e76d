package routing

import "sync"

// programCache memoizes compiled expression artifacts by their source text,
// so each engine compiles a given expression at most once. The zero value is
// ready to use. Holding the lock across compilation keeps concurrent callers
// from compiling the same source twice.
type programCache[T any] struct {
	mu       sync.Mutex
	programs map[string]T
}

func (c *programCache[T]) lookup(src string, compile func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		var zero T
		return zero, err
	}
	if c.programs == nil {
		c.programs = make(map[string]T)
	}
	c.programs[src] = p
	return p, nil
}
