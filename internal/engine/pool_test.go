package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolRunsAllTasks(t *testing.T) {
	pool := NewPool(4, nil)

	var count atomic.Int64
	for i := 0; i < 20; i++ {
		pool.Go(func() { count.Add(1) })
	}
	pool.Wait()

	assert.Equal(t, int64(20), count.Load())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2, nil)

	var mu sync.Mutex
	var active, peak int

	for i := 0; i < 10; i++ {
		pool.Go(func() {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		})
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestPoolUnboundedWhenSizeZero(t *testing.T) {
	pool := NewPool(0, nil)

	var count atomic.Int64
	for i := 0; i < 8; i++ {
		pool.Go(func() { count.Add(1) })
	}
	pool.Wait()

	assert.Equal(t, int64(8), count.Load())
}

func TestPoolRecoversPanic(t *testing.T) {
	pool := NewPool(1, nil)

	var ran atomic.Bool
	pool.Go(func() { panic("boom") })
	pool.Go(func() { ran.Store(true) })
	pool.Wait()

	assert.True(t, ran.Load())
}
