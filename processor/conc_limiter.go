package processor

import (
	"sync"
)

// ConcLimiter bounds the number of goroutines a stage runs at once.
type ConcLimiter struct {
	*sync.WaitGroup
	Pool chan struct{}
}

func NewConcLimiter(cLevel int) *ConcLimiter {
	if cLevel < 1 {
		cLevel = 1
	}
	var wg sync.WaitGroup
	return &ConcLimiter{&wg, make(chan struct{}, cLevel)}
}

func (c *ConcLimiter) Increase() {
	c.Add(1)
	c.Pool <- struct{}{}
}

func (c *ConcLimiter) Decrease() {
	select {
	case <-c.Pool:
		c.Done()
	default:
	}
}
