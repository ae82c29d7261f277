// Package ports manages the pool of host ports handed to runtime
// containers. The allocator is process-local; after a daemon restart the
// pool is rebuilt empty once the runtime adapter has reaped stale
// containers.
package ports

import (
	"fmt"
	"sync"

	"github.com/arenabench/arena/pkg/errdefs"
)

// Allocator hands out host ports from an inclusive range [min, max].
type Allocator struct {
	mu    sync.Mutex
	min   int
	max   int
	inUse map[int]bool
}

// NewAllocator creates an allocator over [min, max].
func NewAllocator(min, max int) (*Allocator, error) {
	if min <= 0 || max < min {
		return nil, fmt.Errorf("invalid port range [%d, %d]", min, max)
	}
	return &Allocator{
		min:   min,
		max:   max,
		inUse: make(map[int]bool),
	}, nil
}

// Allocate returns the lowest free port in the range and marks it used.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; p <= a.max; p++ {
		if !a.inUse[p] {
			a.inUse[p] = true
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d ports in [%d, %d] allocated",
		errdefs.ErrExhausted, a.max-a.min+1, a.min, a.max)
}

// Release returns a port to the pool. Releasing a free or out-of-range
// port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}

// Used returns the number of currently allocated ports.
func (a *Allocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}

// Range returns the configured inclusive bounds.
func (a *Allocator) Range() (min, max int) {
	return a.min, a.max
}
