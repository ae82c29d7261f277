package ports

import (
	"sync"
	"testing"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateLowestFirst(t *testing.T) {
	a, err := NewAllocator(3001, 3005)
	require.NoError(t, err)

	p1, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3001, p1)

	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3002, p2)

	// Releasing the lower port makes it the next grant again.
	a.Release(p1)
	p3, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 3001, p3)
}

func TestExhaustion(t *testing.T) {
	a, err := NewAllocator(4000, 4001)
	require.NoError(t, err)

	_, err = a.Allocate()
	require.NoError(t, err)
	_, err = a.Allocate()
	require.NoError(t, err)

	_, err = a.Allocate()
	assert.True(t, errdefs.IsExhausted(err))
	assert.Equal(t, 2, a.Used())
}

func TestReleaseIdempotent(t *testing.T) {
	a, err := NewAllocator(3001, 3010)
	require.NoError(t, err)

	p, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 1, a.Used())

	a.Release(p)
	a.Release(p)
	a.Release(99999) // out of range, no-op
	assert.Equal(t, 0, a.Used())

	// Allocate/release returns the allocator to its prior state.
	p2, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p, p2)
}

func TestInvalidRange(t *testing.T) {
	_, err := NewAllocator(0, 100)
	assert.Error(t, err)

	_, err = NewAllocator(4000, 3001)
	assert.Error(t, err)
}

func TestConcurrentGrantsAreCollisionFree(t *testing.T) {
	a, err := NewAllocator(3001, 3100)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int]bool)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate()
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p], "port %d granted twice", p)
			seen[p] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	assert.Equal(t, 100, a.Used())
}
