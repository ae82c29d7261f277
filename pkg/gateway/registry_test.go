package gateway

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisterResolve(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Resolve("run-1")
	assert.False(t, ok)

	r.Register("run-1", "http://localhost:3001")
	url, ok := r.Resolve("run-1")
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:3001", url)
	assert.Equal(t, 1, r.Size())
}

func TestRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()

	r.Register("run-1", "http://localhost:3001")
	r.Unregister("run-1")

	_, ok := r.Resolve("run-1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())

	// Unregistering an absent run is a no-op.
	r.Unregister("run-1")
	assert.Equal(t, 0, r.Size())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		id := fmt.Sprintf("run-%d", i)
		go func() {
			defer wg.Done()
			r.Register(id, "http://localhost:3001")
			r.Unregister(id)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Resolve(id)
				r.Size()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Size())
}
