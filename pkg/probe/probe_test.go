package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		Timeout:  time.Second,
		Interval: 5 * time.Millisecond,
		Attempts: attempts,
	}
}

func TestWaitHealthyImmediate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	attempts, err := WaitHealthy(context.Background(), server.URL, fastConfig(3))
	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWaitHealthyAfterWarmup(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	attempts, err := WaitHealthy(context.Background(), server.URL, fastConfig(10))
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 3)
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestWaitHealthyExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	attempts, err := WaitHealthy(context.Background(), server.URL, fastConfig(4))
	require.Error(t, err)
	assert.True(t, errdefs.IsHealth(err))
	assert.Equal(t, 4, attempts)
	assert.Equal(t, int32(4), hits.Load())
}

func TestWaitHealthyConnectionRefusedCountsAsMiss(t *testing.T) {
	// Point at a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := WaitHealthy(context.Background(), url, fastConfig(2))
	assert.True(t, errdefs.IsHealth(err))
}

func TestWaitHealthyCancelable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := WaitHealthy(ctx, server.URL, Config{Timeout: time.Second, Interval: time.Minute, Attempts: 30})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("probe loop did not honor cancellation")
	}
}
