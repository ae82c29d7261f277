package runtime

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerNames(t *testing.T) {
	assert.Equal(t, "build-run-1", BuildContainerName("run-1"))
	assert.Equal(t, "run-run-1", RunContainerName("run-1"))
}

func TestFakeBuildExec(t *testing.T) {
	f := NewFake()

	res, err := f.BuildExec(context.Background(), BuildSpec{RunID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Logs, BuildLogDelimiter)
	assert.Equal(t, 1, f.Builds())
}

func TestFakeBuildExecCancelable(t *testing.T) {
	f := NewFake()
	f.BuildDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.BuildExec(ctx, BuildSpec{RunID: "r1"})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("build did not honor cancellation")
	}
}

func TestFakeRunExecServesAndStops(t *testing.T) {
	f := NewFake()

	handle, err := f.RunExec(context.Background(), RunSpec{RunID: "r1", HostPort: 39871})
	require.NoError(t, err)
	assert.Equal(t, 39871, handle.HostPort)
	assert.Equal(t, 1, f.ActiveContainers())

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", handle.HostPort))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.Stop(context.Background(), handle, time.Second))
	assert.Equal(t, 0, f.ActiveContainers())

	// Idempotent stop.
	assert.NoError(t, f.Stop(context.Background(), handle, time.Second))
}
