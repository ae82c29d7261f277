package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/types"
)

// Fake is an in-memory Runtime for tests. It simulates build exits, port
// bindings, and (optionally) a real HTTP listener on the bound host port
// so health probes behave deterministically.
type Fake struct {
	mu sync.Mutex

	// BuildExitCode and BuildLogs shape the result of BuildExec.
	BuildExitCode int
	BuildLogs     string

	// BuildErr, when set, fails BuildExec before any container exists.
	BuildErr error

	// BuildDelay stalls BuildExec, honoring context cancellation, to let
	// tests kill a run mid-build.
	BuildDelay time.Duration

	// StartErr, when set, fails RunExec.
	StartErr error

	// StartDelay stalls RunExec without honoring context cancellation,
	// mimicking an engine create/start call that cannot be interrupted
	// once issued.
	StartDelay time.Duration

	// Serve controls whether runtime containers answer health probes with
	// 200 on their bound host port.
	Serve bool

	// RunLogs is returned by Logs for runtime containers.
	RunLogs string

	networks   map[string]bool
	containers map[string]*fakeContainer
	builds     int
	reaped     int
}

type fakeContainer struct {
	runID    string
	hostPort int
	server   *http.Server
	listener net.Listener
}

// NewFake returns a Fake whose builds succeed and whose runtime containers
// serve HTTP.
func NewFake() *Fake {
	return &Fake{
		BuildLogs:  "added 214 packages\n" + BuildLogDelimiter + "\ncompiled successfully\n",
		Serve:      true,
		RunLogs:    "ready on port 3000\n",
		networks:   make(map[string]bool),
		containers: make(map[string]*fakeContainer),
	}
}

var _ Runtime = (*Fake)(nil)

func (f *Fake) EnsureNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return nil
}

func (f *Fake) BuildExec(ctx context.Context, spec BuildSpec) (*BuildResult, error) {
	f.mu.Lock()
	delay := f.BuildDelay
	buildErr := f.BuildErr
	f.builds++
	f.mu.Unlock()

	if buildErr != nil {
		return nil, buildErr
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return &BuildResult{ExitCode: f.BuildExitCode, Logs: f.BuildLogs}, nil
}

func (f *Fake) RunExec(ctx context.Context, spec RunSpec) (*types.ContainerHandle, error) {
	f.mu.Lock()
	delay := f.StartDelay
	startErr := f.StartErr
	f.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	id := "fake-" + RunContainerName(spec.RunID)
	fc := &fakeContainer{runID: spec.RunID, hostPort: spec.HostPort}

	if f.Serve {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", spec.HostPort))
		if err != nil {
			return nil, fmt.Errorf("%w: fake listener: %v", errdefs.ErrStart, err)
		}
		srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})}
		go func() { _ = srv.Serve(ln) }()
		fc.listener = ln
		fc.server = srv
	}

	f.containers[id] = fc
	return &types.ContainerHandle{
		ContainerID: id,
		HostPort:    spec.HostPort,
		InternalIP:  "172.28.0.2",
	}, nil
}

func (f *Fake) Inspect(ctx context.Context, handle *types.ContainerHandle) (*ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fc, ok := f.containers[handle.ContainerID]
	if !ok {
		return nil, fmt.Errorf("%w: container %s", errdefs.ErrNotFound, handle.ContainerID)
	}
	return &ContainerState{Running: true, HostPort: fc.hostPort}, nil
}

func (f *Fake) Logs(ctx context.Context, handle *types.ContainerHandle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.containers[handle.ContainerID]; !ok {
		return "", fmt.Errorf("%w: container %s", errdefs.ErrNotFound, handle.ContainerID)
	}
	return f.RunLogs, nil
}

func (f *Fake) Stop(ctx context.Context, handle *types.ContainerHandle, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fc, ok := f.containers[handle.ContainerID]
	if !ok {
		return nil
	}
	if fc.server != nil {
		_ = fc.server.Close()
	}
	delete(f.containers, handle.ContainerID)
	return nil
}

func (f *Fake) ReapStale(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.containers)
	for id, fc := range f.containers {
		if fc.server != nil {
			_ = fc.server.Close()
		}
		delete(f.containers, id)
	}
	f.reaped += n
	return n, nil
}

func (f *Fake) Close() error {
	_, _ = f.ReapStale(context.Background())
	return nil
}

// ActiveContainers returns the number of live runtime containers.
func (f *Fake) ActiveContainers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// Builds returns how many build containers were executed.
func (f *Fake) Builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}
