package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/log"
	"github.com/arenabench/arena/pkg/types"
)

const (
	// DefaultSocketPath is the default Docker engine socket
	DefaultSocketPath = "/var/run/docker.sock"

	// labelRunID tags every container with its owning run for reaping.
	labelRunID = "arena.run.id"
)

// DockerRuntime implements Runtime against a local Docker engine.
type DockerRuntime struct {
	client *client.Client
	logger zerolog.Logger
}

// NewDockerRuntime connects to the Docker engine at socketPath.
func NewDockerRuntime(socketPath string) (*DockerRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to docker: %v", errdefs.ErrEngine, err)
	}

	return &DockerRuntime{client: cli, logger: log.WithComponent("runtime")}, nil
}

// Close closes the engine connection.
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureNetwork creates the bridge isolation network if missing.
// Masquerading is disabled so containers on it have no route out; host
// port publishing still works for inbound preview traffic.
func (r *DockerRuntime) EnsureNetwork(ctx context.Context, name string) error {
	_, err := r.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("%w: failed to inspect network %s: %v", errdefs.ErrEngine, name, err)
	}

	_, err = r.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.enable_ip_masquerade": "false",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create network %s: %v", errdefs.ErrEngine, name, err)
	}
	return nil
}

// BuildExec runs "install then compile" as a single container invocation
// and blocks until it exits. The install/compile phases share one working
// tree, so they must be atomic; the delimiter echoed between them lets the
// engine split the combined stream into the two log buffers.
func (r *DockerRuntime) BuildExec(ctx context.Context, spec BuildSpec) (*BuildResult, error) {
	name := BuildContainerName(spec.RunID)
	cmd := fmt.Sprintf("npm install 2>&1 && echo '%s' && npm run build 2>&1", BuildLogDelimiter)

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        strslice.StrSlice{"sh", "-c", cmd},
		WorkingDir: "/app",
		Env:        spec.Env,
		Labels:     map[string]string{labelRunID: spec.RunID},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{spec.Workspace + ":/app"},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  BuildCPUs * 1e9,
			PidsLimit: pidsLimit(),
		},
	}

	id, err := r.createWithPull(ctx, cfg, hostCfg, nil, name)
	if err != nil {
		return nil, err
	}

	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		r.removeQuiet(id)
		return nil, fmt.Errorf("%w: failed to start build container: %v", errdefs.ErrEngine, err)
	}

	exitCode, err := r.waitExit(ctx, id)
	if err != nil {
		r.removeQuiet(id)
		return nil, err
	}

	logs, err := r.readLogs(ctx, id)
	r.removeQuiet(id)
	if err != nil {
		return nil, err
	}

	return &BuildResult{ExitCode: exitCode, Logs: logs}, nil
}

// RunExec starts the long-lived runtime container: isolation network only,
// read-only workspace, all capabilities dropped, no privilege escalation.
func (r *DockerRuntime) RunExec(ctx context.Context, spec RunSpec) (*types.ContainerHandle, error) {
	name := RunContainerName(spec.RunID)
	internal := nat.Port(fmt.Sprintf("%d/tcp", InternalPort))

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          strslice.StrSlice{"npm", "run", "start"},
		WorkingDir:   "/app",
		Env:          append([]string{fmt.Sprintf("PORT=%d", InternalPort)}, spec.Env...),
		ExposedPorts: nat.PortSet{internal: struct{}{}},
		Labels:       map[string]string{labelRunID: spec.RunID},
	}
	hostCfg := &container.HostConfig{
		Binds:       []string{spec.Workspace + ":/app:ro"},
		NetworkMode: container.NetworkMode(spec.Network),
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(spec.HostPort),
			}},
		},
		CapDrop:     strslice.StrSlice{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  RunCPUs * 1e9,
			PidsLimit: pidsLimit(),
		},
	}

	id, err := r.createWithPull(ctx, cfg, hostCfg, nil, name)
	if err != nil {
		return nil, err
	}

	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		r.removeQuiet(id)
		return nil, fmt.Errorf("%w: failed to start runtime container: %v", errdefs.ErrStart, err)
	}

	inspect, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		r.removeQuiet(id)
		return nil, fmt.Errorf("%w: failed to inspect runtime container: %v", errdefs.ErrEngine, err)
	}

	handle := &types.ContainerHandle{
		ContainerID: id,
		HostPort:    spec.HostPort,
	}
	if inspect.NetworkSettings != nil {
		if ep, ok := inspect.NetworkSettings.Networks[spec.Network]; ok {
			handle.InternalIP = ep.IPAddress
		}
	}
	return handle, nil
}

// Inspect reports the container's running state and observed host port.
func (r *DockerRuntime) Inspect(ctx context.Context, handle *types.ContainerHandle) (*ContainerState, error) {
	inspect, err := r.client.ContainerInspect(ctx, handle.ContainerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: container %s", errdefs.ErrNotFound, handle.ContainerID)
		}
		return nil, fmt.Errorf("%w: failed to inspect container: %v", errdefs.ErrEngine, err)
	}

	state := &ContainerState{}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.ExitCode = inspect.State.ExitCode
	}
	if inspect.NetworkSettings != nil {
		for _, bindings := range inspect.NetworkSettings.Ports {
			for _, b := range bindings {
				if p, err := strconv.Atoi(b.HostPort); err == nil {
					state.HostPort = p
				}
			}
		}
	}
	return state, nil
}

// Logs returns the container's accumulated stdout+stderr.
func (r *DockerRuntime) Logs(ctx context.Context, handle *types.ContainerHandle) (string, error) {
	return r.readLogs(ctx, handle.ContainerID)
}

// Stop stops the container with the given grace period, force-kills on
// timeout, then removes it. Absent containers are treated as already
// stopped.
func (r *DockerRuntime) Stop(ctx context.Context, handle *types.ContainerHandle, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := r.client.ContainerStop(ctx, handle.ContainerID, container.StopOptions{Timeout: &seconds})
	if err != nil && !client.IsErrNotFound(err) {
		// Removal below force-kills anyway; log and continue.
		r.logger.Warn().Err(err).
			Str("container_id", handle.ContainerID).Msg("graceful stop failed")
	}

	err = r.client.ContainerRemove(ctx, handle.ContainerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("%w: failed to remove container: %v", errdefs.ErrEngine, err)
	}
	return nil
}

// ReapStale force-removes every labeled container left over from a
// previous daemon. Called once at startup, before the port pool is opened.
func (r *DockerRuntime) ReapStale(ctx context.Context) (int, error) {
	list, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelRunID)),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list containers: %v", errdefs.ErrEngine, err)
	}

	reaped := 0
	for _, c := range list {
		err := r.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			r.logger.Warn().Err(err).
				Str("container_id", c.ID).Msg("failed to reap stale container")
			continue
		}
		reaped++
	}
	return reaped, nil
}

// createWithPull creates the container, pulling the image first if the
// engine does not have it.
func (r *DockerRuntime) createWithPull(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, name string) (string, error) {
	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err == nil {
		return resp.ID, nil
	}
	if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("%w: failed to create container %s: %v", errdefs.ErrEngine, name, err)
	}

	rc, err := r.client.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: failed to pull image %s: %v", errdefs.ErrEngine, cfg.Image, err)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	resp, err = r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create container %s: %v", errdefs.ErrEngine, name, err)
	}
	return resp.ID, nil
}

// waitExit blocks until the container stops and returns its exit code.
func (r *DockerRuntime) waitExit(ctx context.Context, id string) (int, error) {
	waitCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("%w: wait failed: %s", errdefs.ErrEngine, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: wait failed: %v", errdefs.ErrEngine, err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// readLogs fetches and demultiplexes the container's log stream.
func (r *DockerRuntime) readLogs(ctx context.Context, id string) (string, error) {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", fmt.Errorf("%w: container %s", errdefs.ErrNotFound, id)
		}
		return "", fmt.Errorf("%w: failed to fetch logs: %v", errdefs.ErrEngine, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("%w: failed to read log stream: %v", errdefs.ErrEngine, err)
	}
	return buf.String(), nil
}

func (r *DockerRuntime) removeQuiet(id string) {
	// Cleanup must not inherit a canceled context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		r.logger.Warn().Err(err).
			Str("container_id", id).Msg("failed to remove container")
	}
}

func pidsLimit() *int64 {
	v := int64(PidsLimit)
	return &v
}
