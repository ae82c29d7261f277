package runtime

import (
	"context"
	"time"

	"github.com/arenabench/arena/pkg/types"
)

// Resource caps applied to the two container phases. Models cannot
// negotiate these.
const (
	// BuildCPUs / RunCPUs are whole cores.
	BuildCPUs = 2
	RunCPUs   = 1

	// PidsLimit bounds fork bombs in either phase.
	PidsLimit = 512

	// InternalPort is the port generated apps are told to serve on.
	InternalPort = 3000
)

// BuildLogDelimiter separates the install phase from the compile phase in
// the combined build log stream. The split is observational; the container
// runs install and compile as one invocation because they share a working
// tree.
const BuildLogDelimiter = "::arena-build-phase::"

// BuildSpec describes a one-shot build container: dependency fetch then
// compile, with registry network access and a read-write workspace mount.
type BuildSpec struct {
	RunID       string
	Workspace   string
	Image       string
	Env         []string
	MemoryBytes int64
}

// BuildResult carries the combined log stream and exit code of a finished
// build container. The container itself is removed before return.
type BuildResult struct {
	ExitCode int
	Logs     string
}

// RunSpec describes a long-lived runtime container: isolation network
// only, read-only workspace mount, all capabilities dropped.
type RunSpec struct {
	RunID       string
	Workspace   string
	Image       string
	Env         []string
	Network     string
	HostPort    int
	MemoryBytes int64
}

// ContainerState is the subset of engine-side container state the
// lifecycle engine inspects.
type ContainerState struct {
	Running  bool
	ExitCode int
	HostPort int
}

// Runtime is the contract over the local container engine. It is the
// single polymorphism boundary in the orchestrator: tests substitute the
// in-memory Fake.
type Runtime interface {
	// EnsureNetwork creates the named bridge isolation network if it does
	// not already exist. Idempotent.
	EnsureNetwork(ctx context.Context, name string) error

	// BuildExec runs the build container to completion and removes it,
	// returning the combined log stream and exit code. Cancellation stops
	// and removes the container.
	BuildExec(ctx context.Context, spec BuildSpec) (*BuildResult, error)

	// RunExec starts the runtime container with a host-port binding to the
	// internal port and returns its handle.
	RunExec(ctx context.Context, spec RunSpec) (*types.ContainerHandle, error)

	// Inspect reports current state and observed port binding.
	Inspect(ctx context.Context, handle *types.ContainerHandle) (*ContainerState, error)

	// Logs returns the accumulated log buffer of a container.
	Logs(ctx context.Context, handle *types.ContainerHandle) (string, error)

	// Stop stops (grace, then kill) and removes a container. Idempotent;
	// stopping an absent container is a no-op.
	Stop(ctx context.Context, handle *types.ContainerHandle, grace time.Duration) error

	// ReapStale removes leftover build-* / run-* containers from a
	// previous daemon, returning the number removed.
	ReapStale(ctx context.Context) (int, error)

	// Close releases the engine connection.
	Close() error
}

// BuildContainerName and RunContainerName derive the engine-side names
// used for post-crash reaping by prefix.
func BuildContainerName(runID string) string { return "build-" + runID }
func RunContainerName(runID string) string   { return "run-" + runID }
