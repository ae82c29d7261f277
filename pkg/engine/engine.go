package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/gateway"
	"github.com/arenabench/arena/pkg/generator"
	"github.com/arenabench/arena/pkg/log"
	"github.com/arenabench/arena/pkg/metrics"
	"github.com/arenabench/arena/pkg/ports"
	"github.com/arenabench/arena/pkg/probe"
	"github.com/arenabench/arena/pkg/runtime"
	"github.com/arenabench/arena/pkg/store"
	"github.com/arenabench/arena/pkg/types"
	"github.com/arenabench/arena/pkg/workspace"
)

// errSuperseded signals that a transition lost the race against a kill;
// the lifecycle goroutine unwinds without touching anything else.
var errSuperseded = errors.New("run already terminal")

// logTailBytes bounds how much build log tail is packed into error text.
const logTailBytes = 1000

// Config holds the engine's tunables.
type Config struct {
	// Host is the host part of internal URLs handed to the gateway.
	Host string

	// IsolationNetwork is the bridge network runtime containers join.
	IsolationNetwork string

	// BuildImage is used for both container phases.
	BuildImage string

	// BuildMemory / RunMemory are the phase memory caps in bytes.
	BuildMemory int64
	RunMemory   int64

	// Probe controls the health-check loop.
	Probe probe.Config

	// StopGrace is the graceful container stop window before force-kill.
	StopGrace time.Duration

	// PreviewDomain derives the public preview URL of ready runs.
	PreviewDomain string
}

// DefaultConfig returns the documented engine defaults.
func DefaultConfig() Config {
	return Config{
		Host:          "localhost",
		BuildMemory:   4 << 30,
		RunMemory:     2 << 30,
		Probe:         probe.DefaultConfig(),
		StopGrace:     10 * time.Second,
		PreviewDomain: "preview.localhost",
	}
}

// Deps are the collaborating components the engine drives.
type Deps struct {
	Store      *store.Store
	Ports      *ports.Allocator
	Workspaces *workspace.Manager
	Runtime    runtime.Runtime
	Gateway    *gateway.Registry
	Generator  generator.Generator
	Notifier   *Notifier
}

// Engine drives each run through its lifecycle. One goroutine per run;
// each run is a sequential state machine and the engine is the only
// writer of run status.
type Engine struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Probe.Attempts == 0 {
		cfg.Probe = probe.DefaultConfig()
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		logger:  log.WithComponent("engine"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// StartSession kicks off every run in a session.
func (e *Engine) StartSession(sessionID string) error {
	view, err := e.deps.Store.Session(sessionID)
	if err != nil {
		return err
	}
	for _, r := range view.Runs {
		if err := e.StartRun(r.ID); err != nil {
			e.logger.Warn().Err(err).Str("run_id", r.ID).Msg("failed to start run")
		}
	}
	return nil
}

// StartRun launches the lifecycle goroutine for a run. A run may be
// started from queued, or restarted from a terminal state; starting a run
// that is already in flight is an error.
func (e *Engine) StartRun(runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, running := e.cancels[runID]; running {
		return fmt.Errorf("run %s already in progress", runID)
	}

	r, err := e.deps.Store.Run(runID)
	if err != nil {
		return err
	}
	if r.Status != types.RunStatusQueued && !r.Status.Terminal() {
		return fmt.Errorf("run %s is %s; only queued or terminal runs can start", runID, r.Status)
	}

	if r.Status.Terminal() {
		// Restart: reset the record to a fresh queued run.
		if _, err := e.deps.Store.UpdateRun(runID, func(r *types.Run) {
			e.trackStatus(r.Status, types.RunStatusQueued)
			r.Status = types.RunStatusQueued
			r.Port = 0
			r.Container = nil
			r.InternalURL = ""
			r.PublicURL = ""
			r.Error = ""
			r.LogsInstall, r.LogsBuild, r.LogsStart, r.LogsError = "", "", "", ""
			r.StartedAt = nil
			r.CompletedAt = nil
		}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[runID] = cancel
	e.wg.Add(1)
	go e.runLifecycle(ctx, runID)
	return nil
}

// Kill terminates a run from any state: cancel the lifecycle goroutine,
// stop the container (grace then force), unregister, release the port,
// delete the workspace. Killing an already-terminal run is a no-op that
// reports success.
func (e *Engine) Kill(runID string) error {
	r, err := e.deps.Store.Run(runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}

	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
		delete(e.cancels, runID)
	}
	e.mu.Unlock()

	// The owned resources are captured inside the terminated commit: the
	// lifecycle goroutine can attach a container right up to the moment
	// this closure runs, and never after it, because every forward
	// transition refuses to commit over a terminal status.
	now := time.Now()
	var owned *types.Run
	_, err = e.deps.Store.UpdateRun(runID, func(r *types.Run) {
		if r.Status.Terminal() {
			return
		}
		owned = r.Clone()
		e.trackStatus(r.Status, types.RunStatusTerminated)
		r.Status = types.RunStatusTerminated
		r.Port = 0
		r.Container = nil
		r.InternalURL = ""
		r.PublicURL = ""
		r.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	if owned == nil {
		// Lost the race to a concurrent kill or failure; that path owns
		// the cleanup.
		return nil
	}
	e.cleanup(owned)

	metrics.RunsCompleted.WithLabelValues("terminated").Inc()
	e.notify(runID)
	e.logger.Info().Str("run_id", runID).Msg("run terminated")
	return nil
}

// Shutdown cancels every in-flight run and stops all active containers in
// parallel, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range e.deps.Store.ListRuns() {
		if r.Container == nil {
			continue
		}
		wg.Add(1)
		go func(r *types.Run) {
			defer wg.Done()
			e.cleanup(r)
		}(r)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLifecycle drives one run through the state machine. Every failure
// path converges on failRun; a lost race against Kill unwinds silently.
func (e *Engine) runLifecycle(ctx context.Context, runID string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, runID)
		e.mu.Unlock()
	}()

	logger := log.WithRunID(runID)

	r, err := e.deps.Store.Run(runID)
	if err != nil {
		logger.Error().Err(err).Msg("run vanished before start")
		return
	}

	// queued → generating
	now := time.Now()
	if err := e.advance(runID, types.RunStatusGenerating, func(r *types.Run) {
		r.StartedAt = &now
	}); err != nil {
		return
	}

	files, err := e.deps.Generator.Generate(ctx, e.prompt(r), r.Provider, r.Model)
	if err != nil {
		if ctx.Err() != nil {
			return // killed mid-generation; Kill owns cleanup
		}
		e.failRun(runID, fmt.Errorf("%w: %v", errdefs.ErrGeneration, err))
		return
	}
	if err := generator.ValidateFiles(files); err != nil {
		e.failRun(runID, err)
		return
	}

	// generating → installing
	if err := e.advance(runID, types.RunStatusInstalling, nil); err != nil {
		return
	}
	dir, err := e.deps.Workspaces.Materialize(runID, files)
	if err != nil {
		e.failRun(runID, err)
		return
	}

	// installing → building: the build container is one invocation doing
	// install then compile; the delimiter in its log stream separates the
	// two buffers after the fact.
	if err := e.advance(runID, types.RunStatusBuilding, nil); err != nil {
		return
	}
	buildStart := time.Now()
	result, err := e.deps.Runtime.BuildExec(ctx, runtime.BuildSpec{
		RunID:       runID,
		Workspace:   dir,
		Image:       e.cfg.BuildImage,
		MemoryBytes: e.cfg.BuildMemory,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.failRun(runID, fmt.Errorf("%w: %v", errdefs.ErrBuild, err))
		return
	}
	metrics.BuildDuration.Observe(time.Since(buildStart).Seconds())

	installLog, buildLog := splitBuildLog(result.Logs)
	if _, err := e.deps.Store.UpdateRun(runID, func(r *types.Run) {
		r.LogsInstall = installLog
		r.LogsBuild = buildLog
	}); err != nil {
		return
	}

	if result.ExitCode != 0 {
		e.failRun(runID, fmt.Errorf("%w: build exited with code %d: %s",
			errdefs.ErrBuild, result.ExitCode, tail(result.Logs, logTailBytes)))
		return
	}

	// building → starting
	port, err := e.deps.Ports.Allocate()
	if err != nil {
		e.failRun(runID, err)
		return
	}
	metrics.PortsAllocated.Set(float64(e.deps.Ports.Used()))

	handle, err := e.deps.Runtime.RunExec(ctx, runtime.RunSpec{
		RunID:       runID,
		Workspace:   dir,
		Image:       e.cfg.BuildImage,
		Network:     e.cfg.IsolationNetwork,
		HostPort:    port,
		MemoryBytes: e.cfg.RunMemory,
	})
	if err != nil {
		// The port is released before the failure is published.
		e.deps.Ports.Release(port)
		metrics.PortsAllocated.Set(float64(e.deps.Ports.Used()))
		if ctx.Err() != nil {
			return
		}
		e.failRun(runID, fmt.Errorf("%w: %v", errdefs.ErrStart, err))
		return
	}
	metrics.ActiveContainers.Inc()

	internalURL := fmt.Sprintf("http://%s:%d", e.cfg.Host, port)
	if err := e.advance(runID, types.RunStatusStarting, func(r *types.Run) {
		r.Port = port
		r.Container = handle
		r.InternalURL = internalURL
	}); err != nil {
		e.stopContainer(handle)
		e.deps.Ports.Release(port)
		metrics.PortsAllocated.Set(float64(e.deps.Ports.Used()))
		return
	}

	// starting → healthy
	attempts, err := probe.WaitHealthy(ctx, internalURL, e.cfg.Probe)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.failRun(runID, err)
		return
	}
	metrics.HealthProbeAttempts.Observe(float64(attempts))
	if err := e.advance(runID, types.RunStatusHealthy, nil); err != nil {
		return
	}

	// healthy → ready: the registry entry appears in the same critical
	// section that flips the status, so any reader that observes ready
	// will resolve successfully.
	completed := time.Now()
	if err := e.advance(runID, types.RunStatusReady, func(r *types.Run) {
		r.PublicURL = fmt.Sprintf("http://%s.%s", runID, e.cfg.PreviewDomain)
		r.CompletedAt = &completed
		e.deps.Gateway.Register(runID, internalURL)
	}); err != nil {
		e.deps.Gateway.Unregister(runID)
		metrics.GatewayEntries.Set(float64(e.deps.Gateway.Size()))
		return
	}
	metrics.GatewayEntries.Set(float64(e.deps.Gateway.Size()))
	metrics.RunsCompleted.WithLabelValues("ready").Inc()

	logger.Info().Int("port", port).Msg("run ready")
}

// advance commits one forward transition and notifies the UI. It refuses
// the write when the run turned terminal underneath us (kill race) and
// reports that with errSuperseded.
func (e *Engine) advance(runID string, next types.RunStatus, mutate func(*types.Run)) error {
	superseded := false
	_, err := e.deps.Store.UpdateRun(runID, func(r *types.Run) {
		if !r.Status.CanTransition(next) {
			superseded = true
			return
		}
		e.trackStatus(r.Status, next)
		r.Status = next
		if mutate != nil {
			mutate(r)
		}
	})
	if err != nil {
		return err
	}
	if superseded {
		return errSuperseded
	}
	e.notify(runID)
	return nil
}

// failRun is the single failure sink: record the error, then release
// everything the run owns. Unregister precedes the terminal transition.
func (e *Engine) failRun(runID string, cause error) {
	e.logger.Warn().Err(cause).Str("run_id", runID).Msg("run failed")

	r, err := e.deps.Store.Run(runID)
	if err != nil {
		return
	}
	e.cleanup(r)

	now := time.Now()
	_, _ = e.deps.Store.UpdateRun(runID, func(r *types.Run) {
		if r.Status.Terminal() {
			return
		}
		e.trackStatus(r.Status, types.RunStatusFailed)
		r.Status = types.RunStatusFailed
		r.Error = cause.Error()
		r.LogsError = cause.Error()
		r.Port = 0
		r.Container = nil
		r.InternalURL = ""
		r.PublicURL = ""
		r.CompletedAt = &now
	})

	metrics.RunsCompleted.WithLabelValues("failed").Inc()
	e.notify(runID)
}

// cleanup releases every resource a run snapshot holds. Safe to call
// multiple times and on runs that hold nothing.
func (e *Engine) cleanup(r *types.Run) {
	e.deps.Gateway.Unregister(r.ID)
	metrics.GatewayEntries.Set(float64(e.deps.Gateway.Size()))

	if r.Container != nil {
		e.stopContainer(r.Container)
	}
	if r.Port != 0 {
		e.deps.Ports.Release(r.Port)
		metrics.PortsAllocated.Set(float64(e.deps.Ports.Used()))
	}
	if err := e.deps.Workspaces.Remove(r.ID); err != nil {
		e.logger.Warn().Err(err).Str("run_id", r.ID).Msg("workspace removal failed")
	}
}

func (e *Engine) stopContainer(handle *types.ContainerHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.StopGrace+30*time.Second)
	defer cancel()
	if err := e.deps.Runtime.Stop(ctx, handle, e.cfg.StopGrace); err != nil {
		e.logger.Warn().Err(err).Str("container_id", handle.ContainerID).Msg("container stop failed")
		return
	}
	metrics.ActiveContainers.Dec()
}

func (e *Engine) notify(runID string) {
	if e.deps.Notifier == nil {
		return
	}
	if r, err := e.deps.Store.Run(runID); err == nil {
		e.deps.Notifier.RunUpdated(r)
	}
}

func (e *Engine) prompt(r *types.Run) string {
	view, err := e.deps.Store.Session(r.SessionID)
	if err != nil {
		return ""
	}
	return view.Prompt
}

func (e *Engine) trackStatus(old, next types.RunStatus) {
	metrics.RunsByStatus.WithLabelValues(string(old)).Dec()
	metrics.RunsByStatus.WithLabelValues(string(next)).Inc()
}

// splitBuildLog separates the combined build stream into install and
// compile halves at the delimiter. Without a delimiter the whole stream
// lands in the install buffer.
func splitBuildLog(logs string) (install, build string) {
	idx := strings.Index(logs, runtime.BuildLogDelimiter)
	if idx < 0 {
		return logs, ""
	}
	install = logs[:idx]
	build = strings.TrimPrefix(logs[idx+len(runtime.BuildLogDelimiter):], "\n")
	return install, build
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
