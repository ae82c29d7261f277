// Package errdefs defines the error kinds used across the orchestrator.
// Errors are classified by wrapping one of the sentinels below with
// fmt.Errorf("...: %w", ...); callers test with the Is* helpers.
package errdefs

import "errors"

var (
	// ErrValidation marks a malformed request or an invalid generated file set.
	ErrValidation = errors.New("validation failed")

	// ErrGeneration marks a failed or timed-out code-generation call.
	ErrGeneration = errors.New("code generation failed")

	// ErrBuild marks a non-zero exit from the build container.
	ErrBuild = errors.New("build failed")

	// ErrStart marks a runtime container that failed to start or expose a port.
	ErrStart = errors.New("container start failed")

	// ErrHealth marks an exhausted health probe loop.
	ErrHealth = errors.New("health check failed")

	// ErrUnsafePath marks a workspace overlay path escape attempt.
	ErrUnsafePath = errors.New("unsafe path")

	// ErrExhausted marks an empty port pool.
	ErrExhausted = errors.New("port range exhausted")

	// ErrEngine marks a container engine that is unreachable or spoke garbage.
	ErrEngine = errors.New("container engine error")

	// ErrNotFound marks a missing session or run.
	ErrNotFound = errors.New("not found")
)

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsGeneration(err error) bool { return errors.Is(err, ErrGeneration) }
func IsBuild(err error) bool      { return errors.Is(err, ErrBuild) }
func IsStart(err error) bool      { return errors.Is(err, ErrStart) }
func IsHealth(err error) bool     { return errors.Is(err, ErrHealth) }
func IsUnsafePath(err error) bool { return errors.Is(err, ErrUnsafePath) }
func IsExhausted(err error) bool  { return errors.Is(err, ErrExhausted) }
func IsEngine(err error) bool     { return errors.Is(err, ErrEngine) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
