package types

import (
	"time"
)

// Provider identifies a model provider recognized by the arena.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderXAI       Provider = "xai"
	ProviderMeta      Provider = "meta"
	ProviderDeepSeek  Provider = "deepseek"
)

// KnownProviders is the set of providers accepted at session creation.
var KnownProviders = map[Provider]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderGoogle:    true,
	ProviderXAI:       true,
	ProviderMeta:      true,
	ProviderDeepSeek:  true,
}

// ModelRef is a (provider, model) pair competing in a session.
type ModelRef struct {
	Provider Provider `json:"provider" yaml:"provider"`
	Model    string   `json:"model" yaml:"model"`
}

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusGenerating RunStatus = "generating"
	RunStatusInstalling RunStatus = "installing"
	RunStatusBuilding   RunStatus = "building"
	RunStatusStarting   RunStatus = "starting"
	RunStatusHealthy    RunStatus = "healthy"
	RunStatusReady      RunStatus = "ready"
	RunStatusFailed     RunStatus = "failed"
	RunStatusTerminated RunStatus = "terminated"
)

// Terminal reports whether the status is a sink state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusFailed || s == RunStatusTerminated
}

// statusRank orders the forward transitions; terminal states sit above
// every forward state so a terminal run never moves again.
var statusRank = map[RunStatus]int{
	RunStatusQueued:     0,
	RunStatusGenerating: 1,
	RunStatusInstalling: 2,
	RunStatusBuilding:   3,
	RunStatusStarting:   4,
	RunStatusHealthy:    5,
	RunStatusReady:      6,
	RunStatusFailed:     7,
	RunStatusTerminated: 7,
}

// CanTransition reports whether moving from s to next respects the state
// machine: forward-only, with failed/terminated reachable from any
// non-terminal state.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return statusRank[next] == statusRank[s]+1
}

// ContainerHandle references a runtime container owned by a run.
type ContainerHandle struct {
	ContainerID string `json:"containerId"`
	HostPort    int    `json:"hostPort"`
	InternalIP  string `json:"internalIp,omitempty"`
}

// Run is one (prompt, provider, model) triple undergoing the lifecycle.
//
// The lifecycle engine is the only writer of Status. Port is non-zero iff
// Container is non-nil; Container is non-nil iff Status is one of
// starting/healthy/ready.
type Run struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Provider  Provider  `json:"provider"`
	Model     string    `json:"model"`
	Status    RunStatus `json:"status"`

	Port        int              `json:"port,omitempty"`
	Container   *ContainerHandle `json:"container,omitempty"`
	InternalURL string           `json:"internalUrl,omitempty"`
	PublicURL   string           `json:"publicUrl,omitempty"`
	Error       string           `json:"error,omitempty"`

	LogsInstall string `json:"logsInstall,omitempty"`
	LogsBuild   string `json:"logsBuild,omitempty"`
	LogsStart   string `json:"logsStart,omitempty"`
	LogsError   string `json:"logsError,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	c := *r
	if r.Container != nil {
		h := *r.Container
		c.Container = &h
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Session groups the runs spawned by one user submission. The session owns
// a list of run identifiers only; runs are resolved by id on read to avoid
// cyclic ownership.
type Session struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	RunIDs    []string  `json:"runIds"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.RunIDs = append([]string(nil), s.RunIDs...)
	return &c
}

// SessionView is a session with its runs joined by latest state, as served
// to the polling UI.
type SessionView struct {
	Session
	Runs []*Run `json:"runs"`
}
