// Package store is the in-memory record of every session and run: the
// single source of truth the UI polls. Mutations are serialized under one
// lock; reads return snapshots, so a poll may observe sibling runs at
// slightly different instants.
package store

import (
	"fmt"
	"time"

	"dario.cat/mergo"
	"sync"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/types"
)

// Store holds sessions and runs keyed by identifier.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	runs     map[string]*types.Run
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		runs:     make(map[string]*types.Run),
	}
}

// CreateSession inserts a session and its runs atomically.
func (s *Store) CreateSession(session *types.Session, runs []*types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	for _, r := range runs {
		if _, exists := s.runs[r.ID]; exists {
			return fmt.Errorf("run %s already exists", r.ID)
		}
	}

	s.sessions[session.ID] = session.Clone()
	for _, r := range runs {
		s.runs[r.ID] = r.Clone()
	}
	return nil
}

// Session returns a session with its runs joined by latest state.
func (s *Store) Session(id string) (*types.SessionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", errdefs.ErrNotFound, id)
	}

	view := &types.SessionView{Session: *sess.Clone()}
	for _, runID := range sess.RunIDs {
		if r, ok := s.runs[runID]; ok {
			view.Runs = append(view.Runs, r.Clone())
		}
	}
	return view, nil
}

// Run returns a snapshot of a single run.
func (s *Store) Run(id string) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", errdefs.ErrNotFound, id)
	}
	return r.Clone(), nil
}

// UpdateRun applies mutate to a run under the store lock and bumps
// updated_at on both the run and its parent session. The returned run is a
// snapshot.
func (s *Store) UpdateRun(id string, mutate func(*types.Run)) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", errdefs.ErrNotFound, id)
	}

	mutate(r)
	s.touch(r)
	return r.Clone(), nil
}

// PatchRun merges a partial record into a run; non-zero fields of patch
// win. Used by the HTTP PATCH endpoint where the caller supplies a delta.
func (s *Store) PatchRun(id string, patch *types.Run) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", errdefs.ErrNotFound, id)
	}

	if err := mergo.Merge(r, *patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge run update: %w", err)
	}
	s.touch(r)
	return r.Clone(), nil
}

// DeleteRun removes a run. The parent session survives until explicitly
// deleted or until its last run is purged.
func (s *Store) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: run %s", errdefs.ErrNotFound, id)
	}
	delete(s.runs, id)

	if sess, ok := s.sessions[r.SessionID]; ok {
		remaining := sess.RunIDs[:0]
		for _, runID := range sess.RunIDs {
			if runID != id {
				remaining = append(remaining, runID)
			}
		}
		sess.RunIDs = remaining
		sess.UpdatedAt = time.Now()
		if len(sess.RunIDs) == 0 {
			delete(s.sessions, sess.ID)
		}
	}
	return nil
}

// DeleteSession removes a session and all of its runs.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", errdefs.ErrNotFound, id)
	}
	for _, runID := range sess.RunIDs {
		delete(s.runs, runID)
	}
	delete(s.sessions, id)
	return nil
}

// ListRuns returns snapshots of every run.
func (s *Store) ListRuns() []*types.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	return out
}

// Counts returns the number of sessions and runs, for /stats.
func (s *Store) Counts() (sessions, runs int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), len(s.runs)
}

func (s *Store) touch(r *types.Run) {
	now := time.Now()
	r.UpdatedAt = now
	if sess, ok := s.sessions[r.SessionID]; ok {
		sess.UpdatedAt = now
	}
}
