package store

import (
	"testing"
	"time"

	"github.com/arenabench/arena/pkg/errdefs"
	"github.com/arenabench/arena/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, s *Store) (*types.Session, []*types.Run) {
	t.Helper()
	now := time.Now()
	sess := &types.Session{
		ID:        "sess-1",
		Prompt:    "build a landing page",
		RunIDs:    []string{"run-a", "run-b"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	runs := []*types.Run{
		{ID: "run-a", SessionID: "sess-1", Provider: types.ProviderOpenAI, Model: "gpt-4o", Status: types.RunStatusQueued, CreatedAt: now, UpdatedAt: now},
		{ID: "run-b", SessionID: "sess-1", Provider: types.ProviderAnthropic, Model: "claude-sonnet-4-5", Status: types.RunStatusQueued, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.CreateSession(sess, runs))
	return sess, runs
}

func TestCreateAndGetSession(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	view, err := s.Session("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "build a landing page", view.Prompt)
	assert.Len(t, view.Runs, 2)

	_, err = s.Session("missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestCreateSessionDuplicate(t *testing.T) {
	s := NewStore()
	sess, runs := seedSession(t, s)
	assert.Error(t, s.CreateSession(sess, runs))
}

func TestUpdateRunBumpsTimestamps(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	before, err := s.Session("sess-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	updated, err := s.UpdateRun("run-a", func(r *types.Run) {
		r.Status = types.RunStatusGenerating
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusGenerating, updated.Status)

	after, err := s.Session("sess-1")
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "session updated_at must advance")
}

func TestUpdateReturnsSnapshot(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	snap, err := s.UpdateRun("run-a", func(r *types.Run) {
		r.Status = types.RunStatusGenerating
	})
	require.NoError(t, err)

	// Mutating the snapshot must not leak into the store.
	snap.Status = types.RunStatusFailed
	r, err := s.Run("run-a")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusGenerating, r.Status)
}

func TestPatchRunMergesDelta(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	_, err := s.PatchRun("run-a", &types.Run{
		Status:    types.RunStatusBuilding,
		LogsBuild: "compiled ok",
	})
	require.NoError(t, err)

	r, err := s.Run("run-a")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusBuilding, r.Status)
	assert.Equal(t, "compiled ok", r.LogsBuild)
	// Untouched fields survive the merge.
	assert.Equal(t, types.ProviderOpenAI, r.Provider)
}

func TestDeleteRunPrunesEmptySession(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	require.NoError(t, s.DeleteRun("run-a"))
	view, err := s.Session("sess-1")
	require.NoError(t, err)
	assert.Len(t, view.Runs, 1)

	require.NoError(t, s.DeleteRun("run-b"))
	_, err = s.Session("sess-1")
	assert.True(t, errdefs.IsNotFound(err), "session should be purged with its last run")

	assert.True(t, errdefs.IsNotFound(s.DeleteRun("run-a")))
}

func TestDeleteSessionRemovesRuns(t *testing.T) {
	s := NewStore()
	seedSession(t, s)

	require.NoError(t, s.DeleteSession("sess-1"))
	_, err := s.Run("run-a")
	assert.True(t, errdefs.IsNotFound(err))

	sessions, runs := s.Counts()
	assert.Equal(t, 0, sessions)
	assert.Equal(t, 0, runs)
}
