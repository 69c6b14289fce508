package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueProject_IsIdempotent(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)

	id2, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	rows, err := s.ListProjects("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestEnqueueProject_DistinctProjectPathsAreSeparate(t *testing.T) {
	s := openTestStore(t)

	pathA := "/work/a"
	pathB := "/work/b"

	id1, err := s.EnqueueProject("/specs/a.md", &pathA, store.PriorityNormal)
	require.NoError(t, err)
	id2, err := s.EnqueueProject("/specs/a.md", &pathB, store.PriorityNormal)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
}

func TestClaimNextProject_SingleAdmission(t *testing.T) {
	s := openTestStore(t)

	_, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)
	_, err = s.EnqueueProject("/specs/b.md", nil, store.PriorityHigh)
	require.NoError(t, err)

	claimed, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "/specs/b.md", claimed.SpecPath, "higher priority row claimed first")
	require.Equal(t, store.ProjectProcessing, claimed.Status)

	blocked, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.Nil(t, blocked, "admission is blocked while a project is processing")
}

func TestClaimNextProject_CreditPausedBlocksAdmission(t *testing.T) {
	s := openTestStore(t)

	_, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)
	_, err = s.EnqueueProject("/specs/b.md", nil, store.PriorityNormal)
	require.NoError(t, err)

	claimed, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.NotNil(t, claimed)

	paused := store.ProjectCreditPaused
	require.NoError(t, s.UpdateProject(claimed.ID, store.ProjectUpdate{Status: &paused}))

	blocked, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.Nil(t, blocked, "a credit_paused project still holds the singleton admission slot")

	n, err := s.ActiveProjectCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestClaimNextProject_EmptyQueue(t *testing.T) {
	s := openTestStore(t)
	claimed, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestUpdateProject_RejectsIllegalTransition(t *testing.T) {
	s := openTestStore(t)
	id, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)

	completed := store.ProjectCompleted
	err = s.UpdateProject(id, store.ProjectUpdate{Status: &completed})
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestUpdateProject_AllowsDeclaredTransition(t *testing.T) {
	s := openTestStore(t)
	id, err := s.EnqueueProject("/specs/a.md", nil, store.PriorityNormal)
	require.NoError(t, err)

	claimed, err := s.ClaimNextProject()
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	completed := store.ProjectCompleted
	err = s.UpdateProject(id, store.ProjectUpdate{Status: &completed})
	require.NoError(t, err)

	p, err := s.GetProject(id)
	require.NoError(t, err)
	require.Equal(t, store.ProjectCompleted, p.Status)
}

func TestUpdateProject_UnknownID(t *testing.T) {
	s := openTestStore(t)
	completed := store.ProjectCompleted
	err := s.UpdateProject(999, store.ProjectUpdate{Status: &completed})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestHeartbeat_UnknownID(t *testing.T) {
	s := openTestStore(t)
	err := s.Heartbeat(999, time.Now().UTC())
	require.ErrorIs(t, err, errs.ErrNotFound)
}
