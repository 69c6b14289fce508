package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/store"
)

func TestContextSnapshot_UpsertAndGet(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertContextSnapshot("agent-1", "you are implementing X", "opened 3 files", `{"phase":"impl"}`))

	snap, err := st.GetContextSnapshot("agent-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", snap.AgentID)
	require.Equal(t, "you are implementing X", snap.BriefingContent)
	require.Equal(t, "opened 3 files", snap.ActivitySummary)
	require.Equal(t, `{"phase":"impl"}`, snap.CheckpointData)
}

func TestContextSnapshot_UpsertReplacesPriorSnapshot(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertContextSnapshot("agent-1", "first briefing", "summary 1", "{}"))
	require.NoError(t, st.UpsertContextSnapshot("agent-1", "second briefing", "summary 2", "{}"))

	snap, err := st.GetContextSnapshot("agent-1")
	require.NoError(t, err)
	require.Equal(t, "second briefing", snap.BriefingContent)
	require.Equal(t, "summary 2", snap.ActivitySummary)
}

func TestContextSnapshot_GetUnknownAgentIsNotFound(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.GetContextSnapshot("ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestContextSnapshot_Delete(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.UpsertContextSnapshot("agent-1", "briefing", "summary", "{}"))
	require.NoError(t, st.DeleteContextSnapshot("agent-1"))

	_, err = st.GetContextSnapshot("agent-1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
