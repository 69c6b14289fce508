package queue_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/queue"
	"github.com/fleetctl/orchestrator/store"
)

type recordingEnqueuer struct {
	calls []struct {
		agent   string
		payload []byte
	}
}

func (r *recordingEnqueuer) Enqueue(agentSession string, projectName *string, payload []byte, priority int, scope string, dependencyID *int64) (int64, error) {
	r.calls = append(r.calls, struct {
		agent   string
		payload []byte
	}{agentSession, payload})
	return int64(len(r.calls)), nil
}

func newTestScheduler(t *testing.T, credit queue.CreditChecker) (*queue.Scheduler, *store.Store, *recordingEnqueuer) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	enq := &recordingEnqueuer{}
	return queue.NewScheduler(st, enq, credit), st, enq
}

func TestTick_FiresDueCheckin(t *testing.T) {
	s, st, enq := newTestScheduler(t, nil)
	now := time.Now().UTC()
	_, err := st.ScheduleCheckin("agent-1", "periodic status", now.Add(-time.Minute), 1800, nil)
	require.NoError(t, err)

	require.NoError(t, s.Tick(now))
	require.Len(t, enq.calls, 1)
	require.Equal(t, "agent-1", enq.calls[0].agent)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(enq.calls[0].payload, &payload))
	require.Equal(t, "periodic status", payload["cause"])
}

func TestTick_DropsSelfSchedulingCompletionReport(t *testing.T) {
	s, st, enq := newTestScheduler(t, nil)
	now := time.Now().UTC()
	id, err := st.ScheduleCheckin(queue.OrchestratorRole, queue.CompletionReportCause, now.Add(-time.Minute), 1800, nil)
	require.NoError(t, err)

	require.NoError(t, s.Tick(now))
	require.Empty(t, enq.calls, "self-scheduling completion-report task must be dropped, not fired")

	remaining, err := st.ListCheckinsForAgent(queue.OrchestratorRole)
	require.NoError(t, err)
	for _, r := range remaining {
		require.NotEqual(t, id, r.ID, "dropped task should also be cancelled so it doesn't fire again")
	}
}

func TestTick_CreditExhaustedAgentIsBackedOffNotFired(t *testing.T) {
	exhausted := map[string]bool{"agent-1": true}
	s, st, enq := newTestScheduler(t, func(agent string) bool { return exhausted[agent] })
	now := time.Now().UTC()
	id, err := st.ScheduleCheckin("agent-1", "periodic status", now.Add(-time.Minute), 1800, nil)
	require.NoError(t, err)

	require.NoError(t, s.Tick(now))
	require.Empty(t, enq.calls)

	tasks, err := st.ListCheckinsForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, id, tasks[0].ID)
	require.True(t, tasks[0].NextRunAt.After(now), "credit-exhausted task should be rescheduled into the future")
}

func TestTick_ClearsBackoffOnceCreditReturns(t *testing.T) {
	exhausted := map[string]bool{"agent-1": true}
	s, st, enq := newTestScheduler(t, func(agent string) bool { return exhausted[agent] })
	now := time.Now().UTC()
	_, err := st.ScheduleCheckin("agent-1", "periodic status", now.Add(-time.Minute), 1800, nil)
	require.NoError(t, err)
	require.NoError(t, s.Tick(now))
	require.Empty(t, enq.calls)

	exhausted["agent-1"] = false
	tasks, err := st.ListCheckinsForAgent("agent-1")
	require.NoError(t, err)
	require.NoError(t, s.Tick(tasks[0].NextRunAt))
	require.Len(t, enq.calls, 1, "once credit returns, the deferred task fires normally")
}
