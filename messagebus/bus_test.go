package messagebus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/messagebus"
	"github.com/fleetctl/orchestrator/store"
)

func newTestBus(t *testing.T, ratePerMinute int) (*messagebus.Bus, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.UpsertAgent("agent-1", nil, store.AgentActive))
	evb := eventbus.New(t.TempDir(), 10, 100)
	return messagebus.New(st, evb, 10*time.Minute, ratePerMinute), st
}

func TestPull_UnknownAgent(t *testing.T) {
	b, _ := newTestBus(t, 10)
	_, err := b.Pull("nope")
	require.ErrorIs(t, err, errs.ErrAgentUnknown)
}

func TestPull_EmptyQueueReturnsNilNil(t *testing.T) {
	b, _ := newTestBus(t, 10)
	m, err := b.Pull("agent-1")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestPull_RateLimitsNonCriticalMessages(t *testing.T) {
	b, st := newTestBus(t, 1)

	_, err := st.EnqueueMessage("agent-1", nil, []byte("one"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = st.EnqueueMessage("agent-1", nil, []byte("two"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)

	m, err := b.Pull("agent-1")
	require.NoError(t, err)
	require.Equal(t, "one", string(m.Payload))

	_, err = b.Pull("agent-1")
	require.ErrorIs(t, err, errs.ErrBudgetExceeded)
}

func TestPull_CriticalBypassesRateLimit(t *testing.T) {
	b, st := newTestBus(t, 1)

	_, err := st.EnqueueMessage("agent-1", nil, []byte("one"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = st.EnqueueMessage("agent-1", nil, []byte("crit"), store.PriorityCritical, store.ScopeAgent, nil)
	require.NoError(t, err)

	m1, err := b.Pull("agent-1")
	require.NoError(t, err)
	require.Equal(t, "crit", string(m1.Payload), "critical delivered first regardless of sequence")

	m2, err := b.Pull("agent-1")
	require.NoError(t, err)
	require.Equal(t, "one", string(m2.Payload), "still within budget since crit bypassed the bucket")
}

func TestBootstrap_FetchesHighestPriorityWithoutRateLimit(t *testing.T) {
	b, st := newTestBus(t, 1)
	_, err := st.EnqueueMessage("agent-1", nil, []byte("hi"), store.PriorityHigh, store.ScopeAgent, nil)
	require.NoError(t, err)

	m, err := b.Bootstrap("agent-1")
	require.NoError(t, err)
	require.Equal(t, "hi", string(m.Payload))
}

func TestRebrief_EnqueuesPriority200ToSelf(t *testing.T) {
	b, st := newTestBus(t, 10)
	id, err := b.Rebrief("agent-1", []byte("context reset"))
	require.NoError(t, err)

	pending, err := st.ListPendingForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, id, pending[0].ID)
	require.Equal(t, store.PriorityRebrief, pending[0].Priority)
}

func TestEndSession_AcksOutstandingAndMarksOffline(t *testing.T) {
	b, st := newTestBus(t, 10)
	_, err := st.EnqueueMessage("agent-1", nil, []byte("in-flight"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = b.Pull("agent-1")
	require.NoError(t, err)

	require.NoError(t, b.EndSession("agent-1"))

	a, err := st.GetAgent("agent-1")
	require.NoError(t, err)
	require.Equal(t, store.AgentOffline, a.Status)
}
