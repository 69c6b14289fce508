package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/store"
)

func TestEnqueueMessage_AssignsIncreasingSequenceNumbers(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.EnqueueMessage("agent-1", nil, []byte("a"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	id2, err := s.EnqueueMessage("agent-1", nil, []byte("b"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)

	pending, err := s.ListPendingForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var m1, m2 store.Message
	for _, m := range pending {
		if m.ID == id1 {
			m1 = m
		}
		if m.ID == id2 {
			m2 = m
		}
	}
	require.Less(t, m1.SequenceNumber, m2.SequenceNumber)
}

func TestPullNextMessage_PriorityThenFIFO(t *testing.T) {
	s := openTestStore(t)

	_, err := s.EnqueueMessage("agent-1", nil, []byte("normal-1"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.EnqueueMessage("agent-1", nil, []byte("critical"), store.PriorityCritical, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.EnqueueMessage("agent-1", nil, []byte("normal-2"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)

	m, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "critical", string(m.Payload))

	m, err = s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "normal-1", string(m.Payload), "FIFO within priority band")
}

func TestPullNextMessage_ImplicitAckOfPrevious(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.EnqueueMessage("agent-1", nil, []byte("first"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.EnqueueMessage("agent-1", nil, []byte("second"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)

	first, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, id1, first.ID)

	second, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "second", string(second.Payload))

	pending, err := s.ListPendingForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1, "the first pulled message is no longer pending/pulled once acked")
}

func TestPullNextMessage_GatedOnUndeliveredDependency(t *testing.T) {
	s := openTestStore(t)

	depID, err := s.EnqueueMessage("agent-1", nil, []byte("dep"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.EnqueueMessage("agent-1", nil, []byte("gated"), store.PriorityHigh, store.ScopeAgent, &depID)
	require.NoError(t, err)

	m, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "dep", string(m.Payload), "dependency must be delivered before the dependent is eligible")

	m, err = s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "gated", string(m.Payload))
}

func TestPullNextMessage_EmptyQueue(t *testing.T) {
	s := openTestStore(t)
	m, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Nil(t, m)
}

func TestPeekNextMessage_DoesNotMutate(t *testing.T) {
	s := openTestStore(t)
	_, err := s.EnqueueMessage("agent-1", nil, []byte("hello"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)

	peeked, err := s.PeekNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "hello", string(peeked.Payload))
	require.Equal(t, store.MessagePending, peeked.Status)

	pending, err := s.ListPendingForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.MessagePending, pending[0].Status, "peek must not mark the message pulled")
}

func TestReleaseTimedOutDependencies(t *testing.T) {
	s := openTestStore(t)

	depID, err := s.EnqueueMessage("agent-1", nil, []byte("dep"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.EnqueueMessage("agent-1", nil, []byte("gated"), store.PriorityHigh, store.ScopeAgent, &depID)
	require.NoError(t, err)

	released, err := s.ReleaseTimedOutDependencies(0)
	require.NoError(t, err)
	require.Len(t, released, 1)

	m, err := s.PullNextMessage("agent-1")
	require.NoError(t, err)
	require.Equal(t, "gated", string(m.Payload), "dependency cleared, so the higher-priority gated message is now eligible first")
}

func TestRequeueStalePulled(t *testing.T) {
	s := openTestStore(t)

	_, err := s.EnqueueMessage("agent-1", nil, []byte("stale"), store.PriorityNormal, store.ScopeAgent, nil)
	require.NoError(t, err)
	_, err = s.PullNextMessage("agent-1")
	require.NoError(t, err)

	n, err := s.RequeueStalePulled(0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	pending, err := s.ListPendingForAgent("agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.MessagePending, pending[0].Status)
}
