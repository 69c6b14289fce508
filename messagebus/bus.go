// Package messagebus implements the Agent Message Bus (C5): priority-
// banded FIFO delivery, dependency gating with timeout release, a
// per-agent leaky-bucket rate limiter, and the pull-hook protocol the
// agent-side entry point triggers on (§4.5, §6.2).
//
// Grounded on the teacher's session/tmux status-monitor polling loop for
// the idea of an agent-triggered pull rather than a push, adapted here
// from "poll the pane for a prompt" to "the external runtime calls the
// hook entry point on a defined event".
package messagebus

import (
	"fmt"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/ratelimit"
	"github.com/fleetctl/orchestrator/store"
)

// Bus mediates all message-queue access on behalf of the pull-hook
// protocol, adding rate limiting and dependency-timeout release on top
// of the store's raw enqueue/pull primitives.
type Bus struct {
	store             *store.Store
	events            *eventbus.Bus
	dependencyTimeout time.Duration
	ratePerMinute     int

	mu       sync.Mutex
	limiters map[string]*ratelimit.Bucket
}

// New returns a Bus. ratePerMinute <= 0 uses the spec default of 10.
func New(st *store.Store, events *eventbus.Bus, dependencyTimeout time.Duration, ratePerMinute int) *Bus {
	return &Bus{
		store:             st,
		events:            events,
		dependencyTimeout: dependencyTimeout,
		ratePerMinute:     ratePerMinute,
		limiters:          make(map[string]*ratelimit.Bucket),
	}
}

func (b *Bus) limiterFor(agentSession string) *ratelimit.Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[agentSession]
	if !ok {
		l = ratelimit.New(b.ratePerMinute)
		b.limiters[agentSession] = l
	}
	return l
}

// Enqueue inserts a message for delivery. priority should use the bands
// declared in store (PriorityNormal..PriorityRebrief).
func (b *Bus) Enqueue(agentSession string, projectName *string, payload []byte, priority int, scope string, dependencyID *int64) (int64, error) {
	id, err := b.store.EnqueueMessage(agentSession, projectName, payload, priority, scope, dependencyID)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Pull implements the pull-hook protocol's message fetch: it first
// releases any dependency that has timed out, then peeks the next
// eligible message and applies the rate limiter (critical/emergency
// priorities bypass it per §4.5) before committing to the real pull.
// A nil, nil return means "no message" (the agent should be marked
// ready by the caller, per the on-idle row of §4.5's hook table).
func (b *Bus) Pull(agentSession string) (*store.Message, error) {
	if _, err := b.store.GetAgent(agentSession); err != nil {
		return nil, errs.ErrAgentUnknown
	}

	if released, err := b.store.ReleaseTimedOutDependencies(b.dependencyTimeout); err != nil {
		log.Warnf("messagebus: release timed-out dependencies: %v", err)
	} else {
		for _, id := range released {
			log.Warnf("messagebus: dependency timeout released message %d", id)
			if b.events != nil {
				if err := b.events.Publish(eventbus.ChannelStatusUpdate, eventbus.SeverityWarning,
					map[string]any{"kind": "dependency_timeout_released", "message_id": id, "agent": agentSession}); err != nil {
					log.Warnf("messagebus: publish dependency-timeout event: %v", err)
				}
			}
		}
	}

	candidate, err := b.store.PeekNextMessage(agentSession)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, nil
	}

	if candidate.Priority < store.PriorityCritical {
		if !b.limiterFor(agentSession).Allow() {
			return nil, errs.ErrBudgetExceeded
		}
	}

	return b.store.PullNextMessage(agentSession)
}

// Bootstrap implements the on-session-start hook: fetch the
// highest-priority waiting message, bypassing rate limiting entirely
// since this is a one-shot cold start rather than steady-state delivery.
func (b *Bus) Bootstrap(agentSession string) (*store.Message, error) {
	if _, err := b.store.GetAgent(agentSession); err != nil {
		return nil, errs.ErrAgentUnknown
	}
	return b.store.PullNextMessage(agentSession)
}

// EndSession implements the on-session-end hook: any outstanding pulled
// message is explicitly acked (delivered) and the agent is marked
// offline; anything still pulled after that point would be a bug, so
// this also requeues same-agent pulled rows defensively back to pending
// for the next session to pick up.
func (b *Bus) EndSession(agentSession string) error {
	if _, err := b.store.PullNextMessage(agentSession); err != nil {
		return fmt.Errorf("messagebus: ack outstanding on session end: %w", err)
	}
	if _, err := b.store.RequeueStalePulled(0); err != nil {
		return fmt.Errorf("messagebus: requeue stale pulled on session end: %w", err)
	}
	return b.store.SetAgentOffline(agentSession)
}

// Rebrief implements the on-context-compaction hook: enqueues a
// priority-200 re-briefing message addressed to the agent itself.
func (b *Bus) Rebrief(agentSession string, payload []byte) (int64, error) {
	return b.Enqueue(agentSession, nil, payload, store.PriorityRebrief, store.ScopeAgent, nil)
}
