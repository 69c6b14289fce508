// Package queue implements the Project Queue & Scheduler (C7): admission
// control and idempotent enqueue (thin wrappers over the store's atomic
// primitives), the check-in scheduling tick with missed-task catch-up and
// an anti-self-scheduling guard, and the stuck-project recovery CLI's
// backing operations.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

// OrchestratorRole and CompletionReportCause identify the pathological
// feedback loop the anti-self-scheduling guard drops (§4.7): the
// orchestrator scheduling its own completion-report check-in would
// otherwise schedule another on every fire.
const (
	OrchestratorRole      = "orchestrator"
	CompletionReportCause = "completion report"
)

// creditBackoffBase and creditBackoffCap bound the exponential back-off
// applied to a credit-exhausted agent's check-in task.
const (
	creditBackoffBase = 30 * time.Second
	creditBackoffCap  = 30 * time.Minute
)

// Enqueuer delivers a scheduled check-in message through the message bus.
// Queue depends on this narrow interface rather than importing messagebus
// directly to avoid a store/messagebus/queue import cycle.
type Enqueuer interface {
	Enqueue(agentSession string, projectName *string, payload []byte, priority int, scope string, dependencyID *int64) (int64, error)
}

// CreditChecker reports whether the named agent is currently credit
// exhausted (§4.6's credit_paused signal, scoped to whichever project the
// agent belongs to).
type CreditChecker func(agentSession string) bool

// Scheduler drives the periodic check-in tick.
type Scheduler struct {
	store    *store.Store
	messages Enqueuer
	credit   CreditChecker

	mu       sync.Mutex
	backoffs map[int64]retry.Backoff
}

// NewScheduler returns a Scheduler. credit may be nil, in which case no
// agent is ever treated as credit exhausted.
func NewScheduler(st *store.Store, messages Enqueuer, credit CreditChecker) *Scheduler {
	return &Scheduler{
		store:    st,
		messages: messages,
		credit:   credit,
		backoffs: make(map[int64]retry.Backoff),
	}
}

// Tick runs one scheduling pass: due check-ins are fired (or backed off if
// their agent is credit exhausted), and missed fires are caught up once.
func (s *Scheduler) Tick(now time.Time) error {
	due, err := s.store.DueCheckins(now)
	if err != nil {
		return err
	}
	for _, task := range due {
		if err := s.fireOne(task, now); err != nil {
			log.Warnf("queue: check-in %d for agent %s: %v", task.ID, task.Agent, err)
		}
	}
	return nil
}

func (s *Scheduler) fireOne(task store.CheckinTask, now time.Time) error {
	if task.Agent == OrchestratorRole && task.Cause == CompletionReportCause {
		log.Debugf("queue: dropping self-scheduling completion-report task %d for %s", task.ID, task.Agent)
		return s.store.CancelCheckin(task.ID)
	}

	if s.credit != nil && s.credit(task.Agent) {
		delay := s.creditBackoffFor(task.ID)
		log.Warnf("queue: agent %s credit exhausted, deferring check-in %d by %s", task.Agent, task.ID, delay)
		return s.reschedule(task, now, delay)
	}
	s.clearBackoff(task.ID)

	if task.LastRunAt != nil {
		missedBy := now.Sub(*task.LastRunAt)
		expectedInterval := time.Duration(task.IntervalSec) * time.Second
		if missedBy > 2*expectedInterval {
			log.Warnf("queue: check-in %d for %s missed a fire (last ran %s ago, interval %s), catching up now",
				task.ID, task.Agent, missedBy, expectedInterval)
		}
	}

	note := ""
	if task.Note != nil {
		note = *task.Note
	}
	payload := []byte(fmt.Sprintf(`{"kind":"checkin","cause":%q,"note":%q}`, task.Cause, note))
	if _, err := s.messages.Enqueue(task.Agent, nil, payload, store.PriorityNormal, store.ScopeAgent, nil); err != nil {
		return fmt.Errorf("queue: enqueue check-in message: %w", err)
	}

	return s.store.AdvanceCheckin(task.ID, now)
}

// reschedule defers task by delay. AdvanceCheckin always computes
// next_run_at as dispatchedAt + the task's own interval, so to land
// exactly on now+delay the dispatch time handed to it is backdated by
// the task's interval.
func (s *Scheduler) reschedule(task store.CheckinTask, now time.Time, delay time.Duration) error {
	interval := time.Duration(task.IntervalSec) * time.Second
	dispatchedAt := now.Add(delay).Add(-interval)
	return s.store.AdvanceCheckin(task.ID, dispatchedAt)
}

func (s *Scheduler) creditBackoffFor(taskID int64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backoffs[taskID]
	if !ok {
		nb, _ := retry.NewExponential(creditBackoffBase)
		b = retry.WithCappedDuration(creditBackoffCap, nb)
		s.backoffs[taskID] = b
	}
	d, _ := b.Next()
	return d
}

func (s *Scheduler) clearBackoff(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backoffs, taskID)
}

// Run starts the periodic scheduling loop, returning a stop function.
func (s *Scheduler) Run(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Tick(time.Now().UTC()); err != nil {
					log.Warnf("queue: scheduler tick: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
