package daemonrunner

import (
	"github.com/fleetctl/orchestrator/lock"
	"github.com/fleetctl/orchestrator/queue"
	"github.com/fleetctl/orchestrator/store"
)

// recentEventLogLimit bounds how many event_log rows BuildDiagnostics pulls
// in, so a long-running deployment's diagnostics snapshot stays small.
const recentEventLogLimit = 20

// Diagnostics is the M12 snapshot dumped by `recovery diagnostics`: queue
// state, the two daemon locks' liveness, the tmux sessions currently
// running, and the most recent event-bus activity, so an operator can
// triage a stuck deployment from one command.
type Diagnostics struct {
	Queue         queue.Diagnostics   `json:"queue"`
	SchedulerLock *lock.Descriptor    `json:"scheduler_lock,omitempty"`
	QueueLock     *lock.Descriptor    `json:"queue_lock,omitempty"`
	LiveSessions  []string            `json:"live_sessions"`
	RecentEvents  []store.EventLogRow `json:"recent_events"`
}

// BuildDiagnostics assembles a Diagnostics snapshot from c's live state.
func (c *Components) BuildDiagnostics() (Diagnostics, error) {
	qd, err := c.Queue.BuildDiagnostics()
	if err != nil {
		return Diagnostics{}, err
	}

	sessions, err := c.Sessions.ListSessions()
	if err != nil {
		return Diagnostics{}, err
	}

	events, err := c.Store.RecentEventLog(recentEventLogLimit)
	if err != nil {
		return Diagnostics{}, err
	}

	d := Diagnostics{Queue: qd, LiveSessions: sessions, RecentEvents: events}
	if desc, ok := lock.Describe(c.Config.LockDir, "scheduler"); ok {
		d.SchedulerLock = &desc
	}
	if desc, ok := lock.Describe(c.Config.LockDir, "queue"); ok {
		d.QueueLock = &desc
	}
	return d, nil
}
