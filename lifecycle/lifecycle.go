// Package lifecycle implements the Session Lifecycle Manager (C6): heartbeat
// and phantom/zombie sweeps, completion detection, auto-restart, and reboot
// recovery, wired on top of procexec's OnStatus callback and the project
// state machine in store/projects.go (§4.6).
package lifecycle

import (
	"time"

	"github.com/fleetctl/orchestrator/config"
	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/procexec"
	"github.com/fleetctl/orchestrator/store"
	"github.com/fleetctl/orchestrator/tmux"
)

// implementerWindow is the tmux window name the completion sweep reads pane
// output from. §4.3 names "implementer" as the role that does the editing
// the other roles review.
const implementerWindow = "implementer"

// ResolveImplementerWindow returns the tmux target for a project's
// implementer window, for callers outside this package (the queue
// processor attaches hooks to the same window).
func ResolveImplementerWindow(sessionName string) string {
	return tmux.ResolveWindow(sessionName, implementerWindow)
}

// Manager owns the transition logic between procexec outcomes, tmux session
// liveness, and the project state machine.
type Manager struct {
	store    *store.Store
	sessions *tmux.Controller
	events   *eventbus.Bus
	cfg      *config.Config
}

// New returns a Manager.
func New(st *store.Store, sessions *tmux.Controller, events *eventbus.Bus, cfg *config.Config) *Manager {
	return &Manager{store: st, sessions: sessions, events: events, cfg: cfg}
}

// OnProcessStatus adapts a procexec.StatusFunc callback into a project state
// transition. projectID identifies the row the supervised process belongs
// to; it is captured by the caller's closure when the process is spawned.
func (m *Manager) OnProcessStatus(projectID int64) procexec.StatusFunc {
	return func(_ *procexec.Handle, outcome procexec.Outcome, err error) {
		switch outcome {
		case procexec.OutcomeDeadlineExceeded:
			// The deadline was just reached and the process has been sent
			// its graceful signal; §4.6 moves it to timing_out immediately,
			// before the grace window is waited out, so the scheduler and
			// an operator both see it as "stopping" rather than still
			// "processing".
			if terr := m.transition(projectID, store.ProjectTimingOut, "process exceeded its deadline, entering grace window"); terr != nil {
				log.Errorf("lifecycle: transition project %d to timing_out: %v", projectID, terr)
			}

		case procexec.OutcomeCompleted:
			if err != nil {
				log.Warnf("lifecycle: project %d process exited with error: %v", projectID, err)
				reason := err.Error()
				if uerr := m.store.UpdateProject(projectID, store.ProjectUpdate{Status: strPtr(store.ProjectFailed), ErrorMessage: &reason}); uerr != nil {
					log.Errorf("lifecycle: transition project %d to failed: %v", projectID, uerr)
				}
				m.publishFailure(projectID, reason)
				return
			}
			p, gerr := m.store.GetProject(projectID)
			if gerr != nil {
				log.Errorf("lifecycle: load project %d after clean exit: %v", projectID, gerr)
				return
			}
			switch p.Status {
			case store.ProjectTimingOut:
				// The process exited cleanly during its grace window:
				// §4.6 treats this as a completion, not a failure.
				if uerr := m.transition(projectID, store.ProjectCompleted, "process exited cleanly during grace window"); uerr != nil {
					log.Errorf("lifecycle: transition project %d to completed: %v", projectID, uerr)
				}
			case store.ProjectProcessing:
				// A clean exit with no deadline involved is not itself a
				// completion signal; completion is decided by
				// CompletionSweep's marker/phase/pane checks. A process
				// that exits cleanly without any completion signal having
				// fired is treated as a failure, since the agent abandoned
				// the project without reporting status.
				reason := "process exited without reporting completion"
				if uerr := m.store.UpdateProject(projectID, store.ProjectUpdate{Status: strPtr(store.ProjectFailed), ErrorMessage: &reason}); uerr != nil {
					log.Errorf("lifecycle: transition project %d to failed: %v", projectID, uerr)
				}
				m.publishFailure(projectID, reason)
			}

		case procexec.OutcomeTimedOut:
			// The grace window expired and the process had to be
			// hard-killed: §4.6 treats this as a failure, not a further
			// "timing_out" status to sit in.
			reason := "process did not exit within the grace window and was force-killed"
			if uerr := m.store.UpdateProject(projectID, store.ProjectUpdate{Status: strPtr(store.ProjectFailed), ErrorMessage: &reason}); uerr != nil {
				log.Errorf("lifecycle: transition project %d to failed: %v", projectID, uerr)
			}
			m.publishFailure(projectID, reason)

		case procexec.OutcomeZombie:
			if terr := m.transition(projectID, store.ProjectZombie, "process outlived its terminal session"); terr != nil {
				log.Errorf("lifecycle: transition project %d to zombie: %v", projectID, terr)
			}

		case procexec.OutcomeCrashed:
			reason := "process crashed"
			if err != nil {
				reason = err.Error()
			}
			if uerr := m.store.UpdateProject(projectID, store.ProjectUpdate{Status: strPtr(store.ProjectFailed), ErrorMessage: &reason}); uerr != nil {
				log.Errorf("lifecycle: transition project %d to failed: %v", projectID, uerr)
			}
			m.publishFailure(projectID, reason)
		}
	}
}

func (m *Manager) publishFailure(projectID int64, reason string) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(eventbus.ChannelProjectFailed, eventbus.SeverityCritical,
		map[string]any{"project_id": projectID, "reason": reason}); err != nil {
		log.Warnf("lifecycle: publish failure event: %v", err)
	}
}

// Run starts the periodic sweep loop in a background goroutine and returns
// at once; the loop runs until the returned stop function is called,
// matching the teacher's ticker-plus-stop-channel daemon loop shape.
func (m *Manager) Run(interval time.Duration, worktreeOf func(store.Project) string) (stop func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Sweep(); err != nil {
					log.Warnf("lifecycle: sweep: %v", err)
				}
				if err := m.CompletionSweep(worktreeOf); err != nil {
					log.Warnf("lifecycle: completion sweep: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func strPtr(s string) *string { return &s }
