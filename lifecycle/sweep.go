package lifecycle

import (
	"time"

	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

// Sweep runs one pass of the heartbeat/phantom/zombie check over every
// processing project (§4.6, the periodic companion to the event-driven
// OnStatus callback). It is grounded on the teacher's session-list status
// poll, adapted from "refresh a TUI row" to "drive a state transition".
func (m *Manager) Sweep() error {
	projects, err := m.store.ListProjects(store.ProjectProcessing)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := m.sweepOne(p); err != nil {
			log.Warnf("lifecycle: sweep project %d: %v", p.ID, err)
		}
	}
	return nil
}

func (m *Manager) sweepOne(p store.Project) error {
	if p.SessionName == nil {
		// A processing project with no recorded session is the recovery
		// CLI's "stuck" case, not this sweep's concern; leave it for
		// reboot recovery or an operator to resolve.
		return nil
	}

	if !m.sessions.SessionAlive(*p.SessionName) {
		log.Warnf("lifecycle: project %d session %s is gone, marking zombie", p.ID, *p.SessionName)
		return m.transition(p.ID, store.ProjectZombie, "terminal session no longer exists")
	}

	heartbeatTimeout := m.cfg.HeartbeatTimeout()
	if p.HeartbeatAt != nil && time.Since(*p.HeartbeatAt) <= heartbeatTimeout {
		return nil
	}

	// Heartbeat is stale. Try a timeout extension first, up to the
	// configured cap, before escalating to timing_out.
	if p.TimeoutExtensions < m.cfg.MaxTimeoutExtensions {
		ext := p.TimeoutExtensions + 1
		log.Infof("lifecycle: project %d heartbeat stale, granting extension %d/%d", p.ID, ext, m.cfg.MaxTimeoutExtensions)
		now := time.Now().UTC()
		if err := m.store.Heartbeat(p.ID, now); err != nil {
			return err
		}
		return m.store.UpdateProject(p.ID, store.ProjectUpdate{TimeoutExtensions: &ext})
	}

	log.Warnf("lifecycle: project %d exhausted timeout extensions, marking timing_out", p.ID)
	return m.transition(p.ID, store.ProjectTimingOut, "heartbeat timeout exhausted all extensions")
}

func (m *Manager) transition(projectID int64, status, reason string) error {
	upd := store.ProjectUpdate{Status: &status}
	if status != store.ProjectCompleted {
		upd.ErrorMessage = &reason
	}
	if err := m.store.UpdateProject(projectID, upd); err != nil {
		return err
	}
	if m.events == nil {
		return nil
	}
	channel := eventbus.ChannelStatusUpdate
	severity := eventbus.SeverityWarning
	if status == store.ProjectZombie || status == store.ProjectTimingOut {
		severity = eventbus.SeverityCritical
	}
	return m.events.Publish(channel, severity, map[string]any{
		"kind":       "project_transition",
		"project_id": projectID,
		"status":     status,
		"reason":     reason,
	})
}

// CompletionSweep checks every processing project's worktree/pane for one
// of the §4.6 completion signals and transitions matching rows to
// completed. It is separate from Sweep because completion detection needs
// the project's worktree path and pane content, not just heartbeat state.
func (m *Manager) CompletionSweep(worktreeOf func(store.Project) string) error {
	projects, err := m.store.ListProjects(store.ProjectProcessing)
	if err != nil {
		return err
	}
	for _, p := range projects {
		complete, err := m.isComplete(p, worktreeOf)
		if err != nil {
			log.Warnf("lifecycle: completion check for project %d: %v", p.ID, err)
			continue
		}
		if complete {
			if err := m.transition(p.ID, store.ProjectCompleted, "completion signal detected"); err != nil {
				log.Warnf("lifecycle: complete project %d: %v", p.ID, err)
			}
			if m.events != nil {
				if err := m.events.Publish(eventbus.ChannelProjectCompleted, eventbus.SeverityInfo,
					map[string]any{"project_id": p.ID}); err != nil {
					log.Warnf("lifecycle: publish completion event: %v", err)
				}
			}
		}
	}
	return nil
}

func (m *Manager) isComplete(p store.Project, worktreeOf func(store.Project) string) (bool, error) {
	if worktreeOf != nil {
		if dir := worktreeOf(p); dir != "" {
			ok, err := WorktreeMarksComplete(dir)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	if p.SessionName == nil {
		return false, nil
	}
	window := ResolveImplementerWindow(*p.SessionName)
	content, err := m.sessions.CapturePane(window, 50)
	if err != nil {
		// Pane may legitimately not exist yet; this is not worth
		// surfacing to the caller, just "not complete by this signal".
		return false, nil
	}
	return PaneIndicatesCompletion(content), nil
}
