package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

// RecoverAfterReboot implements §4.6's reboot-recovery path: every project
// left in processing or credit_paused when the daemon starts up had its
// in-memory supervision lost, so each row is reconciled against whatever
// tmux sessions are actually alive. liveSessions lists every session name
// currently known to tmux (from tmux.Controller.ListWindows's sibling, a
// "list all sessions" call the caller supplies so this package does not
// need to own session enumeration); sessionStateComplete reports whether a
// recovered session's agent-side state file records completion, for the
// case where no live session is found at all.
func (m *Manager) RecoverAfterReboot(liveSessions []string, sessionStateComplete func(projectID int64) (bool, error)) error {
	var rows []store.Project
	processing, err := m.store.ListProjects(store.ProjectProcessing)
	if err != nil {
		return err
	}
	pausedRows, err := m.store.ListProjects(store.ProjectCreditPaused)
	if err != nil {
		return err
	}
	rows = append(rows, processing...)
	rows = append(rows, pausedRows...)

	window := m.cfg.RebootRecoveryWindowHours
	if window <= 0 {
		window = 8
	}
	cutoff := time.Duration(window) * time.Hour

	for _, p := range rows {
		if err := m.recoverOne(p, liveSessions, cutoff, sessionStateComplete); err != nil {
			log.Warnf("lifecycle: reboot recovery for project %d: %v", p.ID, err)
		}
	}
	return nil
}

func (m *Manager) recoverOne(p store.Project, liveSessions []string, window time.Duration, sessionStateComplete func(int64) (bool, error)) error {
	if p.SessionName != nil && sessionIsLive(*p.SessionName, liveSessions) {
		log.Infof("lifecycle: project %d's session %s survived the reboot, resuming supervision", p.ID, *p.SessionName)
		return m.store.Heartbeat(p.ID, time.Now().UTC())
	}

	if match := matchRecentSession(p.ID, liveSessions, window); match != "" {
		log.Infof("lifecycle: project %d recovered under renamed/reattached session %s", p.ID, match)
		return m.store.UpdateProject(p.ID, store.ProjectUpdate{SessionName: &match})
	}

	if sessionStateComplete != nil {
		complete, err := sessionStateComplete(p.ID)
		if err == nil && complete {
			log.Infof("lifecycle: project %d's agent state records completion, marking completed", p.ID)
			return m.transition(p.ID, store.ProjectCompleted, "agent state recorded completion before reboot")
		}
	}

	log.Warnf("lifecycle: project %d has no recoverable session after reboot, marking failed", p.ID)
	return m.transition(p.ID, store.ProjectFailed, "terminated during reboot")
}

func sessionIsLive(name string, live []string) bool {
	for _, l := range live {
		if l == name {
			return true
		}
	}
	return false
}

// matchRecentSession looks for a live session whose name encodes the
// project id as an underscore-delimited token ("_<id>_" anywhere, or a
// "_<id>" suffix, as in the orchestrator_proj_<id> names the queue
// processor gives its sessions) within the recovery window. tmux session names do not carry a
// creation timestamp, so "within the window" here means simply that the
// session exists among liveSessions at recovery time; a session outside the
// window would already have been reaped by its own heartbeat/phantom sweep.
func matchRecentSession(projectID int64, live []string, _ time.Duration) string {
	want := fmt.Sprintf("_%d_", projectID)
	wantSuffix := fmt.Sprintf("_%d", projectID)
	for _, l := range live {
		if strings.Contains(l, want) || strings.HasSuffix(l, wantSuffix) {
			return l
		}
	}
	return ""
}
