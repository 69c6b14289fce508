package queue

import (
	"fmt"

	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

// StuckProjects backs the recovery CLI's `list-stuck` subcommand (§4.7):
// zombie, timing_out, or processing-with-no-session rows.
func (s *Scheduler) StuckProjects() ([]store.Project, error) {
	return s.store.StuckProjects()
}

// Reset forces a stuck project back to queued (to retry) or failed (to give
// up), for the `recovery reset` subcommand. Resetting to queued also clears
// the fields a fresh claim will repopulate.
func (s *Scheduler) Reset(id int64, toQueued bool) error {
	if toQueued {
		status := store.ProjectQueued
		retryCount, err := s.nextRetryCount(id)
		if err != nil {
			return err
		}
		return s.store.ForceUpdateProject(id, store.ProjectUpdate{Status: &status, RetryCount: &retryCount})
	}
	status := store.ProjectFailed
	reason := "reset by operator"
	return s.store.ForceUpdateProject(id, store.ProjectUpdate{Status: &status, ErrorMessage: &reason})
}

func (s *Scheduler) nextRetryCount(id int64) (int, error) {
	p, err := s.store.GetProject(id)
	if err != nil {
		return 0, err
	}
	return p.RetryCount + 1, nil
}

// KillZombie terminates a zombie project's supervised process tree and its
// terminal session, then marks the row failed. killProcess and killSession
// are injected so this package does not depend on procexec/tmux directly.
func (s *Scheduler) KillZombie(id int64, killProcess func(pid int) error, killSession func(sessionName string) error) error {
	p, err := s.store.GetProject(id)
	if err != nil {
		return err
	}
	if p.Status != store.ProjectZombie {
		return fmt.Errorf("queue: project %d is not a zombie (status=%s)", id, p.Status)
	}

	if p.MainPID != nil && killProcess != nil {
		if err := killProcess(*p.MainPID); err != nil {
			log.Warnf("queue: kill zombie pid %d for project %d: %v", *p.MainPID, id, err)
		}
	}
	if p.SessionName != nil && killSession != nil {
		if err := killSession(*p.SessionName); err != nil {
			log.Warnf("queue: kill zombie session %s for project %d: %v", *p.SessionName, id, err)
		}
	}

	status := store.ProjectFailed
	reason := "zombie killed by operator"
	return s.store.UpdateProject(id, store.ProjectUpdate{Status: &status, ErrorMessage: &reason})
}

// Diagnostics is the payload backing the `recovery diagnostics` subcommand
// (M12): a snapshot of queue and agent state an operator can dump to
// triage a stuck daemon.
type Diagnostics struct {
	ActiveProjectCount int
	StuckProjects      []store.Project
	Agents             []store.Agent
}

// BuildDiagnostics assembles a Diagnostics snapshot.
func (s *Scheduler) BuildDiagnostics() (Diagnostics, error) {
	active, err := s.store.ActiveProjectCount()
	if err != nil {
		return Diagnostics{}, err
	}
	stuck, err := s.store.StuckProjects()
	if err != nil {
		return Diagnostics{}, err
	}
	agents, err := s.store.ListAgents("")
	if err != nil {
		return Diagnostics{}, err
	}
	return Diagnostics{ActiveProjectCount: active, StuckProjects: stuck, Agents: agents}, nil
}
