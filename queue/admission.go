package queue

import (
	"github.com/fleetctl/orchestrator/store"
)

// Enqueue performs the idempotent project enqueue of §4.7, delegating
// directly to the store's transactional implementation. It is exposed here
// (rather than callers reaching into store directly) so every queue entry
// point — CLI, scheduler, recovery — goes through one package.
func (s *Scheduler) Enqueue(specPath string, projectPath *string, priority int) (int64, error) {
	return s.store.EnqueueProject(specPath, projectPath, priority)
}

// ClaimNext performs the single-admission claim of §4.7: at most one
// project may be processing/timing_out at a time.
func (s *Scheduler) ClaimNext() (*store.Project, error) {
	return s.store.ClaimNextProject()
}

// List returns queue rows, optionally filtered by status, for the `list`
// and `status` CLI subcommands.
func (s *Scheduler) List(status string) ([]store.Project, error) {
	return s.store.ListProjects(status)
}

// Cancel forces a queued or processing project to failed, for the `cancel`
// CLI subcommand. It goes through UpdateProject so the §4.6 transition
// table still governs which statuses can be cancelled from.
func (s *Scheduler) Cancel(id int64, reason string) error {
	status := store.ProjectFailed
	return s.store.UpdateProject(id, store.ProjectUpdate{Status: &status, ErrorMessage: &reason})
}
