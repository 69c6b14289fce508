package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetctl/orchestrator/errs"
)

// legalTransitions encodes the state machine of §4.6. A transition not
// listed here fails with errs.ErrIllegalTransition.
var legalTransitions = map[string]map[string]bool{
	ProjectQueued: {
		ProjectProcessing: true,
	},
	ProjectProcessing: {
		ProjectTimingOut:    true,
		ProjectZombie:       true,
		ProjectCreditPaused: true,
		ProjectCompleted:    true,
		ProjectFailed:       true,
	},
	ProjectTimingOut: {
		ProjectFailed:    true,
		ProjectCompleted: true,
	},
	ProjectZombie: {
		ProjectFailed: true,
	},
	ProjectCreditPaused: {
		ProjectProcessing: true,
		ProjectFailed:     true,
	},
}

// CanTransition reports whether from -> to is a legal state transition.
// Any state may transition to failed on a fatal error, per §4.6, so that
// edge is not duplicated into every map entry above.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	if to == ProjectFailed {
		return true
	}
	return legalTransitions[from][to]
}

// EnqueueProject performs the idempotent enqueue of §4.7: if a row already
// exists for (specPath, projectPath) in {queued, processing}, its id is
// returned and nothing new is inserted. The unique partial index backs this
// as a safety net against a race between the pre-check and the insert.
func (s *Store) EnqueueProject(specPath string, projectPath *string, priority int) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sqlx.Tx) error {
		pp := ""
		if projectPath != nil {
			pp = *projectPath
		}
		var existing int64
		err := tx.Get(&existing, `
			SELECT id FROM projects
			WHERE spec_path = ? AND COALESCE(project_path, '') = ?
			  AND status IN ('queued', 'processing')`, specPath, pp)
		if err == nil {
			id = existing
			return nil
		}
		if !isNoRows(err) {
			return fmt.Errorf("%w: lookup existing project: %v", errs.ErrStoreError, err)
		}

		res, err := tx.Exec(`
			INSERT INTO projects (spec_path, project_path, priority, enqueued_at, status)
			VALUES (?, ?, ?, ?, ?)`,
			specPath, projectPath, priority, time.Now().UTC(), ProjectQueued)
		if err != nil {
			return fmt.Errorf("%w: insert project: %v", errs.ErrStoreError, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ClaimNextProject implements admission control (§4.7): at most one project
// may be processing/timing_out/credit_paused at any time, since a paused
// project still holds the singleton slot it will resume into. It atomically
// selects the highest-priority, oldest-enqueued queued row and marks it
// processing, or returns (nil, nil) if admission is blocked or the queue is
// empty.
func (s *Store) ClaimNextProject() (*Project, error) {
	var claimed *Project
	err := s.withTx(func(tx *sqlx.Tx) error {
		var busy int
		if err := tx.Get(&busy, `
			SELECT COUNT(*) FROM projects WHERE status IN (?, ?, ?)`,
			ProjectProcessing, ProjectTimingOut, ProjectCreditPaused); err != nil {
			return fmt.Errorf("%w: count active: %v", errs.ErrStoreError, err)
		}
		if busy > 0 {
			return nil
		}

		var p Project
		err := tx.Get(&p, `
			SELECT * FROM projects
			WHERE status = ?
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT 1`, ProjectQueued)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: select next: %v", errs.ErrStoreError, err)
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(`
			UPDATE projects SET status = ?, started_at = ?, heartbeat_at = ?
			WHERE id = ?`, ProjectProcessing, now, now, p.ID); err != nil {
			return fmt.Errorf("%w: claim: %v", errs.ErrStoreError, err)
		}
		p.Status = ProjectProcessing
		p.StartedAt = &now
		p.HeartbeatAt = &now
		claimed = &p
		return nil
	})
	return claimed, err
}

// ProjectUpdate carries the optional field mutations UpdateProject applies.
type ProjectUpdate struct {
	Status            *string
	SessionName       *string
	MainPID           *int
	TimeoutExtensions *int
	ErrorMessage      *string
	RetryCount        *int
}

// UpdateProject conditionally mutates fields on the project with id,
// enforcing the §4.6 state machine when Status is set.
func (s *Store) UpdateProject(id int64, upd ProjectUpdate) error {
	return s.updateProject(id, upd, false)
}

// ForceUpdateProject applies upd without checking the §4.6 transition
// table. It exists only for the recovery CLI's `reset` subcommand, which
// by definition forces a stuck project back to queued or failed regardless
// of its current status.
func (s *Store) ForceUpdateProject(id int64, upd ProjectUpdate) error {
	return s.updateProject(id, upd, true)
}

func (s *Store) updateProject(id int64, upd ProjectUpdate, force bool) error {
	return s.withTx(func(tx *sqlx.Tx) error {
		var current Project
		if err := tx.Get(&current, `SELECT * FROM projects WHERE id = ?`, id); err != nil {
			if isNoRows(err) {
				return errs.ErrNotFound
			}
			return fmt.Errorf("%w: load project: %v", errs.ErrStoreError, err)
		}

		if !force && upd.Status != nil && !CanTransition(current.Status, *upd.Status) {
			return fmt.Errorf("%w: %s -> %s", errs.ErrIllegalTransition, current.Status, *upd.Status)
		}

		setClauses := []string{}
		args := []any{}
		add := func(col string, v any) {
			setClauses = append(setClauses, col+" = ?")
			args = append(args, v)
		}
		if upd.Status != nil {
			add("status", *upd.Status)
		}
		if upd.SessionName != nil {
			add("session_name", *upd.SessionName)
		}
		if upd.MainPID != nil {
			add("main_pid", *upd.MainPID)
		}
		if upd.TimeoutExtensions != nil {
			add("timeout_extensions", *upd.TimeoutExtensions)
		}
		if upd.ErrorMessage != nil {
			add("error_message", *upd.ErrorMessage)
		}
		if upd.RetryCount != nil {
			add("retry_count", *upd.RetryCount)
		}
		if len(setClauses) == 0 {
			return nil
		}
		args = append(args, id)
		q := "UPDATE projects SET "
		for i, c := range setClauses {
			if i > 0 {
				q += ", "
			}
			q += c
		}
		q += " WHERE id = ?"
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("%w: update project: %v", errs.ErrStoreError, err)
		}
		return nil
	})
}

// Heartbeat refreshes a processing project's liveness timestamp.
func (s *Store) Heartbeat(projectID int64, now time.Time) error {
	res, err := s.db.Exec(`UPDATE projects SET heartbeat_at = ? WHERE id = ?`, now, projectID)
	if err != nil {
		return fmt.Errorf("%w: heartbeat: %v", errs.ErrStoreError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: heartbeat rows affected: %v", errs.ErrStoreError, err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// GetProject fetches a single project by id.
func (s *Store) GetProject(id int64) (*Project, error) {
	var p Project
	if err := s.db.Get(&p, `SELECT * FROM projects WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get project: %v", errs.ErrStoreError, err)
	}
	return &p, nil
}

// ListProjects returns all projects, optionally filtered by status.
func (s *Store) ListProjects(status string) ([]Project, error) {
	var rows []Project
	var err error
	if status == "" {
		err = s.db.Select(&rows, `SELECT * FROM projects ORDER BY priority DESC, enqueued_at ASC`)
	} else {
		err = s.db.Select(&rows, `SELECT * FROM projects WHERE status = ? ORDER BY priority DESC, enqueued_at ASC`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list projects: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}

// ActiveProjectCount returns how many rows currently hold the
// admission-blocking statuses (processing, timing_out, credit_paused).
func (s *Store) ActiveProjectCount() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM projects WHERE status IN (?, ?, ?)`, ProjectProcessing, ProjectTimingOut, ProjectCreditPaused)
	if err != nil {
		return 0, fmt.Errorf("%w: count active: %v", errs.ErrStoreError, err)
	}
	return n, nil
}

// StuckProjects returns rows matching the recovery CLI's list-stuck filter
// (§6.3): zombie, timing_out, or processing rows whose session_name is nil.
func (s *Store) StuckProjects() ([]Project, error) {
	var rows []Project
	err := s.db.Select(&rows, `
		SELECT * FROM projects
		WHERE status IN (?, ?)
		   OR (status = ? AND session_name IS NULL)
		ORDER BY priority DESC, enqueued_at ASC`,
		ProjectZombie, ProjectTimingOut, ProjectProcessing)
	if err != nil {
		return nil, fmt.Errorf("%w: list stuck: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}
