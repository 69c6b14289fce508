package store

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/errs"
)

// ScheduleCheckin inserts a recurring check-in task (§4.7): an agent should
// be prompted with cause at nextRunAt, and again every intervalSec
// thereafter once the scheduler observes it come due.
func (s *Store) ScheduleCheckin(agent, cause string, nextRunAt time.Time, intervalSec int, note *string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO checkin_tasks (agent, cause, next_run_at, interval_sec, note)
		VALUES (?, ?, ?, ?, ?)`, agent, cause, nextRunAt, intervalSec, note)
	if err != nil {
		return 0, fmt.Errorf("%w: schedule checkin: %v", errs.ErrStoreError, err)
	}
	return res.LastInsertId()
}

// DueCheckins returns every task whose next_run_at has passed asOf, for
// the scheduler's tick to dispatch. Each returned task should be advanced
// with AdvanceCheckin once dispatched.
func (s *Store) DueCheckins(asOf time.Time) ([]CheckinTask, error) {
	var rows []CheckinTask
	err := s.db.Select(&rows, `
		SELECT * FROM checkin_tasks WHERE next_run_at <= ? ORDER BY next_run_at ASC`, asOf)
	if err != nil {
		return nil, fmt.Errorf("%w: due checkins: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}

// AdvanceCheckin moves a task's next_run_at forward by its interval from
// the given dispatch time and records last_run_at. When a tick is missed
// by more than one interval, this catches the task up exactly once to
// dispatchedAt + interval rather than replaying every missed interval.
func (s *Store) AdvanceCheckin(id int64, dispatchedAt time.Time) error {
	var task CheckinTask
	if err := s.db.Get(&task, `SELECT * FROM checkin_tasks WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("%w: load checkin: %v", errs.ErrStoreError, err)
	}
	next := dispatchedAt.Add(time.Duration(task.IntervalSec) * time.Second)
	_, err := s.db.Exec(`
		UPDATE checkin_tasks SET next_run_at = ?, last_run_at = ? WHERE id = ?`,
		next, dispatchedAt, id)
	if err != nil {
		return fmt.Errorf("%w: advance checkin: %v", errs.ErrStoreError, err)
	}
	return nil
}

// CancelCheckin removes a recurring task, e.g. when its owning project
// completes.
func (s *Store) CancelCheckin(id int64) error {
	_, err := s.db.Exec(`DELETE FROM checkin_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: cancel checkin: %v", errs.ErrStoreError, err)
	}
	return nil
}

// ListCheckinsForAgent returns all recurring tasks owned by an agent.
func (s *Store) ListCheckinsForAgent(agent string) ([]CheckinTask, error) {
	var rows []CheckinTask
	err := s.db.Select(&rows, `SELECT * FROM checkin_tasks WHERE agent = ? ORDER BY next_run_at ASC`, agent)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkins: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}
