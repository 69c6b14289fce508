package store

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/errs"
)

// AppendEventLog mirrors one eventbus.Event into the store, so the recovery
// CLI's diagnostics command can summarize recent activity without re-parsing
// the on-disk JSONL files.
func (s *Store) AppendEventLog(ts time.Time, channel, severity, payload string) error {
	if _, err := s.db.Exec(`
		INSERT INTO event_log (ts, channel, severity, payload)
		VALUES (?, ?, ?, ?)`, ts, channel, severity, payload); err != nil {
		return fmt.Errorf("%w: insert event log row: %v", errs.ErrStoreError, err)
	}
	return nil
}

// RecentEventLog returns the most recent limit event_log rows, newest first.
func (s *Store) RecentEventLog(limit int) ([]EventLogRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []EventLogRow
	if err := s.db.Select(&rows, `
		SELECT * FROM event_log ORDER BY id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("%w: list event log: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}
