package store

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/errs"
)

// UpsertContextSnapshot inserts or replaces an agent's context snapshot.
// It is keyed by agent_id, so a later rebrief always overwrites the
// previous snapshot rather than accumulating history.
func (s *Store) UpsertContextSnapshot(agentID, briefingContent, activitySummary, checkpointData string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO agent_context_snapshots
			(agent_id, last_briefing, briefing_content, activity_summary, checkpoint_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			last_briefing    = excluded.last_briefing,
			briefing_content = excluded.briefing_content,
			activity_summary = excluded.activity_summary,
			checkpoint_data  = excluded.checkpoint_data,
			updated_at       = excluded.updated_at`,
		agentID, now, briefingContent, activitySummary, checkpointData, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert context snapshot: %v", errs.ErrStoreError, err)
	}
	return nil
}

// GetContextSnapshot fetches an agent's context snapshot.
func (s *Store) GetContextSnapshot(agentID string) (*AgentContextSnapshot, error) {
	var snap AgentContextSnapshot
	if err := s.db.Get(&snap, `SELECT * FROM agent_context_snapshots WHERE agent_id = ?`, agentID); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get context snapshot: %v", errs.ErrStoreError, err)
	}
	return &snap, nil
}

// DeleteContextSnapshot removes an agent's context snapshot, used when an
// agent is permanently retired rather than merely restarted.
func (s *Store) DeleteContextSnapshot(agentID string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_context_snapshots WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("%w: delete context snapshot: %v", errs.ErrStoreError, err)
	}
	return nil
}
