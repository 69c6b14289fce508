package store

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/errs"
)

// UpsertAgent inserts a new agent row or, if agentID already exists,
// updates its project assignment and status. Used both at agent
// registration and when a project hands an agent a new assignment.
func (s *Store) UpsertAgent(agentID string, projectName *string, status string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO agents (agent_id, project_name, status, ready_since, last_heartbeat)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			project_name = excluded.project_name,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat`,
		agentID, projectName, status, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert agent: %v", errs.ErrStoreError, err)
	}
	return nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(agentID string) (*Agent, error) {
	var a Agent
	if err := s.db.Get(&a, `SELECT * FROM agents WHERE agent_id = ?`, agentID); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrAgentUnknown
		}
		return nil, fmt.Errorf("%w: get agent: %v", errs.ErrStoreError, err)
	}
	return &a, nil
}

// ListAgents returns every known agent, optionally filtered by status.
func (s *Store) ListAgents(status string) ([]Agent, error) {
	var rows []Agent
	var err error
	if status == "" {
		err = s.db.Select(&rows, `SELECT * FROM agents ORDER BY agent_id`)
	} else {
		err = s.db.Select(&rows, `SELECT * FROM agents WHERE status = ? ORDER BY agent_id`, status)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list agents: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}

// AgentHeartbeat refreshes an agent's last_heartbeat and records the
// highest message sequence number it has acknowledged so far.
func (s *Store) AgentHeartbeat(agentID string, lastSequenceDelivered int64) error {
	res, err := s.db.Exec(`
		UPDATE agents SET last_heartbeat = ?, last_sequence_delivered = ?
		WHERE agent_id = ?`, time.Now().UTC(), lastSequenceDelivered, agentID)
	if err != nil {
		return fmt.Errorf("%w: agent heartbeat: %v", errs.ErrStoreError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: agent heartbeat rows affected: %v", errs.ErrStoreError, err)
	}
	if n == 0 {
		return errs.ErrAgentUnknown
	}
	return nil
}

// MarkAgentReady transitions an agent to ready and stamps ready_since,
// used by the pull-hook protocol's on-idle signal.
func (s *Store) MarkAgentReady(agentID string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE agents SET status = ?, ready_since = ? WHERE agent_id = ?`,
		AgentReady, now, agentID)
	if err != nil {
		return fmt.Errorf("%w: mark agent ready: %v", errs.ErrStoreError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: mark agent ready rows affected: %v", errs.ErrStoreError, err)
	}
	if n == 0 {
		return errs.ErrAgentUnknown
	}
	return nil
}

// RecordAgentRestart increments an agent's restart counter and records the
// error that triggered the restart, returning the new restart count so the
// caller can compare it against MaxAgentRestarts.
func (s *Store) RecordAgentRestart(agentID string, lastError string) (int, error) {
	now := time.Now().UTC()
	res, execErr := s.db.Exec(`
		UPDATE agents SET restart_count = restart_count + 1, last_restart = ?, last_error = ?, status = ?
		WHERE agent_id = ?`, now, lastError, AgentError, agentID)
	if execErr != nil {
		return 0, fmt.Errorf("%w: record restart: %v", errs.ErrStoreError, execErr)
	}
	n, execErr := res.RowsAffected()
	if execErr != nil {
		return 0, fmt.Errorf("%w: record restart rows affected: %v", errs.ErrStoreError, execErr)
	}
	if n == 0 {
		return 0, errs.ErrAgentUnknown
	}
	a, getErr := s.GetAgent(agentID)
	if getErr != nil {
		return 0, getErr
	}
	return a.RestartCount, nil
}

// SetAgentOffline marks an agent offline, used when its tmux window or
// supervising process is gone.
func (s *Store) SetAgentOffline(agentID string) error {
	res, err := s.db.Exec(`UPDATE agents SET status = ? WHERE agent_id = ?`, AgentOffline, agentID)
	if err != nil {
		return fmt.Errorf("%w: set agent offline: %v", errs.ErrStoreError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: set agent offline rows affected: %v", errs.ErrStoreError, err)
	}
	if n == 0 {
		return errs.ErrAgentUnknown
	}
	return nil
}
