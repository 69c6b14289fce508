package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fleetctl/orchestrator/errs"
)

// maxDependencyChainDepth bounds the DFS walk EnqueueMessage uses to reject
// a dependency cycle. A legitimate dependency chain never approaches this;
// it exists only to turn a cyclic graph into a bounded error instead of an
// infinite walk.
const maxDependencyChainDepth = 1024

// nextSequenceNumber atomically increments and returns the global sequence
// counter (§3.1). It must run inside the caller's transaction so the
// increment and the message insert are atomic together.
func nextSequenceNumber(tx *sqlx.Tx) (int64, error) {
	if _, err := tx.Exec(`UPDATE sequence_generator SET value = value + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("%w: bump sequence: %v", errs.ErrStoreError, err)
	}
	var v int64
	if err := tx.Get(&v, `SELECT value FROM sequence_generator WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("%w: read sequence: %v", errs.ErrStoreError, err)
	}
	return v, nil
}

// dependencyChainOK walks the chain starting at candidateDep to confirm it
// terminates within maxDependencyChainDepth hops. A new message can only
// ever point at an already-existing row, so a true cycle cannot form
// through this single insert path alone; the bounded walk instead guards
// against a pathologically long or corrupted chain (e.g. one produced by a
// future multi-dependency feature) turning into an unbounded recursive
// resolution at pull time.
func dependencyChainOK(tx *sqlx.Tx, candidateDep int64) (bool, error) {
	current := candidateDep
	for depth := 0; depth < maxDependencyChainDepth; depth++ {
		var next sql.NullInt64
		err := tx.Get(&next, `SELECT dependency_id FROM messages WHERE id = ?`, current)
		if err != nil {
			if isNoRows(err) {
				return true, nil
			}
			return false, fmt.Errorf("%w: walk dependency chain: %v", errs.ErrStoreError, err)
		}
		if !next.Valid {
			return true, nil
		}
		current = next.Int64
	}
	return false, nil
}

// EnqueueMessage inserts a message with an atomically assigned sequence
// number. If dependencyID is non-nil, the dependency chain is walked for a
// cycle before insertion; a cycle is rejected with errs.ErrDependencyCycle.
func (s *Store) EnqueueMessage(agentSession string, projectName *string, payload []byte, priority int, scope string, dependencyID *int64) (int64, error) {
	var id int64
	err := s.withTx(func(tx *sqlx.Tx) error {
		if dependencyID != nil {
			ok, err := dependencyChainOK(tx, *dependencyID)
			if err != nil {
				return err
			}
			if !ok {
				return errs.ErrDependencyCycle
			}
		}

		seq, err := nextSequenceNumber(tx)
		if err != nil {
			return err
		}

		res, err := tx.Exec(`
			INSERT INTO messages
				(agent_session, project_name, payload, priority, sequence_number,
				 dependency_id, status, fifo_scope, enqueued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			agentSession, projectName, payload, priority, seq,
			dependencyID, MessagePending, scope, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("%w: insert message: %v", errs.ErrStoreError, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// PullNextMessage selects the next deliverable message for agentSession:
// highest priority, then lowest sequence number, restricted to rows whose
// dependency (if any) has already reached delivered. A prior pulled
// message for the same agent is implicitly acknowledged by being marked
// delivered (§4.4's "pull acts as implicit ack for the previous pull").
func (s *Store) PullNextMessage(agentSession string) (*Message, error) {
	var pulled *Message
	err := s.withTx(func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, delivered_at = ?
			WHERE agent_session = ? AND status = ?`,
			MessageDelivered, now, agentSession, MessagePulled); err != nil {
			return fmt.Errorf("%w: implicit ack: %v", errs.ErrStoreError, err)
		}

		var m Message
		err := tx.Get(&m, `
			SELECT * FROM messages
			WHERE agent_session = ? AND status = ?
			  AND (dependency_id IS NULL OR dependency_id IN (
			        SELECT id FROM messages WHERE status = ?
			      ))
			ORDER BY priority DESC, sequence_number ASC
			LIMIT 1`, agentSession, MessagePending, MessageDelivered)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: select next message: %v", errs.ErrStoreError, err)
		}

		if _, err := tx.Exec(`
			UPDATE messages SET status = ?, pulled_at = ? WHERE id = ?`,
			MessagePulled, now, m.ID); err != nil {
			return fmt.Errorf("%w: mark pulled: %v", errs.ErrStoreError, err)
		}
		m.Status = MessagePulled
		m.PulledAt = &now
		pulled = &m
		return nil
	})
	return pulled, err
}

// PeekNextMessage reports the message PullNextMessage would select next
// for agentSession, without mutating anything or performing the implicit
// ack. Callers that need to apply a policy decision (e.g. the message
// bus's rate limiter) before committing to a pull use this first; there
// is a narrow window where a concurrent pull could select a different
// message than the one peeked; for the bus's own serialized callers (the
// pull-hook entry point runs at most once per agent at a time), that
// race does not arise in practice.
func (s *Store) PeekNextMessage(agentSession string) (*Message, error) {
	var m Message
	err := s.db.Get(&m, `
		SELECT * FROM messages
		WHERE agent_session = ? AND status = ?
		  AND (dependency_id IS NULL OR dependency_id IN (
		        SELECT id FROM messages WHERE status = ?
		      ))
		ORDER BY priority DESC, sequence_number ASC
		LIMIT 1`, agentSession, MessagePending, MessageDelivered)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: peek next message: %v", errs.ErrStoreError, err)
	}
	return &m, nil
}

// RequeueStalePulled moves any message that has sat in pulled longer than
// olderThan back to pending, for recovery after a dead agent never
// delivered its implicit ack.
func (s *Store) RequeueStalePulled(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(`
		UPDATE messages SET status = ?, pulled_at = NULL
		WHERE status = ? AND pulled_at < ?`,
		MessagePending, MessagePulled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: requeue stale pulled: %v", errs.ErrStoreError, err)
	}
	return res.RowsAffected()
}

// ReleaseTimedOutDependencies clears dependency_id on any message whose
// prerequisite has sat in pending longer than timeout, per §4.5's
// dependency-timeout rule: the dependency is ignored rather than waited
// on forever. Returns the ids released, so the caller can log a warning
// per message.
func (s *Store) ReleaseTimedOutDependencies(timeout time.Duration) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-timeout)
	var ids []int64
	err := s.db.Select(&ids, `
		SELECT m.id FROM messages m
		JOIN messages dep ON dep.id = m.dependency_id
		WHERE m.dependency_id IS NOT NULL
		  AND dep.status = ? AND dep.enqueued_at < ?`, MessagePending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: find timed-out dependencies: %v", errs.ErrStoreError, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`UPDATE messages SET dependency_id = NULL WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: build release query: %v", errs.ErrStoreError, err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.Exec(query, args...); err != nil {
		return nil, fmt.Errorf("%w: release timed-out dependencies: %v", errs.ErrStoreError, err)
	}
	return ids, nil
}

// ListPendingForAgent returns every pending or pulled message queued for
// an agent, oldest sequence first, for diagnostics output.
func (s *Store) ListPendingForAgent(agentSession string) ([]Message, error) {
	var rows []Message
	err := s.db.Select(&rows, `
		SELECT * FROM messages
		WHERE agent_session = ? AND status IN (?, ?)
		ORDER BY priority DESC, sequence_number ASC`,
		agentSession, MessagePending, MessagePulled)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}
