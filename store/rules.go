package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fleetctl/orchestrator/errs"
)

// ReplaceRules atomically swaps the entire rule set for a new generation,
// used when the compliance engine's rules-document watcher observes a
// change (§4.8). generation lets callers detect whether a rule they
// cached is now stale.
func (s *Store) ReplaceRules(rules []Rule) (int, error) {
	generation := 0
	err := s.withTx(func(tx *sqlx.Tx) error {
		var maxGen int
		if err := tx.Get(&maxGen, `SELECT COALESCE(MAX(generation), 0) FROM rules`); err != nil {
			return fmt.Errorf("%w: read generation: %v", errs.ErrStoreError, err)
		}
		generation = maxGen + 1

		if _, err := tx.Exec(`DELETE FROM rules`); err != nil {
			return fmt.Errorf("%w: clear rules: %v", errs.ErrStoreError, err)
		}
		for _, r := range rules {
			if _, err := tx.Exec(`
				INSERT INTO rules (id, category, description, severity, pattern_hint, suggested_correction, generation)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.Category, r.Description, r.Severity, r.PatternHint, r.SuggestedCorrection, generation); err != nil {
				return fmt.Errorf("%w: insert rule %s: %v", errs.ErrStoreError, r.ID, err)
			}
		}
		return nil
	})
	return generation, err
}

// ListRules returns the current rule set.
func (s *Store) ListRules() ([]Rule, error) {
	var rows []Rule
	if err := s.db.Select(&rows, `SELECT * FROM rules ORDER BY category, id`); err != nil {
		return nil, fmt.Errorf("%w: list rules: %v", errs.ErrStoreError, err)
	}
	return rows, nil
}

// GetRule fetches a single rule by id.
func (s *Store) GetRule(id string) (*Rule, error) {
	var r Rule
	if err := s.db.Get(&r, `SELECT * FROM rules WHERE id = ?`, id); err != nil {
		if isNoRows(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get rule: %v", errs.ErrStoreError, err)
	}
	return &r, nil
}

// CurrentGeneration returns the rule set's current generation number.
func (s *Store) CurrentGeneration() (int, error) {
	var gen int
	if err := s.db.Get(&gen, `SELECT COALESCE(MAX(generation), 0) FROM rules`); err != nil {
		return 0, fmt.Errorf("%w: current generation: %v", errs.ErrStoreError, err)
	}
	return gen, nil
}
