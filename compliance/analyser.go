package compliance

import (
	"regexp"
	"sync"

	"github.com/fleetctl/orchestrator/store"
)

// Violation is one rule infraction found in a message.
type Violation struct {
	RuleID     string
	Severity   string
	Excerpt    string
	Correction string
}

// Result is the per-message analysis output of §4.8.
type Result struct {
	Compliant  bool
	Violations []Violation
}

// ExternalEvaluator is the pluggable hook for an AI-backed evaluator; when
// non-nil, Analyser prefers it over the deterministic pattern fallback,
// per §4.8 ("when an external AI evaluator is available, that is used").
type ExternalEvaluator interface {
	Evaluate(message string, rules []store.Rule) (Result, error)
}

// Analyser evaluates messages against the currently active rule set.
type Analyser struct {
	store    *store.Store
	external ExternalEvaluator

	mu      sync.RWMutex
	rules   []store.Rule
	pattern map[string]*regexp.Regexp
}

// NewAnalyser returns an Analyser. external may be nil, in which case
// every evaluation uses the deterministic pattern-hint fallback.
func NewAnalyser(st *store.Store, external ExternalEvaluator) (*Analyser, error) {
	a := &Analyser{store: st, external: external}
	if err := a.Reload(); err != nil {
		return nil, err
	}
	return a, nil
}

// Reload re-reads the active rule set from the store, for the watcher's
// "drop a trigger marker that causes the analyser to reload" step.
func (a *Analyser) Reload() error {
	rules, err := a.store.ListRules()
	if err != nil {
		return err
	}
	compiled := make(map[string]*regexp.Regexp, len(rules))
	for _, r := range rules {
		if r.PatternHint == nil {
			continue
		}
		if re, err := regexp.Compile(*r.PatternHint); err == nil {
			compiled[r.ID] = re
		}
	}
	a.mu.Lock()
	a.rules = rules
	a.pattern = compiled
	a.mu.Unlock()
	return nil
}

// Evaluate analyses message against the active rule set.
func (a *Analyser) Evaluate(message string) (Result, error) {
	a.mu.RLock()
	rules := a.rules
	a.mu.RUnlock()

	if a.external != nil {
		return a.external.Evaluate(message, rules)
	}
	return a.evaluateFallback(message, rules), nil
}

// evaluateFallback implements the deterministic per-rule pattern
// evaluation §4.8 requires when no external evaluator is configured: a
// rule with no pattern hint cannot be mechanically checked and is skipped
// rather than treated as always-violated.
func (a *Analyser) evaluateFallback(message string, rules []store.Rule) Result {
	a.mu.RLock()
	pattern := a.pattern
	a.mu.RUnlock()

	var violations []Violation
	for _, r := range rules {
		re, ok := pattern[r.ID]
		if !ok {
			continue
		}
		loc := re.FindStringIndex(message)
		if loc == nil {
			continue
		}
		excerpt := message[loc[0]:loc[1]]
		correction := ""
		if r.SuggestedCorrection != nil {
			correction = *r.SuggestedCorrection
		}
		violations = append(violations, Violation{
			RuleID:     r.ID,
			Severity:   r.Severity,
			Excerpt:    excerpt,
			Correction: correction,
		})
	}
	return Result{Compliant: len(violations) == 0, Violations: violations}
}
