// Package compliance implements the Compliance Engine (C8): parsing a
// plain-text rules document into stable rule entities, watching it for
// edits, evaluating agent-to-agent messages against the active rule set,
// and emitting suppressed violation events onto the event bus.
//
// §4.8 explicitly scopes the rule language's grammar out of this core
// beyond "stable ids within each category" — the extractor below is
// intentionally a small heading/bullet format, not a general rules DSL.
package compliance

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/fleetctl/orchestrator/store"
)

// Document format:
//
//	## <category>
//	- [<id>] <severity>: <description>
//	  pattern: <regex hint>        (optional)
//	  correction: <suggestion>     (optional)
var (
	headingRe = regexp.MustCompile(`^##\s+(.+)$`)
	ruleRe    = regexp.MustCompile(`^-\s+\[([\w.-]+)\]\s+(\w+):\s+(.+)$`)
	patternRe = regexp.MustCompile(`^\s+pattern:\s*(.+)$`)
	correctRe = regexp.MustCompile(`^\s+correction:\s*(.+)$`)
)

// ParseDocument extracts Rule entities from a rules document's content.
// A rule id must be unique within its category; a duplicate id is an
// error rather than a silent overwrite, since the store's replace is
// atomic and all-or-nothing.
func ParseDocument(content string) ([]store.Rule, error) {
	var rules []store.Rule
	var category string
	seen := map[string]bool{}
	var current *store.Rule

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()

		if m := headingRe.FindStringSubmatch(line); m != nil {
			category = strings.TrimSpace(m[1])
			current = nil
			continue
		}
		if m := ruleRe.FindStringSubmatch(line); m != nil {
			if category == "" {
				return nil, fmt.Errorf("compliance: rule %q declared before any category heading", m[1])
			}
			key := category + "/" + m[1]
			if seen[key] {
				return nil, fmt.Errorf("compliance: duplicate rule id %q in category %q", m[1], category)
			}
			seen[key] = true
			rules = append(rules, store.Rule{
				ID:          m[1],
				Category:    category,
				Severity:    m[2],
				Description: strings.TrimSpace(m[3]),
			})
			current = &rules[len(rules)-1]
			continue
		}
		if current != nil {
			if m := patternRe.FindStringSubmatch(line); m != nil {
				hint := strings.TrimSpace(m[1])
				current.PatternHint = &hint
				continue
			}
			if m := correctRe.FindStringSubmatch(line); m != nil {
				correction := strings.TrimSpace(m[1])
				current.SuggestedCorrection = &correction
				continue
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("compliance: scan rules document: %w", err)
	}
	return rules, nil
}

// Extractor re-parses the rules document at path and replaces the store's
// active rule set atomically (§4.8: "running the extractor replaces the
// previous rule set atomically").
type Extractor struct {
	store *store.Store
	path  string
}

// NewExtractor returns an Extractor bound to a document path.
func NewExtractor(st *store.Store, path string) *Extractor {
	return &Extractor{store: st, path: path}
}

// Run reads the document, parses it, and replaces the store's rule set.
// It returns the new generation number.
func (e *Extractor) Run() (int, error) {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return 0, fmt.Errorf("compliance: read rules document: %w", err)
	}
	rules, err := ParseDocument(string(raw))
	if err != nil {
		return 0, err
	}
	return e.store.ReplaceRules(rules)
}
