// Completion detection for the Session Lifecycle Manager (C6). §4.6
// allows any one of three independent methods to declare a project
// complete: a file marker in the worktree, every tracked phase being
// terminal, or the session's pane output matching a completion pattern.
//
// The worktree marker read is grounded on the teacher's
// session/git/worktree.go (`git.PlainOpen` to inspect a worktree without
// shelling out), narrowed to a read-only existence check since
// this core never creates or mutates worktrees — that remains the
// external collaborator's concern.
package lifecycle

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// CompletionMarkerFile is the well-known file an agent writes into its
// worktree to report completion.
const CompletionMarkerFile = ".orchestrator-complete"

// paneCompletionPattern matches common "I'm done" phrasing in captured
// pane output, the third completion-detection method.
var paneCompletionPattern = regexp.MustCompile(`(?i)(task (is )?complete|all (phases|steps) (are )?done|finished implementing)`)

// WorktreeMarksComplete opens worktreeDir as a git worktree (confirming
// it is actually a git working tree, not an arbitrary directory) and
// reports whether the completion marker file is present at its root.
func WorktreeMarksComplete(worktreeDir string) (bool, error) {
	if _, err := git.PlainOpen(worktreeDir); err != nil {
		// Not a git worktree at all; fall back to a plain file check so a
		// misconfigured or stubbed worktree doesn't block every other
		// completion-detection method.
		_, statErr := os.Stat(filepath.Join(worktreeDir, CompletionMarkerFile))
		return statErr == nil, nil
	}
	_, err := os.Stat(filepath.Join(worktreeDir, CompletionMarkerFile))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PhasesAllTerminal reports whether every phase name in phases is present
// in terminalPhases, the "all phases tracked in the agent session state
// are terminal" completion method.
func PhasesAllTerminal(phases []string, terminalPhases map[string]bool) bool {
	if len(phases) == 0 {
		return false
	}
	for _, p := range phases {
		if !terminalPhases[p] {
			return false
		}
	}
	return true
}

// PaneIndicatesCompletion reports whether captured pane content matches
// a known completion phrase, the third detection method.
func PaneIndicatesCompletion(paneContent string) bool {
	return paneCompletionPattern.MatchString(strings.TrimSpace(paneContent))
}
