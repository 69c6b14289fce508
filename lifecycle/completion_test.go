package lifecycle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/lifecycle"
)

func TestWorktreeMarksComplete_NotAGitDirFallsBackToFileCheck(t *testing.T) {
	dir := t.TempDir()

	ok, err := lifecycle.WorktreeMarksComplete(dir)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(dir, lifecycle.CompletionMarkerFile), []byte("done"), 0644))

	ok, err = lifecycle.WorktreeMarksComplete(dir)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPhasesAllTerminal(t *testing.T) {
	terminal := map[string]bool{"design": true, "implement": true, "review": true}
	require.True(t, lifecycle.PhasesAllTerminal([]string{"design", "implement", "review"}, terminal))
	require.False(t, lifecycle.PhasesAllTerminal([]string{"design", "implement", "deploy"}, terminal))
	require.False(t, lifecycle.PhasesAllTerminal(nil, terminal))
}

func TestPaneIndicatesCompletion(t *testing.T) {
	require.True(t, lifecycle.PaneIndicatesCompletion("All tests pass. Task is complete."))
	require.True(t, lifecycle.PaneIndicatesCompletion("Finished implementing the feature."))
	require.False(t, lifecycle.PaneIndicatesCompletion("Still working on the edge cases."))
}
