package procexec_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/procexec"
)

func TestSpawn_NaturalCompletion(t *testing.T) {
	m := procexec.NewManager(nil)

	var (
		mu      sync.Mutex
		outcome procexec.Outcome
		fired   bool
	)
	done := make(chan struct{})

	_, err := m.Spawn(context.Background(), procexec.Spec{
		Argv:         []string{"/bin/sh", "-c", "exit 0"},
		PollInterval: 20 * time.Millisecond,
		OnStatus: func(h *procexec.Handle, o procexec.Outcome, err error) {
			mu.Lock()
			outcome = o
			fired = true
			mu.Unlock()
			close(done)
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.True(t, fired)
	require.Equal(t, procexec.OutcomeCompleted, outcome)
}

func TestSpawn_DeadlineEscalatesToGracefulThenHardKill(t *testing.T) {
	m := procexec.NewManager(nil)

	done := make(chan procexec.Outcome, 2)

	_, err := m.Spawn(context.Background(), procexec.Spec{
		Argv:         []string{"/bin/sh", "-c", "trap '' TERM; sleep 30"},
		Deadline:     50 * time.Millisecond,
		GraceWindow:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		OnStatus: func(h *procexec.Handle, o procexec.Outcome, err error) {
			done <- o
		},
	})
	require.NoError(t, err)

	select {
	case outcome := <-done:
		require.Equal(t, procexec.OutcomeDeadlineExceeded, outcome, "the deadline fires a non-terminal transition first")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deadline callback")
	}

	select {
	case outcome := <-done:
		require.Equal(t, procexec.OutcomeTimedOut, outcome, "a process that ignores TERM is hard-killed after the grace window")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for hard-kill escalation")
	}
}

func TestSpawn_CleanExitDuringGraceReportsCompleted(t *testing.T) {
	m := procexec.NewManager(nil)

	done := make(chan procexec.Outcome, 2)

	_, err := m.Spawn(context.Background(), procexec.Spec{
		Argv:         []string{"/bin/sh", "-c", "sleep 0.05; exit 0"},
		Deadline:     10 * time.Millisecond,
		GraceWindow:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
		OnStatus: func(h *procexec.Handle, o procexec.Outcome, err error) {
			done <- o
		},
	})
	require.NoError(t, err)

	select {
	case outcome := <-done:
		require.Equal(t, procexec.OutcomeDeadlineExceeded, outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deadline callback")
	}

	select {
	case outcome := <-done:
		require.Equal(t, procexec.OutcomeCompleted, outcome, "exiting cleanly within the grace window is a completion, not a timeout")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for grace-window completion")
	}
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "completed", procexec.OutcomeCompleted.String())
	require.Equal(t, "timed_out", procexec.OutcomeTimedOut.String())
	require.Equal(t, "zombie", procexec.OutcomeZombie.String())
	require.Equal(t, "crashed", procexec.OutcomeCrashed.String())
	require.Equal(t, "deadline_exceeded", procexec.OutcomeDeadlineExceeded.String())
}
