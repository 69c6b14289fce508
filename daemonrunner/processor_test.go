package daemonrunner_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/config"
	"github.com/fleetctl/orchestrator/daemonrunner"
	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/lifecycle"
	"github.com/fleetctl/orchestrator/procexec"
	"github.com/fleetctl/orchestrator/queue"
	"github.com/fleetctl/orchestrator/roles"
	"github.com/fleetctl/orchestrator/store"
	"github.com/fleetctl/orchestrator/tmux"
)

type fakeTmuxExec struct{}

func (fakeTmuxExec) Run(cmd *exec.Cmd) error              { return nil }
func (fakeTmuxExec) Output(cmd *exec.Cmd) ([]byte, error) { return []byte(""), nil }
func (fakeTmuxExec) Start(cmd *exec.Cmd) error            { return nil }

type fakeProcExec struct{}

func (fakeProcExec) Run(cmd *exec.Cmd) error              { return nil }
func (fakeProcExec) Output(cmd *exec.Cmd) ([]byte, error) { return []byte(""), nil }
func (fakeProcExec) Start(cmd *exec.Cmd) error            { return nil }

func newTestComponents(t *testing.T) *daemonrunner.Components {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	events := eventbus.New(t.TempDir(), 10, 100)
	sessions := tmux.NewControllerWithExecutor(fakeTmuxExec{})
	processes := procexec.NewManager(fakeProcExec{})
	lifecycleMgr := lifecycle.New(st, sessions, events, cfg)
	sched := queue.NewScheduler(st, nil, nil)
	registry, err := roles.New(cfg.Roles)
	require.NoError(t, err)

	return &daemonrunner.Components{
		Config:    cfg,
		Store:     st,
		Events:    events,
		Sessions:  sessions,
		Processes: processes,
		Lifecycle: lifecycleMgr,
		Queue:     sched,
		Roles:     registry,
	}
}

func TestClaimAndLaunch_NoQueuedProjectReturnsFalse(t *testing.T) {
	c := newTestComponents(t)
	p := daemonrunner.NewProcessor(c)

	launched, err := p.ClaimAndLaunch(context.Background())
	require.NoError(t, err)
	require.False(t, launched)
}

func TestClaimAndLaunch_LaunchesQueuedProject(t *testing.T) {
	c := newTestComponents(t)
	_, err := c.Queue.Enqueue("spec.md", nil, 0)
	require.NoError(t, err)

	p := daemonrunner.NewProcessor(c)
	launched, err := p.ClaimAndLaunch(context.Background())
	require.NoError(t, err)
	require.True(t, launched)

	projects, err := c.Queue.List(store.ProjectProcessing)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.NotNil(t, projects[0].SessionName)
}

func TestClaimAndLaunch_SecondCallFindsNoMoreWork(t *testing.T) {
	c := newTestComponents(t)
	_, err := c.Queue.Enqueue("spec.md", nil, 0)
	require.NoError(t, err)

	p := daemonrunner.NewProcessor(c)
	_, err = p.ClaimAndLaunch(context.Background())
	require.NoError(t, err)

	launched, err := p.ClaimAndLaunch(context.Background())
	require.NoError(t, err)
	require.False(t, launched, "only one project may be processing at a time")
}
