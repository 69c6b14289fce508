package tmux_test

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetctl/orchestrator/tmux"
)

type fakeExecutor struct {
	runFunc    func(cmd *exec.Cmd) error
	outputFunc func(cmd *exec.Cmd) ([]byte, error)
}

func (f fakeExecutor) Run(cmd *exec.Cmd) error {
	if f.runFunc != nil {
		return f.runFunc(cmd)
	}
	return nil
}

func (f fakeExecutor) Output(cmd *exec.Cmd) ([]byte, error) {
	if f.outputFunc != nil {
		return f.outputFunc(cmd)
	}
	return []byte(""), nil
}

func (f fakeExecutor) Start(cmd *exec.Cmd) error {
	return f.Run(cmd)
}

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "orchestrator_asdf", tmux.SanitizeName("asdf"))
	require.Equal(t, "orchestrator_asdf", tmux.SanitizeName("a sd f"))
	require.Equal(t, "orchestrator_a_sd_f", tmux.SanitizeName("a.sd.f"))
}

func TestCreateSession_RefusesIfAlreadyAlive(t *testing.T) {
	cmdExec := fakeExecutor{
		runFunc: func(cmd *exec.Cmd) error {
			if strings.Contains(cmd.String(), "has-session") {
				return nil // exists
			}
			return nil
		},
	}
	c := tmux.NewControllerWithExecutor(cmdExec)
	err := c.CreateSession("orchestrator_demo", "/tmp", []string{"orchestrator"})
	require.Error(t, err)
}

func TestCreateSession_CreatesOneWindowPerRole(t *testing.T) {
	var newWindowCalls int
	cmdExec := fakeExecutor{
		runFunc: func(cmd *exec.Cmd) error {
			s := cmd.String()
			switch {
			case strings.Contains(s, "has-session"):
				return errNotExists{}
			case strings.Contains(s, "new-window"):
				newWindowCalls++
				return nil
			default:
				return nil
			}
		},
	}
	c := tmux.NewControllerWithExecutor(cmdExec)
	err := c.CreateSession("orchestrator_demo", "/tmp", []string{"orchestrator", "implementer", "reviewer"})
	require.NoError(t, err)
	require.Equal(t, 2, newWindowCalls, "first window is implicit in new-session; the rest use new-window")
}

type errNotExists struct{}

func (errNotExists) Error() string { return "no such session" }

func TestSendKeys_IncludesEnter(t *testing.T) {
	var captured *exec.Cmd
	fe := fakeExecutor{
		runFunc: func(cmd *exec.Cmd) error {
			captured = cmd
			return nil
		},
	}
	c := tmux.NewControllerWithExecutor(fe)
	require.NoError(t, c.SendKeys("orchestrator_demo:orchestrator", "hello"))
	require.Contains(t, captured.String(), "Enter")
}

func TestCapturePane_ReturnsOutput(t *testing.T) {
	fe := fakeExecutor{
		outputFunc: func(cmd *exec.Cmd) ([]byte, error) {
			return []byte("pane contents"), nil
		},
	}
	c := tmux.NewControllerWithExecutor(fe)
	out, err := c.CapturePane("orchestrator_demo:orchestrator", 0)
	require.NoError(t, err)
	require.Equal(t, "pane contents", out)
}

func TestPaneAlive(t *testing.T) {
	fe := fakeExecutor{
		outputFunc: func(cmd *exec.Cmd) ([]byte, error) {
			return []byte("0\n"), nil
		},
	}
	c := tmux.NewControllerWithExecutor(fe)
	alive, err := c.PaneAlive("orchestrator_demo:orchestrator")
	require.NoError(t, err)
	require.True(t, alive)
}

func TestListSessions_FiltersToOwnPrefix(t *testing.T) {
	fe := fakeExecutor{
		outputFunc: func(cmd *exec.Cmd) ([]byte, error) {
			return []byte("orchestrator_proj1\nother_tool_session\norchestrator_proj2\n"), nil
		},
	}
	c := tmux.NewControllerWithExecutor(fe)
	sessions, err := c.ListSessions()
	require.NoError(t, err)
	require.Equal(t, []string{"orchestrator_proj1", "orchestrator_proj2"}, sessions)
}

func TestListSessions_NoServerReturnsEmpty(t *testing.T) {
	fe := fakeExecutor{
		outputFunc: func(cmd *exec.Cmd) ([]byte, error) {
			return nil, errNotExists{}
		},
	}
	c := tmux.NewControllerWithExecutor(fe)
	sessions, err := c.ListSessions()
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestResolveWindow(t *testing.T) {
	require.Equal(t, "orchestrator_demo:orchestrator", tmux.ResolveWindow("orchestrator_demo", "orchestrator"))
	require.Equal(t, "orchestrator_demo:2", tmux.ResolveWindow("orchestrator_demo", "2"))
}
