// Package tmux adapts the external tmux binary into the Session
// Controller contract (§4.3): one tmux session per project, one window
// per agent role within it, driven entirely through non-interactive
// send-keys/capture-pane — no PTY attach, since nothing here needs a
// live terminal.
//
// Grounded on the teacher's session/tmux/tmux.go and tmux_io.go, adapted
// from a single-window-per-session model (one PTY-attached pane per
// agent) to the spec's one-session-per-project, one-window-per-role
// model: where the teacher opened a PTY against the whole session, this
// package issues window-scoped tmux commands (`-t session:window`) and
// never attaches.
package tmux

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/fleetctl/orchestrator/procexec"
)

const sessionPrefix = "orchestrator_"

var whiteSpaceRegex = regexp.MustCompile(`\s+`)

// SanitizeName turns an arbitrary project name into a legal, prefixed
// tmux session name; tmux itself folds any literal '.' into '_'.
func SanitizeName(name string) string {
	name = whiteSpaceRegex.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, ".", "_")
	return sessionPrefix + name
}

// Controller drives tmux sessions and windows through an injected
// Executor so tests can substitute a fake without a real tmux binary.
type Controller struct {
	exec procexec.Executor
}

// NewController returns a Controller backed by the real os/exec.
func NewController() *Controller {
	return &Controller{exec: procexec.MakeExecutor()}
}

// NewControllerWithExecutor returns a Controller backed by exec, for
// tests.
func NewControllerWithExecutor(exec procexec.Executor) *Controller {
	return &Controller{exec: exec}
}

// CreateSession starts a new detached tmux session named sessionName with
// one window per entry in windows (in order); the first window is created
// implicitly by `tmux new-session`, additional windows are added with
// `new-window`. workDir is the working directory every window starts in.
func (c *Controller) CreateSession(sessionName string, workDir string, windows []string) error {
	if len(windows) == 0 {
		return fmt.Errorf("tmux: at least one window name is required")
	}
	if c.SessionAlive(sessionName) {
		return fmt.Errorf("tmux: session already exists: %s", sessionName)
	}

	cmd := exec.Command("tmux", "new-session", "-d", "-s", sessionName,
		"-n", windows[0], "-c", workDir)
	if err := c.exec.Run(cmd); err != nil {
		return fmt.Errorf("tmux: create session %s: %w", sessionName, err)
	}

	for _, w := range windows[1:] {
		cmd := exec.Command("tmux", "new-window", "-t", sessionName, "-n", w, "-c", workDir)
		if err := c.exec.Run(cmd); err != nil {
			_ = c.KillSession(sessionName)
			return fmt.Errorf("tmux: create window %s in %s: %w", w, sessionName, err)
		}
	}

	historyCmd := exec.Command("tmux", "set-option", "-t", sessionName, "history-limit", "10000")
	if err := c.exec.Run(historyCmd); err != nil {
		return fmt.Errorf("tmux: set history-limit for %s: %w", sessionName, err)
	}
	return nil
}

// KillSession terminates a tmux session and every window in it.
func (c *Controller) KillSession(sessionName string) error {
	cmd := exec.Command("tmux", "kill-session", "-t", sessionName)
	if err := c.exec.Run(cmd); err != nil {
		return fmt.Errorf("tmux: kill session %s: %w", sessionName, err)
	}
	return nil
}

// SessionAlive reports whether sessionName currently exists. `-t=` is an
// exact match; a bare `-t` does a prefix match and would misreport
// liveness for session names that are prefixes of one another.
func (c *Controller) SessionAlive(sessionName string) bool {
	cmd := exec.Command("tmux", "has-session", fmt.Sprintf("-t=%s", sessionName))
	return c.exec.Run(cmd) == nil
}

// ListWindows returns the window names currently open in sessionName, in
// tmux's own window-index order.
func (c *Controller) ListWindows(sessionName string) ([]string, error) {
	cmd := exec.Command("tmux", "list-windows", "-t", sessionName, "-F", "#{window_name}")
	out, err := c.exec.Output(cmd)
	if err != nil {
		return nil, fmt.Errorf("tmux: list windows for %s: %w", sessionName, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	return lines, nil
}

// ListSessions returns the names of every tmux session currently running
// under this prefix, for the recovery CLI's diagnostics dump.
func (c *Controller) ListSessions() ([]string, error) {
	cmd := exec.Command("tmux", "list-sessions", "-F", "#{session_name}")
	out, err := c.exec.Output(cmd)
	if err != nil {
		// tmux exits non-zero when the server has no sessions at all.
		return nil, nil
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	var sessions []string
	for _, l := range lines {
		if strings.HasPrefix(l, sessionPrefix) {
			sessions = append(sessions, l)
		}
	}
	return sessions, nil
}

// ResolveWindow accepts either a window name or a numeric index and
// returns the "session:target" string tmux's -t flag expects.
func ResolveWindow(sessionName, nameOrIndex string) string {
	if _, err := strconv.Atoi(nameOrIndex); err == nil {
		return fmt.Sprintf("%s:%s", sessionName, nameOrIndex)
	}
	return fmt.Sprintf("%s:%s", sessionName, nameOrIndex)
}

// SendKeys sends text to the given session:window target followed by an
// Enter keystroke, the non-interactive equivalent of the teacher's
// PTY-based SendKeys.
func (c *Controller) SendKeys(target string, text string) error {
	cmd := exec.Command("tmux", "send-keys", "-t", target, text, "Enter")
	if err := c.exec.Run(cmd); err != nil {
		return fmt.Errorf("tmux: send-keys to %s: %w", target, err)
	}
	return nil
}

// CapturePane returns the visible and scrollback content of the given
// session:window target. tailLines <= 0 captures only the visible pane;
// otherwise it captures that many trailing lines of history.
func (c *Controller) CapturePane(target string, tailLines int) (string, error) {
	args := []string{"capture-pane", "-p", "-e", "-J", "-t", target}
	if tailLines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", tailLines))
	}
	cmd := exec.Command("tmux", args...)
	out, err := c.exec.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("tmux: capture-pane %s: %w", target, err)
	}
	return string(out), nil
}

// PaneAlive reports whether the process attached to the given
// session:window target is still running, distinguishing an orphaned
// shell (the agent process exited, tmux did not) from a live one.
func (c *Controller) PaneAlive(target string) (bool, error) {
	cmd := exec.Command("tmux", "display-message", "-p", "-t", target, "#{pane_dead}")
	out, err := c.exec.Output(cmd)
	if err != nil {
		return false, fmt.Errorf("tmux: pane-dead check %s: %w", target, err)
	}
	return strings.TrimSpace(string(out)) != "1", nil
}
