package procexec

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/fleetctl/orchestrator/log"
)

// Outcome classifies the terminal state of a supervised child process.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	OutcomeZombie
	OutcomeCrashed
	// OutcomeDeadlineExceeded is a non-terminal signal: the deadline was
	// reached and the process has just been sent its graceful signal. It
	// fires once, immediately, before the grace window is waited out, so a
	// caller can move its own state to an intermediate "stopping" status
	// rather than only ever seeing the eventual terminal outcome.
	OutcomeDeadlineExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeZombie:
		return "zombie"
	case OutcomeCrashed:
		return "crashed"
	case OutcomeDeadlineExceeded:
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}

// StatusFunc is invoked on a spawned child's terminal transition (natural
// exit, grace-window completion, hard-killed timeout, or zombie detection),
// and once more, non-terminally, the instant a deadline is reached and the
// process enters its grace window (OutcomeDeadlineExceeded).
type StatusFunc func(handle *Handle, outcome Outcome, err error)

// SessionChecker reports whether a companion terminal session (the tmux
// window the child's output is attached to) is still alive. A child whose OS
// process is alive but whose session has disappeared is a zombie (§4.4).
type SessionChecker func() bool

// Spec describes a child process to supervise.
type Spec struct {
	Argv               []string
	Env                []string
	Dir                string
	Deadline           time.Duration // wall-clock budget before graceful stop
	GraceWindow        time.Duration // time between graceful signal and hard kill
	GracefulSignal     syscall.Signal
	HardSignal         syscall.Signal
	PollInterval       time.Duration // how often to poll liveness/zombie state
	SessionAlive       SessionChecker // nil disables zombie detection
	MaxRSSKB           int64          // 0 disables the memory cap
	OnStatus           StatusFunc
}

// Handle is a supervised child process.
type Handle struct {
	Spec    Spec
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	mu      sync.Mutex
	done    bool
	started time.Time
}

// Manager spawns and supervises children per Spec.
type Manager struct {
	exec Executor
}

func NewManager(exec Executor) *Manager {
	if exec == nil {
		exec = MakeExecutor()
	}
	return &Manager{exec: exec}
}

// Spawn starts the child described by spec and launches its supervisory
// goroutine. It returns immediately with a Handle; spec.OnStatus fires
// asynchronously when the child reaches a terminal state.
func (m *Manager) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.GracefulSignal == 0 {
		spec.GracefulSignal = syscall.SIGTERM
	}
	if spec.HardSignal == 0 {
		spec.HardSignal = syscall.SIGKILL
	}
	if spec.GraceWindow == 0 {
		spec.GraceWindow = 30 * time.Second
	}
	if spec.PollInterval == 0 {
		spec.PollInterval = 2 * time.Second
	}

	c := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	c.Dir = spec.Dir
	if len(spec.Env) > 0 {
		c.Env = spec.Env
	}
	setDetached(c)

	if err := m.exec.Start(c); err != nil {
		return nil, err
	}

	superCtx, cancel := context.WithCancel(ctx)
	h := &Handle{Spec: spec, cmd: c, cancel: cancel, started: time.Now()}

	go m.supervise(superCtx, h)

	return h, nil
}

func (m *Manager) supervise(ctx context.Context, h *Handle) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- h.cmd.Wait() }()

	var deadlineCh <-chan time.Time
	if h.Spec.Deadline > 0 {
		t := time.NewTimer(h.Spec.Deadline)
		defer t.Stop()
		deadlineCh = t.C
	}

	ticker := time.NewTicker(h.Spec.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			m.finish(h, OutcomeCompleted, err)
			return

		case <-deadlineCh:
			log.Warnf("process %v exceeded deadline, sending graceful signal", h.Spec.Argv)
			m.enterGrace(h, waitCh)
			return

		case <-ticker.C:
			if h.Spec.SessionAlive != nil && h.cmd.Process != nil && processAlive(h.cmd.Process.Pid) && !h.Spec.SessionAlive() {
				m.finish(h, OutcomeZombie, nil)
				return
			}
			if h.Spec.MaxRSSKB > 0 {
				if rss, ok := rssForPID(h.cmd.Process.Pid); ok && rss > h.Spec.MaxRSSKB {
					log.Warnf("process %v exceeded memory cap (%d KB), escalating to timeout", h.Spec.Argv, rss)
					m.enterGrace(h, waitCh)
					return
				}
			}

		case <-ctx.Done():
			m.signal(h, h.Spec.HardSignal)
			return
		}
	}
}

// enterGrace announces the non-terminal OutcomeDeadlineExceeded transition,
// sends the graceful signal, and waits out the grace window before finishing
// the handle with whichever terminal outcome graceWait reports.
func (m *Manager) enterGrace(h *Handle, waitCh chan error) {
	if h.Spec.OnStatus != nil {
		h.Spec.OnStatus(h, OutcomeDeadlineExceeded, nil)
	}
	m.signal(h, h.Spec.GracefulSignal)
	outcome, err := m.graceWait(h, waitCh)
	m.finish(h, outcome, err)
}

// graceWait sends nothing itself; it waits up to GraceWindow for the process
// already signaled to exit, then escalates to the hard kill signal. A clean
// exit within the window reports OutcomeCompleted; only a process that had
// to be hard-killed after the window expired reports OutcomeTimedOut.
func (m *Manager) graceWait(h *Handle, waitCh chan error) (Outcome, error) {
	select {
	case err := <-waitCh:
		return OutcomeCompleted, err
	case <-time.After(h.Spec.GraceWindow):
		m.signal(h, h.Spec.HardSignal)
		select {
		case err := <-waitCh:
			return OutcomeTimedOut, err
		case <-time.After(5 * time.Second):
			return OutcomeTimedOut, nil
		}
	}
}

func (m *Manager) signal(h *Handle, sig syscall.Signal) {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(sig); err != nil {
		log.Debugf("signal %v to pid %d: %v", sig, h.cmd.Process.Pid, err)
	}
	for _, pid := range descendantsOf(h.cmd.Process.Pid) {
		_ = killPID(pid, sig)
	}
}

// Pid returns the supervised process's OS process ID, or 0 if it has not
// started yet.
func (h *Handle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func descendantsOf(pid int) []int {
	tree, err := buildProcessTree()
	if err != nil {
		return nil
	}
	return tree.descendants(pid)
}

func (m *Manager) finish(h *Handle, outcome Outcome, err error) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()
	h.cancel()
	if h.Spec.OnStatus != nil {
		h.Spec.OnStatus(h, outcome, err)
	}
}

// Kill forcibly terminates the handle's process tree immediately. The
// recovery CLI's kill-zombie command does not use it; it signals the
// recorded PID directly.
func (m *Manager) Kill(h *Handle) {
	m.signal(h, h.Spec.HardSignal)
}

func processAlive(pid int) bool {
	return processAliveOS(pid)
}
