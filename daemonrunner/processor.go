package daemonrunner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/procexec"
	"github.com/fleetctl/orchestrator/store"
	"github.com/fleetctl/orchestrator/tmux"
)

// Processor claims queued projects and brings them to life: a tmux session
// with one window per role, and a supervised driver process whose liveness
// is cross-checked against that tmux session so an orphaned process
// (the session gone, the OS process not) is caught as a zombie rather
// than left running unattended.
type Processor struct {
	store     *store.Store
	sessions  *tmux.Controller
	processes *procexec.Manager
	lifecycle *Components
}

// NewProcessor returns a Processor bound to c's already-wired components.
func NewProcessor(c *Components) *Processor {
	return &Processor{store: c.Store, sessions: c.Sessions, processes: c.Processes, lifecycle: c}
}

// ClaimAndLaunch claims the next queued project (if any) and launches its
// session and driver process. It returns false, nil when the queue is
// currently empty or another project is already active.
func (p *Processor) ClaimAndLaunch(ctx context.Context) (bool, error) {
	project, err := p.lifecycle.Queue.ClaimNext()
	if err != nil {
		return false, fmt.Errorf("daemonrunner: claim next project: %w", err)
	}
	if project == nil {
		return false, nil
	}

	workDir := projectWorkDir(*project)
	// "proj_<id>" so the id is underscore-delimited in the resulting tmux
	// session name, the naming scheme lifecycle.matchRecentSession's
	// reboot-recovery fallback depends on to find a renamed/reattached
	// session by project id.
	sessionName := tmux.SanitizeName(fmt.Sprintf("proj_%d", project.ID))

	if err := p.sessions.CreateSession(sessionName, workDir, p.lifecycle.Roles.Names()); err != nil {
		p.failClaim(project.ID, fmt.Sprintf("create tmux session: %v", err))
		return true, err
	}

	cfg := p.lifecycle.Config
	spec := procexec.Spec{
		Argv:     []string{cfg.DefaultProgram, project.SpecPath},
		Dir:      workDir,
		Deadline: cfg.MaxProcessRuntime(),
		SessionAlive: func() bool {
			return p.sessions.SessionAlive(sessionName)
		},
		OnStatus: p.lifecycle.Lifecycle.OnProcessStatus(project.ID),
	}

	handle, err := p.processes.Spawn(ctx, spec)
	if err != nil {
		_ = p.sessions.KillSession(sessionName)
		p.failClaim(project.ID, fmt.Sprintf("spawn driver process: %v", err))
		return true, err
	}

	pid := handle.Pid()
	if err := p.store.UpdateProject(project.ID, store.ProjectUpdate{
		SessionName: &sessionName,
		MainPID:     &pid,
	}); err != nil {
		log.Errorf("daemonrunner: record session for project %d: %v", project.ID, err)
	}

	log.Infof("daemonrunner: launched project %d in session %s (pid %d)", project.ID, sessionName, pid)
	return true, nil
}

func (p *Processor) failClaim(projectID int64, reason string) {
	if err := p.store.UpdateProject(projectID, store.ProjectUpdate{
		Status:       strPtr(store.ProjectFailed),
		ErrorMessage: &reason,
	}); err != nil {
		log.Errorf("daemonrunner: mark project %d failed after launch error: %v", projectID, err)
	}
}

func projectWorkDir(p store.Project) string {
	if p.ProjectPath != nil && *p.ProjectPath != "" {
		return *p.ProjectPath
	}
	return filepath.Dir(p.SpecPath)
}

func strPtr(s string) *string { return &s }

// Run claims and launches projects on a fixed interval until stopped,
// mirroring lifecycle.Manager.Run's ticker-plus-stop-channel shape.
func (p *Processor) Run(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := p.ClaimAndLaunch(ctx); err != nil {
					log.Warnf("daemonrunner: claim and launch: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
