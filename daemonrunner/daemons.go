package daemonrunner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fleetctl/orchestrator/lifecycle"
	"github.com/fleetctl/orchestrator/lock"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

// RunSchedulerDaemon is the singleton that drives check-in scheduling,
// heartbeat/phantom/zombie sweeping, completion detection, reboot recovery,
// and the rules-document watcher. Exactly one instance may run at a time,
// enforced by an exclusive lock over cfg.LockDir.
func RunSchedulerDaemon(ctx context.Context, c *Components) error {
	h, err := lock.Acquire(c.Config.LockDir, "scheduler")
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	if err := c.recoverAfterReboot(); err != nil {
		log.Warnf("daemonrunner: reboot recovery: %v", err)
	}

	if _, err := c.Extractor.Run(); err != nil {
		log.Warnf("daemonrunner: initial rules extraction: %v", err)
	}
	if err := c.Analyser.Reload(); err != nil {
		log.Warnf("daemonrunner: initial analyser load: %v", err)
	}
	if c.Watcher != nil {
		c.Watcher.Start()
	}

	stopTick := c.Queue.Run(c.Config.SchedulerTick())
	defer stopTick()

	stopSweep := c.Lifecycle.Run(c.Config.StateSyncInterval(), worktreeOf)
	defer stopSweep()

	log.Infof("daemonrunner: scheduler daemon running")
	<-ctx.Done()
	return ctx.Err()
}

// RunQueueDaemon is the singleton Queue Processor: it claims queued
// projects one at a time and launches their session and driver process.
func RunQueueDaemon(ctx context.Context, c *Components) error {
	h, err := lock.Acquire(c.Config.LockDir, "queue")
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	proc := NewProcessor(c)
	stop := proc.Run(ctx, c.Config.SchedulerTick())
	defer stop()

	log.Infof("daemonrunner: queue daemon running")
	<-ctx.Done()
	return ctx.Err()
}

// RunBoth runs the scheduler and queue daemons in the same process, for
// small deployments that do not need them split across hosts. Either
// daemon's exit stops the other.
func RunBoth(ctx context.Context, c *Components) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return RunSchedulerDaemon(gctx, c) })
	g.Go(func() error { return RunQueueDaemon(gctx, c) })
	return g.Wait()
}

func worktreeOf(p store.Project) string {
	return projectWorkDir(p)
}

func (c *Components) recoverAfterReboot() error {
	liveSessions, err := c.Sessions.ListSessions()
	if err != nil {
		return fmt.Errorf("list live sessions: %w", err)
	}
	return c.Lifecycle.RecoverAfterReboot(liveSessions, func(projectID int64) (bool, error) {
		p, err := c.Store.GetProject(projectID)
		if err != nil {
			return false, err
		}
		return lifecycle.WorktreeMarksComplete(worktreeOf(*p))
	})
}
