package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetctl/orchestrator/config"
	"github.com/fleetctl/orchestrator/daemonrunner"
	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/store"
)

var version = "1.0.0"

var (
	enqueueProject  string
	enqueuePriority int
	listStatus      string
	resetForce      bool

	hookAgent      string
	hookBootstrap  bool
	hookRebrief    bool
	hookCheckIdle  bool
)

var rootCmd = &cobra.Command{
	Use:           "orchestrator",
	Short:         "Orchestration Core - a multi-agent coding-assistant supervisor",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <spec>",
	Short: "Idempotently enqueue a project spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		var projectPath *string
		if enqueueProject != "" {
			projectPath = &enqueueProject
		}
		id, err := c.Queue.Enqueue(args[0], projectPath, enqueuePriority)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		projects, err := c.Queue.List(listStatus)
		if err != nil {
			return err
		}
		return printJSON(projects)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show full project state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
		}
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := c.Store.GetProject(id)
		if err != nil {
			return err
		}
		return printJSON(p)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Attempt graceful cancel, falling back to kill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
		}
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		p, err := c.Store.GetProject(id)
		if err != nil {
			return err
		}
		if err := c.Queue.Cancel(id, "cancelled by operator"); err != nil {
			return err
		}
		if p.MainPID != nil {
			if err := syscall.Kill(*p.MainPID, syscall.SIGTERM); err != nil {
				log.Warnf("cancel: graceful signal to pid %d failed, sending SIGKILL: %v", *p.MainPID, err)
				_ = syscall.Kill(*p.MainPID, syscall.SIGKILL)
			}
		}
		if p.SessionName != nil {
			_ = c.Sessions.KillSession(*p.SessionName)
		}
		return nil
	},
}

// hookReply is the agent-side hook protocol's structured record (§6.2): an
// empty reply (all zero fields, no message) tells the agent to go idle.
type hookReply struct {
	ID             int64  `json:"id,omitempty"`
	Payload        []byte `json:"payload,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	SequenceNumber int64  `json:"sequence_number,omitempty"`
	IsRebrief      bool   `json:"is_rebrief,omitempty"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Agent-side pull-hook entry point (--agent session:window)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if hookAgent == "" {
			return fmt.Errorf("%w: --agent is required", errs.ErrNotFound)
		}
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		var msg *store.Message
		switch {
		case hookBootstrap:
			msg, err = c.Messages.Bootstrap(hookAgent)
		case hookRebrief:
			if _, rerr := c.AgentCtx.RestoreOnRebrief(c.Messages, hookAgent); rerr != nil {
				log.Warnf("hook: restore on rebrief for %s: %v", hookAgent, rerr)
			}
			msg, err = c.Messages.Pull(hookAgent)
		default:
			// hookCheckIdle and the steady-state default both just pull;
			// an empty reply is the idle signal either way.
			msg, err = c.Messages.Pull(hookAgent)
		}
		if err != nil {
			return err
		}
		if msg == nil {
			return printJSON(hookReply{})
		}
		return printJSON(hookReply{
			ID:             msg.ID,
			Payload:        msg.Payload,
			Priority:       msg.Priority,
			SequenceNumber: msg.SequenceNumber,
			IsRebrief:      msg.Priority == store.PriorityRebrief,
		})
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Scheduler daemon commands",
}

var schedulerDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Scheduler daemon (singleton)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonrunner.RunSchedulerDaemon)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue Processor daemon commands",
}

var queueDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Queue Processor daemon (singleton)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonrunner.RunQueueDaemon)
	},
}

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Operator recovery tools",
}

var recoveryListStuckCmd = &cobra.Command{
	Use:   "list-stuck",
	Short: "List zombie, timing_out, or sessionless-processing rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		rows, err := c.Queue.StuckProjects()
		if err != nil {
			return err
		}
		return printJSON(rows)
	},
}

var recoveryResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return a stuck row to queued, or to failed with --force",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
		}
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Queue.Reset(id, !resetForce)
	},
}

var recoveryKillZombieCmd = &cobra.Command{
	Use:   "kill-zombie <id>",
	Short: "Reap a zombie project's process tree and terminal session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrNotFound, err)
		}
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		return c.Queue.KillZombie(id,
			func(pid int) error { return syscall.Kill(pid, syscall.SIGKILL) },
			c.Sessions.KillSession,
		)
	},
}

var recoveryDiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Dump store summary, lock state, and live sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openComponents()
		if err != nil {
			return err
		}
		defer c.Close()

		d, err := c.BuildDiagnostics()
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the orchestrator version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orchestrator version %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration tools",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the config file and environment layering, reporting any error",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		return printJSON(cfg)
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueProject, "project", "", "project working directory")
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "queue priority")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	recoveryResetCmd.Flags().BoolVar(&resetForce, "force", false, "reset to failed instead of queued")
	hookCmd.Flags().StringVar(&hookAgent, "agent", "", "agent session:window identifier")
	hookCmd.Flags().BoolVar(&hookBootstrap, "bootstrap", false, "on-session-start fetch, bypassing rate limiting")
	hookCmd.Flags().BoolVar(&hookRebrief, "rebrief", false, "restore last context snapshot before pulling")
	hookCmd.Flags().BoolVar(&hookCheckIdle, "check-idle", false, "on-idle poll (no side effects beyond a normal pull)")

	schedulerCmd.AddCommand(schedulerDaemonCmd)
	queueCmd.AddCommand(queueDaemonCmd)
	recoveryCmd.AddCommand(recoveryListStuckCmd, recoveryResetCmd, recoveryKillZombieCmd, recoveryDiagnosticsCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(enqueueCmd, listCmd, statusCmd, cancelCmd, hookCmd,
		schedulerCmd, queueCmd, recoveryCmd, versionCmd, configCmd)
}

// openComponents loads configuration and wires every component, for the
// one-shot CLI subcommands.
func openComponents() (*daemonrunner.Components, error) {
	log.Initialize(false)
	cfg := config.Load()
	return daemonrunner.New(cfg)
}

// runDaemon wires components for a long-running daemon, installs a
// SIGINT/SIGTERM-cancelled context, and runs fn until it returns.
func runDaemon(fn func(ctx context.Context, c *daemonrunner.Components) error) error {
	log.Initialize(true)
	defer log.Close()

	cfg := config.Load()
	c, err := daemonrunner.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = fn(ctx, c)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func parseID(raw string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(raw, "%d", &id)
	return id, err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps an error kind to the §6.3 exit-code table: 0 success; 2
// usage; 3 conflict/singleton; 4 store error; 5 subprocess timeout; 10+
// reserved for anything that doesn't map to a more specific code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errs.ErrAlreadyHeld):
		return 3
	case errors.Is(err, errs.ErrStoreError):
		return 4
	case errors.Is(err, errs.ErrTimeout):
		return 5
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrIllegalTransition):
		return 2
	default:
		return 10
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}
