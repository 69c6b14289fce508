// Package daemonrunner wires C1-C9 into the two singleton daemons §6.3
// exposes (scheduler, queue processor) plus the operator CLI's one-shot
// commands. It owns no business logic of its own beyond composition,
// matching the teacher's daemon package's role as glue rather than a
// third implementation of anything.
package daemonrunner

import (
	"fmt"

	"github.com/fleetctl/orchestrator/agentctx"
	"github.com/fleetctl/orchestrator/compliance"
	"github.com/fleetctl/orchestrator/config"
	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/lifecycle"
	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/messagebus"
	"github.com/fleetctl/orchestrator/procexec"
	"github.com/fleetctl/orchestrator/queue"
	"github.com/fleetctl/orchestrator/roles"
	"github.com/fleetctl/orchestrator/store"
	"github.com/fleetctl/orchestrator/tmux"
)

// Components holds every live dependency the daemons and CLI commands
// need. It is built once per process invocation.
type Components struct {
	Config *config.Config

	Store     *store.Store
	Events    *eventbus.Bus
	Messages  *messagebus.Bus
	Sessions  *tmux.Controller
	Processes *procexec.Manager
	Lifecycle *lifecycle.Manager
	Queue     *queue.Scheduler
	AgentCtx  *agentctx.Manager
	Roles     *roles.Registry

	Analyser  *compliance.Analyser
	Emitter   *compliance.Emitter
	Extractor *compliance.Extractor
	Watcher   *compliance.Watcher

	eventLogStop chan struct{}
}

// New opens the store and wires every component over it. Callers must
// call Close when done.
func New(cfg *config.Config) (*Components, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("daemonrunner: open store: %w", err)
	}

	events := eventbus.New(cfg.EventLogDir, cfg.EventBufferSize, cfg.NotifyRateLimitPerMin)
	messages := messagebus.New(st, events, cfg.DependencyTimeout(), cfg.RateLimitPerMinute)
	sessions := tmux.NewController()
	processes := procexec.NewManager(nil)
	lifecycleMgr := lifecycle.New(st, sessions, events, cfg)
	registry, err := roles.New(cfg.Roles)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("daemonrunner: build role registry: %w", err)
	}

	var credit queue.CreditChecker = func(agentSession string) bool {
		agent, err := st.GetAgent(agentSession)
		if err != nil {
			return false
		}
		return agent.Status == store.AgentError
	}
	sched := queue.NewScheduler(st, messages, credit)

	analyser, err := compliance.NewAnalyser(st, nil)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("daemonrunner: build compliance analyser: %w", err)
	}
	emitter := compliance.NewEmitter(events, cfg.ViolationSuppressWindow())
	extractor := compliance.NewExtractor(st, cfg.RulesDocumentPath)

	c := &Components{
		Config:    cfg,
		Store:     st,
		Events:    events,
		Messages:  messages,
		Sessions:  sessions,
		Processes: processes,
		Lifecycle: lifecycleMgr,
		Queue:     sched,
		AgentCtx:  agentctx.New(st),
		Roles:     registry,
		Analyser:  analyser,
		Emitter:   emitter,
		Extractor: extractor,
	}

	watcher, err := compliance.NewWatcher(extractor, cfg.RulesDocumentPath, cfg.RulesDebounce(), func(int) {
		if rerr := analyser.Reload(); rerr != nil {
			log.Warnf("daemonrunner: reload analyser after rules change: %v", rerr)
		}
	})
	if err != nil {
		log.Warnf("daemonrunner: rules document watcher unavailable: %v", err)
	} else {
		c.Watcher = watcher
	}

	c.eventLogStop = make(chan struct{})
	go persistEventLog(st, events.Subscribe(""), c.eventLogStop)

	return c, nil
}

// persistEventLog mirrors every event received on ch (New subscribes it to
// every channel before starting this goroutine, so no event published after
// New returns is missed) into the event_log table, so BuildDiagnostics can
// summarize recent activity without re-parsing the on-disk JSONL files.
// eventbus.Bus has no Unsubscribe, so this goroutine runs for the lifetime
// of stop and simply stops reading when it is closed; the subscription
// channel is left for the garbage collector.
func persistEventLog(st *store.Store, ch <-chan eventbus.Event, stop <-chan struct{}) {
	for {
		select {
		case ev := <-ch:
			if err := st.AppendEventLog(ev.TS, ev.Channel, ev.Severity, string(ev.Payload)); err != nil {
				log.Warnf("daemonrunner: persist event log row: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// Close releases every component that holds an OS resource.
func (c *Components) Close() error {
	if c.Watcher != nil {
		_ = c.Watcher.Stop()
	}
	if c.eventLogStop != nil {
		close(c.eventLogStop)
	}
	return c.Store.Close()
}
