package lifecycle

import (
	"fmt"
	"time"

	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/log"
)

// restartWindow bounds how far back restarts count toward the hourly cap
// named in §4.6's auto-restart policy.
const restartWindow = time.Hour

// RestartDecision is the outcome of evaluating whether an agent may be
// auto-restarted.
type RestartDecision struct {
	Allowed bool
	Count   int
	Reason  string
}

// EvaluateRestart applies the on-error-notification hook's auto-restart
// policy: an agent may restart if it has fewer than MaxAgentRestarts
// restarts recorded within the last hour. The restart count itself is
// reset by the caller once the window has elapsed (RecordAgentRestart
// always increments, so Reset must be called by the reboot/recovery path
// when a restart succeeds and the agent runs cleanly past the window).
func (m *Manager) EvaluateRestart(agentID string) (RestartDecision, error) {
	agent, err := m.store.GetAgent(agentID)
	if err != nil {
		return RestartDecision{}, err
	}

	count := agent.RestartCount
	if agent.LastRestart != nil && time.Since(*agent.LastRestart) > restartWindow {
		count = 0
	}

	if count >= m.cfg.MaxAgentRestarts {
		return RestartDecision{Allowed: false, Count: count, Reason: "restart budget exhausted for this hour"}, nil
	}
	return RestartDecision{Allowed: true, Count: count}, nil
}

// Restart kills the project's tmux session (when it is alive) and recreates
// it with windows, then records the restart and lastError against the
// agent. sessionName and workDir locate the project's tmux session.
// Restart does not read the agent's context snapshot and does not enqueue
// a re-briefing message.
func (m *Manager) Restart(agentID, sessionName, workDir string, windows []string, lastError string) error {
	decision, err := m.EvaluateRestart(agentID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		log.Warnf("lifecycle: agent %s restart denied: %s", agentID, decision.Reason)
		if m.events != nil {
			if perr := m.events.Publish(eventbus.ChannelStatusUpdate, eventbus.SeverityCritical,
				map[string]any{"kind": "restart_denied", "agent": agentID, "reason": decision.Reason}); perr != nil {
				log.Warnf("lifecycle: publish restart-denied event: %v", perr)
			}
		}
		return fmt.Errorf("restart denied for %s: %s", agentID, decision.Reason)
	}

	if m.sessions.SessionAlive(sessionName) {
		if err := m.sessions.KillSession(sessionName); err != nil {
			return fmt.Errorf("lifecycle: kill session before restart: %w", err)
		}
	}
	if err := m.sessions.CreateSession(sessionName, workDir, windows); err != nil {
		return fmt.Errorf("lifecycle: recreate session: %w", err)
	}

	newCount, err := m.store.RecordAgentRestart(agentID, lastError)
	if err != nil {
		return err
	}
	log.Infof("lifecycle: restarted agent %s (restart %d/%d this hour)", agentID, newCount, m.cfg.MaxAgentRestarts)

	if m.events != nil {
		if perr := m.events.Publish(eventbus.ChannelStatusUpdate, eventbus.SeverityWarning,
			map[string]any{"kind": "agent_restarted", "agent": agentID, "restart_count": newCount}); perr != nil {
			log.Warnf("lifecycle: publish agent-restarted event: %v", perr)
		}
	}
	return nil
}
