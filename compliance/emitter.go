package compliance

import (
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/eventbus"
	"github.com/fleetctl/orchestrator/log"
)

// Emitter turns Analyser violations into C9 events, suppressing repeats of
// the identical (sender, recipient, rule) violation within a sliding
// window so a chatty agent does not flood the operator surface (§4.8).
type Emitter struct {
	events *eventbus.Bus
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewEmitter returns an Emitter. window <= 0 uses the §6.5 default of
// 300s (ViolationSuppressWindowSec).
func NewEmitter(events *eventbus.Bus, window time.Duration) *Emitter {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &Emitter{events: events, window: window, seen: make(map[string]time.Time)}
}

// Emit publishes a violation event for each non-compliant finding in
// result, unless an identical (sender, recipient, rule) tuple was already
// emitted within the suppression window.
func (e *Emitter) Emit(sender, recipient string, result Result) error {
	now := time.Now()
	for _, v := range result.Violations {
		key := sender + "\x00" + recipient + "\x00" + v.RuleID
		if e.suppressed(key, now) {
			log.Debugf("compliance: suppressing duplicate violation %s within window", key)
			continue
		}
		if err := e.events.Publish(eventbus.ChannelViolation, severityFor(v.Severity), map[string]any{
			"sender":     sender,
			"recipient":  recipient,
			"rule_id":    v.RuleID,
			"excerpt":    v.Excerpt,
			"correction": v.Correction,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emitter) suppressed(key string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.seen[key]; ok && now.Sub(last) < e.window {
		return true
	}
	e.seen[key] = now
	return false
}

func severityFor(ruleSeverity string) string {
	switch ruleSeverity {
	case "critical":
		return eventbus.SeverityCritical
	case "warning":
		return eventbus.SeverityWarning
	default:
		return eventbus.SeverityInfo
	}
}
