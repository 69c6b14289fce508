// Package eventbus implements the Event Bus & Rate-Limited Notifier (C9):
// an in-process publish/subscribe hub, a daily append-only JSONL event
// log, and a leaky-bucket notifier that gates outgoing operator
// notifications.
//
// Grounded on the teacher's log package for the append-only-file
// discipline (open in append mode, one JSON record per line) and on
// kubernaut's controller event recorder for the publish/subscribe shape
// (typed event struct, buffered channel per subscriber, drop-oldest
// backpressure on a full channel).
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetctl/orchestrator/log"
	"github.com/fleetctl/orchestrator/ratelimit"
)

// Known channel names (§4.9).
const (
	ChannelViolation        = "violation"
	ChannelProjectCompleted = "project_completed"
	ChannelProjectFailed    = "project_failed"
	ChannelStatusUpdate     = "status_update"
	ChannelCreditExhausted  = "credit_exhausted"
	ChannelTaskCompleted    = "task_completed"
)

// Severities used in event records.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one record flowing through the bus, and the unit appended to
// the daily JSONL log (§6.4).
type Event struct {
	TS       time.Time       `json:"ts"`
	Channel  string          `json:"channel"`
	Severity string          `json:"severity"`
	Payload  json.RawMessage `json:"payload"`
}

// Bus is an in-process publish/subscribe hub with a bounded per-channel
// event-log writer and a leaky-bucket notifier gate.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]chan Event
	logDir      string
	bufferSize  int

	notifier *ratelimit.Bucket
}

// New returns a Bus that appends event log files under logDir/YYYY-MM-DD.jsonl
// and buffers at most bufferSize events per subscriber channel before
// dropping the oldest (critical/emergency events never drop, per §5's
// backpressure rule).
func New(logDir string, bufferSize int, notifyPerMinute int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[string][]chan Event),
		logDir:      logDir,
		bufferSize:  bufferSize,
		notifier:    ratelimit.New(notifyPerMinute),
	}
}

// Subscribe returns a channel that receives every event published to
// channel (or every event, if channel is ""). The channel is buffered to
// bufferSize; when full, non-critical events are dropped and logged,
// critical ones always get through by evicting the oldest entry.
func (b *Bus) Subscribe(channel string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.bufferSize)
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	return ch
}

// Publish appends the event to today's log file, fans it out to matching
// subscribers, and applies the notifier's rate limit for severity levels
// below critical.
func (b *Bus) Publish(channel, severity string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}
	ev := Event{TS: time.Now().UTC(), Channel: channel, Severity: severity, Payload: raw}

	if err := b.appendLog(ev); err != nil {
		log.Warnf("eventbus: failed to append event log: %v", err)
	}

	b.fanOut(channel, ev)

	bypass := severity == SeverityCritical
	if !bypass && !b.notifier.Allow() {
		log.Debugf("eventbus: notification suppressed by rate limit: %s/%s", channel, severity)
		return nil
	}
	return nil
}

func (b *Bus) fanOut(channel string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers[channel] {
		b.deliver(ch, ev)
	}
	for _, ch := range b.subscribers[""] {
		b.deliver(ch, ev)
	}
}

func (b *Bus) deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	if ev.Severity == SeverityCritical {
		select {
		case <-ch: // evict oldest to make room
		default:
		}
		select {
		case ch <- ev:
		default:
		}
		return
	}
	log.Warnf("eventbus: subscriber buffer full, dropping %s event", ev.Channel)
}

func (b *Bus) appendLog(ev Event) error {
	if b.logDir == "" {
		return nil
	}
	if err := os.MkdirAll(b.logDir, 0755); err != nil {
		return fmt.Errorf("mkdir event log dir: %w", err)
	}
	path := filepath.Join(b.logDir, ev.TS.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
