package store

import "time"

// Project status values (§3.1, state machine §4.6).
const (
	ProjectQueued       = "queued"
	ProjectProcessing   = "processing"
	ProjectTimingOut    = "timing_out"
	ProjectZombie       = "zombie"
	ProjectCompleted    = "completed"
	ProjectFailed       = "failed"
	ProjectCreditPaused = "credit_paused"
)

// Message status values (§3.1).
const (
	MessagePending   = "pending"
	MessagePulled    = "pulled"
	MessageDelivered = "delivered"
	MessageExpired   = "expired"
)

// Message FIFO scopes (§3.1).
const (
	ScopeAgent   = "agent"
	ScopeProject = "project"
	ScopeGlobal  = "global"
)

// Agent status values (§3.1).
const (
	AgentActive  = "active"
	AgentReady   = "ready"
	AgentOffline = "offline"
	AgentError   = "error"
)

// Priority bands (§4.5).
const (
	PriorityNormal    = 0
	PriorityHigh      = 10
	PriorityCritical  = 50
	PriorityEmergency = 100
	PriorityRebrief   = 200
)

// Project is one queue row.
type Project struct {
	ID                int64      `db:"id"`
	SpecPath          string     `db:"spec_path"`
	ProjectPath       *string    `db:"project_path"`
	BatchID           *string    `db:"batch_id"`
	Priority          int        `db:"priority"`
	EnqueuedAt        time.Time  `db:"enqueued_at"`
	Status            string     `db:"status"`
	RetryCount        int        `db:"retry_count"`
	SessionName       *string    `db:"session_name"`
	MainPID           *int       `db:"main_pid"`
	StartedAt         *time.Time `db:"started_at"`
	HeartbeatAt       *time.Time `db:"heartbeat_at"`
	TimeoutExtensions int        `db:"timeout_extensions"`
	ErrorMessage      *string    `db:"error_message"`
}

// Message is one message-queue row.
type Message struct {
	ID             int64      `db:"id"`
	AgentSession   string     `db:"agent_session"`
	ProjectName    *string    `db:"project_name"`
	Payload        []byte     `db:"payload"`
	Priority       int        `db:"priority"`
	SequenceNumber int64      `db:"sequence_number"`
	DependencyID   *int64     `db:"dependency_id"`
	Status         string     `db:"status"`
	FIFOScope      string     `db:"fifo_scope"`
	EnqueuedAt     time.Time  `db:"enqueued_at"`
	PulledAt       *time.Time `db:"pulled_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
}

// Agent is the in-store projection of an agent's state.
type Agent struct {
	AgentID               string     `db:"agent_id"`
	ProjectName           *string    `db:"project_name"`
	Status                string     `db:"status"`
	ReadySince            *time.Time `db:"ready_since"`
	LastHeartbeat         *time.Time `db:"last_heartbeat"`
	LastSequenceDelivered int64      `db:"last_sequence_delivered"`
	RestartCount          int        `db:"restart_count"`
	LastRestart           *time.Time `db:"last_restart"`
	LastError             *string    `db:"last_error"`
	ContextBlob           []byte     `db:"context_blob"`
}

// AgentContextSnapshot backs rebriefing after context-window compaction.
type AgentContextSnapshot struct {
	AgentID          string    `db:"agent_id"`
	LastBriefing     time.Time `db:"last_briefing"`
	BriefingContent  string    `db:"briefing_content"`
	ActivitySummary  string    `db:"activity_summary"`
	CheckpointData   string    `db:"checkpoint_data"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// CheckinTask is a recurring task row (§4.7).
type CheckinTask struct {
	ID          int64      `db:"id"`
	Agent       string     `db:"agent"`
	Cause       string     `db:"cause"`
	NextRunAt   time.Time  `db:"next_run_at"`
	IntervalSec int        `db:"interval_sec"`
	Note        *string    `db:"note"`
	LastRunAt   *time.Time `db:"last_run_at"`
}

// Rule is one compliance rule (§3.1, §4.8).
type Rule struct {
	ID                  string  `db:"id"`
	Category            string  `db:"category"`
	Description         string  `db:"description"`
	Severity            string  `db:"severity"`
	PatternHint         *string `db:"pattern_hint"`
	SuggestedCorrection *string `db:"suggested_correction"`
	Generation          int     `db:"generation"`
}

// EventLogRow is an append-only record mirrored into the store so the
// recovery CLI's diagnostics command can summarize recent activity without
// re-parsing the on-disk JSONL files.
type EventLogRow struct {
	ID       int64     `db:"id"`
	TS       time.Time `db:"ts"`
	Channel  string    `db:"channel"`
	Severity string    `db:"severity"`
	Payload  string    `db:"payload"`
}
