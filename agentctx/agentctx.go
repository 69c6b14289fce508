// Package agentctx implements the Agent Context Snapshot store (§3.1): a
// per-agent capture of the last briefing, a running activity summary, and
// arbitrary checkpoint data, used to rebrief an agent after its context
// window is compacted mid-session.
package agentctx

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fleetctl/orchestrator/errs"
	"github.com/fleetctl/orchestrator/store"
)

// Enqueuer is the narrow slice of messagebus.Bus this package depends on,
// kept local to avoid a hard import of messagebus for something this
// package only ever calls through one method.
type Enqueuer interface {
	Rebrief(agentSession string, payload []byte) (int64, error)
}

// Manager captures, diffs, and restores agent context snapshots.
type Manager struct {
	store *store.Store
}

// New returns a Manager.
func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// rebriefPayload is the JSON body of a priority-200 re-briefing message.
type rebriefPayload struct {
	Kind            string `json:"kind"`
	BriefingContent string `json:"briefing_content"`
	ActivitySummary string `json:"activity_summary"`
	CheckpointData  string `json:"checkpoint_data,omitempty"`
}

// Capture writes a fresh snapshot for agentID, overwriting whatever
// snapshot existed before it. checkpointData is opaque to this package —
// callers pass whatever their own state machine needs to resume from
// (current phase, open file list, etc.), serialized however they like.
func (m *Manager) Capture(agentID, briefingContent, activitySummary, checkpointData string) error {
	return m.store.UpsertContextSnapshot(agentID, briefingContent, activitySummary, checkpointData)
}

// Diff reports how currentActivity has changed since the last captured
// snapshot for agentID. When there is no prior snapshot, the entire
// current activity is treated as new. This does not mutate the stored
// snapshot; callers decide separately whether to Capture the new state.
func (m *Manager) Diff(agentID, currentActivity string) (string, error) {
	prev, err := m.store.GetContextSnapshot(agentID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return currentActivity, nil
		}
		return "", err
	}
	if prev.ActivitySummary == "" {
		return currentActivity, nil
	}
	if prev.ActivitySummary == currentActivity {
		return "", nil
	}
	return fmt.Sprintf("since last briefing: %s\nnow: %s", prev.ActivitySummary, currentActivity), nil
}

// RestoreOnRebrief builds a rebrief payload from the agent's most recent
// snapshot and enqueues it to the agent at priority-200, implementing the
// "on context compaction -> enqueue a priority-200 re-briefing message to
// self" hook (§4.6's event table).
func (m *Manager) RestoreOnRebrief(bus Enqueuer, agentID string) (int64, error) {
	snap, err := m.store.GetContextSnapshot(agentID)
	if err != nil {
		return 0, fmt.Errorf("agentctx: no snapshot to rebrief from: %w", err)
	}
	payload, err := json.Marshal(rebriefPayload{
		Kind:            "rebrief",
		BriefingContent: snap.BriefingContent,
		ActivitySummary: snap.ActivitySummary,
		CheckpointData:  snap.CheckpointData,
	})
	if err != nil {
		return 0, fmt.Errorf("agentctx: marshal rebrief payload: %w", err)
	}
	return bus.Rebrief(agentID, payload)
}
