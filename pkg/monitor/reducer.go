package monitor

import (
	"time"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
)

// NewSnapshot returns the initial snapshot for a workflow run.
func NewSnapshot(workflowID string) models.WorkflowSnapshot {
	return models.WorkflowSnapshot{
		WorkflowID: workflowID,
		Status:     models.PendingWorkflowStatus,
	}
}

// Reduce folds one validated message into the snapshot and returns the
// result. It is a pure function: the input snapshot is never mutated and
// no I/O happens here. Timer and socket side effects live in Connection.
//
// workflow.status is authoritative full state, not a delta: it replaces
// status, progress, completed agents and logs wholesale, which
// resynchronizes any drift caused by out-of-order or lost deltas.
func Reduce(snap models.WorkflowSnapshot, msg Message, now time.Time) models.WorkflowSnapshot {
	switch msg.Type {
	case PongMessage:
		// Consumed by the heartbeat watchdog; nothing to fold.
		return snap

	case WorkflowStatusMessage:
		if msg.Snapshot == nil {
			return snap
		}
		out := snap.Clone()
		out.Status = msg.Snapshot.Status
		out.ProgressPercentage = msg.Snapshot.ProgressPercentage
		out.CompletedAgents = append([]string(nil), msg.Snapshot.CompletedAgents...)
		out.Logs = make([]models.LogEntry, len(msg.Snapshot.Logs))
		for i, l := range msg.Snapshot.Logs {
			out.Logs[i] = l.Clone()
		}
		out.UpdatedAt = now
		return out

	case WorkflowCompleteMessage:
		out := snap.Clone()
		out.Status = models.CompletedWorkflowStatus
		out.ProgressPercentage = 100
		out.UpdatedAt = now
		return out

	case WorkflowErrorMessage:
		out := snap.Clone()
		out.Status = models.FailedWorkflowStatus
		out.ErrorMsg = msg.Error
		out.UpdatedAt = now
		return out

	case AgentStatusMessage:
		out := snap.Clone()
		upsertAgent(&out, msg, now)
		out.UpdatedAt = now
		return out

	case LogEntryMessage:
		if msg.Log == nil {
			return snap
		}
		out := snap.Clone()
		// No deduplication: duplicate delivery shows duplicate entries.
		out.Logs = append(out.Logs, msg.Log.Clone())
		out.UpdatedAt = now
		return out
	}

	return snap
}

func upsertAgent(snap *models.WorkflowSnapshot, msg Message, now time.Time) {
	idx := -1
	for i, a := range snap.Agents {
		if a.Name == msg.Agent {
			idx = i
			break
		}
	}
	if idx == -1 {
		snap.Agents = append(snap.Agents, models.AgentStatus{
			Name:   msg.Agent,
			Status: models.PendingAgentState,
		})
		idx = len(snap.Agents) - 1
	}

	agent := &snap.Agents[idx]
	agent.Status = msg.AgentState

	// First write wins: a duplicate or reordered "executing" message must
	// not reset elapsed-time accounting.
	if msg.AgentState == models.ExecutingAgentState && agent.StartedAt == nil {
		t := now
		agent.StartedAt = &t
	}
	if msg.AgentState.Finished() && agent.FinishedAt == nil {
		t := now
		agent.FinishedAt = &t
	}
	if msg.AgentState == models.FailedAgentState {
		if errMsg, ok := msg.Metadata["error"].(string); ok {
			agent.ErrorMsg = errMsg
		}
	}
	if p, ok := metadataProgress(msg.Metadata); ok {
		agent.Progress = &p
	}
}

func metadataProgress(md map[string]interface{}) (int, bool) {
	switch v := md["progress"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
