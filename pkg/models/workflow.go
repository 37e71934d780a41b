package models

import "time"

type WorkflowStatus string

const (
	PendingWorkflowStatus   WorkflowStatus = "pending"
	RunningWorkflowStatus   WorkflowStatus = "running"
	CompletedWorkflowStatus WorkflowStatus = "completed"
	FailedWorkflowStatus    WorkflowStatus = "failed"
	CancelledWorkflowStatus WorkflowStatus = "cancelled"
)

// Terminal reports whether the workflow has reached a final status.
func (s WorkflowStatus) Terminal() bool {
	return s == CompletedWorkflowStatus || s == FailedWorkflowStatus || s == CancelledWorkflowStatus
}

// WorkflowSnapshot is the client's current belief about one workflow run.
// It is assembled from the event stream and discarded when the caller
// resets, disconnects or starts a new workflow; it is never persisted.
type WorkflowSnapshot struct {
	WorkflowID         string         `json:"workflow_id"`                // Immutable for the snapshot's lifetime
	Status             WorkflowStatus `json:"status"`                     // "pending", "running", "completed", "failed", "cancelled"
	ProgressPercentage int            `json:"progress_percentage"`        // 0-100, recomputed upstream, not monotonic
	CompletedAgents    []string       `json:"completed_agents,omitempty"` // Grows only
	Agents             []AgentStatus  `json:"agents,omitempty"`           // Ordered by first observation
	Logs               []LogEntry     `json:"logs,omitempty"`             // Append-only, arrival order
	ErrorMsg           string         `json:"error,omitempty"`            // Last backend-reported workflow error
	UpdatedAt          time.Time      `json:"updated_at"`                 // Time of last applied message
}

// Agent returns the agent entry with the given name, if observed.
func (s WorkflowSnapshot) Agent(name string) (AgentStatus, bool) {
	for _, a := range s.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentStatus{}, false
}

// Clone returns a deep copy so a snapshot can be handed to subscribers
// without sharing the underlying slices.
func (s WorkflowSnapshot) Clone() WorkflowSnapshot {
	out := s
	if s.CompletedAgents != nil {
		out.CompletedAgents = append([]string(nil), s.CompletedAgents...)
	}
	if s.Agents != nil {
		out.Agents = make([]AgentStatus, len(s.Agents))
		for i, a := range s.Agents {
			out.Agents[i] = a.Clone()
		}
	}
	if s.Logs != nil {
		out.Logs = make([]LogEntry, len(s.Logs))
		for i, l := range s.Logs {
			out.Logs[i] = l.Clone()
		}
	}
	return out
}
