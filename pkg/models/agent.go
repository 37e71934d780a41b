package models

import "time"

type AgentState string

const (
	PendingAgentState   AgentState = "pending"
	ExecutingAgentState AgentState = "executing"
	CompletedAgentState AgentState = "completed"
	FailedAgentState    AgentState = "failed"
)

// Finished reports whether the agent will produce no further work.
func (s AgentState) Finished() bool {
	return s == CompletedAgentState || s == FailedAgentState
}

// AgentStatus is the client-side view of one agent in the run. StartedAt
// and FinishedAt are stamped locally on the first matching transition and
// never overwritten, so elapsed-time displays stay stable under duplicate
// or reordered delivery.
type AgentStatus struct {
	Name       string     `json:"name"`
	Status     AgentState `json:"status"`
	Progress   *int       `json:"progress,omitempty"` // 0-100 when the agent reports it
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorMsg   string     `json:"error,omitempty"`
}

// Clone returns a copy with no shared pointers.
func (a AgentStatus) Clone() AgentStatus {
	out := a
	if a.Progress != nil {
		p := *a.Progress
		out.Progress = &p
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		out.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
