package monitor

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
)

type MessageType string

const (
	PongMessage             MessageType = "pong"
	WorkflowStatusMessage   MessageType = "workflow.status"
	WorkflowCompleteMessage MessageType = "workflow.complete"
	WorkflowErrorMessage    MessageType = "workflow.error"
	AgentStatusMessage      MessageType = "agent.status"
	LogEntryMessage         MessageType = "log.entry"
)

// Message is one validated inbound frame. The Type discriminant decides
// which of the payload fields are populated; everything else is zero.
type Message struct {
	Type MessageType

	// workflow.status carries a full snapshot-shaped payload.
	Snapshot *models.WorkflowSnapshot

	// workflow.error
	Error string

	// agent.status
	Agent      string
	AgentState models.AgentState
	Metadata   map[string]interface{}

	// log.entry
	Log *models.LogEntry
}

// wireFrame is the raw shape of every inbound frame. Unused fields stay
// empty depending on the type discriminant.
type wireFrame struct {
	Type     string                 `json:"type"`
	Data     json.RawMessage        `json:"data,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Agent    string                 `json:"agent,omitempty"`
	Status   string                 `json:"status,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Log      *models.LogEntry       `json:"log,omitempty"`
}

// ParseMessage decodes a raw text frame into a typed Message. Frames with
// a missing or unrecognized type discriminant, or with a payload that does
// not match their type, are rejected; the caller logs and drops them so
// they never reach the aggregator.
func ParseMessage(data []byte) (Message, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, errors.Wrap(err, "decode frame")
	}
	if f.Type == "" {
		return Message{}, errors.New("frame missing type discriminant")
	}

	switch MessageType(f.Type) {
	case PongMessage:
		return Message{Type: PongMessage}, nil

	case WorkflowStatusMessage:
		if len(f.Data) == 0 {
			return Message{}, errors.New("workflow.status frame missing data")
		}
		var snap models.WorkflowSnapshot
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			return Message{}, errors.Wrap(err, "decode workflow.status data")
		}
		return Message{Type: WorkflowStatusMessage, Snapshot: &snap}, nil

	case WorkflowCompleteMessage:
		return Message{Type: WorkflowCompleteMessage}, nil

	case WorkflowErrorMessage:
		return Message{Type: WorkflowErrorMessage, Error: f.Error}, nil

	case AgentStatusMessage:
		if f.Agent == "" {
			return Message{}, errors.New("agent.status frame missing agent name")
		}
		state := models.AgentState(f.Status)
		switch state {
		case models.PendingAgentState, models.ExecutingAgentState,
			models.CompletedAgentState, models.FailedAgentState:
		default:
			return Message{}, errors.Errorf("agent.status frame has unknown status %q", f.Status)
		}
		return Message{
			Type:       AgentStatusMessage,
			Agent:      f.Agent,
			AgentState: state,
			Metadata:   f.Metadata,
		}, nil

	case LogEntryMessage:
		if f.Log == nil {
			return Message{}, errors.New("log.entry frame missing log payload")
		}
		return Message{Type: LogEntryMessage, Log: f.Log}, nil
	}

	return Message{}, errors.Errorf("unknown frame type %q", f.Type)
}

// Command is one outbound frame. The set is closed: ping and
// workflow.cancel are the only commands the backend accepts.
type Command struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// PingCommand is the heartbeat probe.
func PingCommand() Command {
	return Command{Type: "ping"}
}

// CancelCommand asks the backend to cancel the identified workflow.
func CancelCommand(workflowID string) Command {
	return Command{Type: "workflow.cancel", WorkflowID: workflowID}
}
