package models

import "time"

type LogLevel string

const (
	InfoLogLevel    LogLevel = "info"
	WarningLogLevel LogLevel = "warning"
	ErrorLogLevel   LogLevel = "error"
)

// LogEntry is one line of agent output. Entries are kept in arrival order
// and never deduplicated; a backend that delivers twice shows twice.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Agent     string                 `json:"agent,omitempty"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy with its own metadata map.
func (l LogEntry) Clone() LogEntry {
	out := l
	if l.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(l.Metadata))
		for k, v := range l.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
