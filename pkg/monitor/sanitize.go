package monitor

import (
	"regexp"

	"github.com/dhruv465/Website-Builder-sub000/pkg/models"
)

// The backend is trusted only so far: a compromised or buggy agent could
// emit content the UI would render unescaped. Every accepted message has
// its string fields scrubbed of executable fragments before subscribers
// see it. Clean strings pass through untouched.
var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	scriptTagPattern   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	jsSchemePattern    = regexp.MustCompile(`(?i)javascript:`)
	eventAttrPattern   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
)

func sanitizeString(s string) string {
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = jsSchemePattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "")
	return s
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[sanitizeString(k)] = sanitizeValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = sanitizeValue(inner)
		}
		return out
	default:
		return v
	}
}

func sanitizeMetadata(md map[string]interface{}) map[string]interface{} {
	if md == nil {
		return nil
	}
	return sanitizeValue(md).(map[string]interface{})
}

func sanitizeLog(l models.LogEntry) models.LogEntry {
	out := l
	out.Level = models.LogLevel(sanitizeString(string(l.Level)))
	out.Agent = sanitizeString(l.Agent)
	out.Message = sanitizeString(l.Message)
	out.Metadata = sanitizeMetadata(l.Metadata)
	return out
}

func sanitizeSnapshot(s models.WorkflowSnapshot) models.WorkflowSnapshot {
	out := s.Clone()
	out.WorkflowID = sanitizeString(out.WorkflowID)
	out.Status = models.WorkflowStatus(sanitizeString(string(out.Status)))
	out.ErrorMsg = sanitizeString(out.ErrorMsg)
	for i, name := range out.CompletedAgents {
		out.CompletedAgents[i] = sanitizeString(name)
	}
	for i, a := range out.Agents {
		out.Agents[i].Name = sanitizeString(a.Name)
		out.Agents[i].Status = models.AgentState(sanitizeString(string(a.Status)))
		out.Agents[i].ErrorMsg = sanitizeString(a.ErrorMsg)
	}
	for i, l := range out.Logs {
		out.Logs[i] = sanitizeLog(l)
	}
	return out
}

// Sanitize recursively walks every string field of a validated message and
// strips script blocks, javascript: scheme prefixes and inline
// event-handler attribute patterns. All other content is left byte for
// byte as it arrived.
func Sanitize(m Message) Message {
	out := m
	out.Error = sanitizeString(m.Error)
	out.Agent = sanitizeString(m.Agent)
	out.AgentState = models.AgentState(sanitizeString(string(m.AgentState)))
	out.Metadata = sanitizeMetadata(m.Metadata)
	if m.Snapshot != nil {
		snap := sanitizeSnapshot(*m.Snapshot)
		out.Snapshot = &snap
	}
	if m.Log != nil {
		l := sanitizeLog(*m.Log)
		out.Log = &l
	}
	return out
}
