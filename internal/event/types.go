package event

// EventType represents the type of event.
type EventType string

const (
	ToolStarted        EventType = "tool.started"
	ToolUpdated        EventType = "tool.updated"
	ToolCompleted      EventType = "tool.completed"
	BatchStarted       EventType = "batch.started"
	BatchFinished      EventType = "batch.finished"
	PermissionRequired EventType = "permission.requested"
	PermissionResolved EventType = "permission.resolved"
	GrantsChanged      EventType = "grants.changed"
)

// Tool events carry the executor's ToolCall record as Data.

// BatchData is the data for batch.started and batch.finished events.
type BatchData struct {
	SessionID string `json:"sessionId"`
	Strategy  string `json:"strategy,omitempty"`
	Calls     int    `json:"calls"`
	Error     string `json:"error,omitempty"`
}

// PermissionRequiredData is the data for permission.requested events.
type PermissionRequiredData struct {
	RequestID string `json:"requestId"`
	Hint      any    `json:"hint,omitempty"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Option    string `json:"option,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// GrantsChangedData is the data for grants.changed events. Grants lists the
// project grants now on disk.
type GrantsChangedData struct {
	File   string   `json:"file"`
	Grants []string `json:"grants"`
}
