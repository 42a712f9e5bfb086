package protocol

// RunStatus is the observed state of an assistant run. The run lifecycle is
// owned by the assistant service; carbot only polls and reacts.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunExpired        RunStatus = "expired"
	RunCancelled      RunStatus = "cancelled"
)

// Terminal reports whether the run has reached a state it cannot leave.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunExpired, RunCancelled:
		return true
	}
	return false
}

// Run is a snapshot of an assistant run as returned by a single poll.
type Run struct {
	ID               string     `json:"id"`
	ThreadID         string     `json:"thread_id"`
	Status           RunStatus  `json:"status"`
	PendingToolCalls []ToolCall `json:"pending_tool_calls,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// ToolCall is a structured request emitted by a run in requires_action:
// the assistant wants the named tool executed with the given arguments.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolOutput is the mandatory answer to one ToolCall. The run protocol
// requires exactly one output per call or the run stalls permanently.
type ToolOutput struct {
	CallID string `json:"tool_call_id"`
	Output string `json:"output"` // JSON-encoded result or error envelope
}
