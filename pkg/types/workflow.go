package types

// Workflow terminal statuses.
const (
	WorkflowSucceeded = "succeeded"
	WorkflowFailed    = "failed"
)

// WorkflowResult is what the workflow execution wrapper returns: named output
// values plus a terminal status.
type WorkflowResult struct {
	Status  string         `json:"status"`
	Outputs map[string]any `json:"outputs,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (r WorkflowResult) Succeeded() bool { return r.Status == WorkflowSucceeded }
