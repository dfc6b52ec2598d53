// Package events defines FlowScript's closed event type set and the Event
// record shape that flows from a runtime context through the event bridge
// to subscribers. The set is closed deliberately: the wire format must stay
// byte-compatible with external subscribers, so new lifecycle signals are
// not added here casually.
package events

import "time"

// Type is one of the twelve lifecycle events the engine emits.
type Type string

const (
	WorkflowStarted    Type = "workflow_started"
	NodeExecuting      Type = "node_executing"
	NodeCompleted      Type = "node_completed"
	NodeFailed         Type = "node_failed"
	WorkflowPaused     Type = "workflow_paused"
	WorkflowResumed    Type = "workflow_resumed"
	WorkflowCompleted  Type = "workflow_completed"
	WorkflowFailed     Type = "workflow_failed"
	HumanInputRequired Type = "human_input_required"
	HumanInputReceived Type = "human_input_received"
	HumanInputTimeout  Type = "human_input_timeout"
	StateUpdated       Type = "state_updated"
)

// Event is an immutable lifecycle record.
type Event struct {
	Event       Type                   `json:"event"`
	WorkflowID  string                 `json:"workflowId"`
	ExecutionID string                 `json:"executionId"`
	Timestamp   time.Time              `json:"timestamp"`
	Data        map[string]interface{} `json:"data,omitempty"`
}
