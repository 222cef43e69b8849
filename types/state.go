package types

import (
	"strings"

	"github.com/google/uuid"
)

// StateID identifies one invocation of one activity within one execution of one workflow.
type StateID struct {
	WorkflowID   string `json:"workflowId"`
	ExecutionID  string `json:"executionId"`
	ActivityID   string `json:"activityId"`
	InvocationID string `json:"invocationId"`
}

// CheckpointID is the flattened correlation key of a StateID.
type CheckpointID string

func (c CheckpointID) String() string {
	return string(c)
}

var escaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

func escape(s string) string {
	return escaper.Replace(s)
}

// CheckpointID joins the four components with ':'. Backslashes and colons inside a component
// are escaped so two distinct ids never flatten to the same string.
func (s StateID) CheckpointID() CheckpointID {
	return CheckpointID(strings.Join([]string{
		escape(s.WorkflowID),
		escape(s.ExecutionID),
		escape(s.ActivityID),
		escape(s.InvocationID),
	}, ":"))
}

// Key is the durable storage key of the checkpoint.
func (s StateID) Key() string {
	return strings.Join([]string{
		ExecutionKey(s.WorkflowID, s.ExecutionID),
		"activities", escape(s.ActivityID),
		"invocations", escape(s.InvocationID),
	}, ":")
}

// ExecutionKey is the common prefix of every checkpoint Key of one execution.
func ExecutionKey(workflowID, executionID string) string {
	return "workflows:" + escape(workflowID) + ":executions:" + escape(executionID)
}

// EscapeKey escapes one key component the way Key does.
func EscapeKey(component string) string {
	return escape(component)
}

func (s StateID) String() string {
	return s.CheckpointID().String()
}

// NewExecutionID returns a K-sortable identifier (UUIDv7) for a fresh execution.
func NewExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
