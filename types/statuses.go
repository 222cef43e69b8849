package types

// InvocationState is a state of the activity invocation machine.
type InvocationState string

const (
	StateIdle        InvocationState = "Idle"
	StateChecking    InvocationState = "CheckingCheckpoint"
	StateDispatching InvocationState = "Dispatching"
	StateAwaiting    InvocationState = "AwaitingReply"
	StateResolved    InvocationState = "Resolved"
	StateRejected    InvocationState = "Rejected"
	StateTimedOut    InvocationState = "TimedOut"
)

func InvocationStateValues() []string {
	return []string{
		string(StateIdle),
		string(StateChecking),
		string(StateDispatching),
		string(StateAwaiting),
		string(StateResolved),
		string(StateRejected),
		string(StateTimedOut),
	}
}

// Terminal reports whether no further transition can leave the state.
func (s InvocationState) Terminal() bool {
	switch s {
	case StateResolved, StateRejected, StateTimedOut:
		return true
	default:
		return false
	}
}

// Outcome labels a terminal state for metrics.
func (s InvocationState) Outcome() string {
	switch s {
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timeout"
	default:
		return "pending"
	}
}

type InvocationTrigger string

const (
	TriggerCheck   InvocationTrigger = "Check"
	TriggerHit     InvocationTrigger = "Hit"
	TriggerMiss    InvocationTrigger = "Miss"
	TriggerSent    InvocationTrigger = "Sent"
	TriggerReply   InvocationTrigger = "Reply"
	TriggerFail    InvocationTrigger = "Fail"
	TriggerTimeout InvocationTrigger = "Timeout"
)
