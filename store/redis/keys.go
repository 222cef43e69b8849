package redis

import "github.com/davidroman0O/durex/types"

// All keys start with the store prefix, "durex:" unless configured otherwise.

const defaultPrefix = "durex:"

// checkpointKey is {prefix}workflows:{wf}:executions:{ex}:activities:{act}:invocations:{inv}
func (s *Store) checkpointKey(key string) string { return s.prefix + key }

// executionIndexKey is the Set of checkpoint keys saved for one execution.
func (s *Store) executionIndexKey(workflowID, executionID string) string {
	return s.prefix + "checkpoint_idx:" + types.ExecutionKey(workflowID, executionID)
}

// pendingKey is the List of signals waiting for delivery: {prefix}signals:{name}:pending
func (s *Store) pendingKey(name string) string {
	return s.prefix + "signals:" + types.EscapeKey(name) + ":pending"
}

// processingKey is the List of delivered but unacknowledged signals.
func (s *Store) processingKey(name string) string {
	return s.prefix + "signals:" + types.EscapeKey(name) + ":processing"
}
