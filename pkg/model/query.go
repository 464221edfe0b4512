package model

// NullCell is the literal used for a missing value in a result row
const NullCell = "NULL"

type ExecutionState string

const (
	ExecutionStateRunning   ExecutionState = "RUNNING"
	ExecutionStateSucceeded ExecutionState = "SUCCEEDED"
	ExecutionStateFailed    ExecutionState = "FAILED"
	ExecutionStateCancelled ExecutionState = "CANCELLED"
)

// Terminal reports whether the execution will not change state anymore
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionStateSucceeded, ExecutionStateFailed, ExecutionStateCancelled:
		return true
	default:
		return false
	}
}

// ExecutionStatus is a snapshot of a query execution on the managed query service
type ExecutionStatus struct {
	State  ExecutionState
	Reason string
}

// QueryResult holds either the result rows or the reason the query produced none
type QueryResult struct {
	Rows    [][]string
	Failure string
}

// Failed reports whether the result carries a failure instead of rows
func (r *QueryResult) Failed() bool {
	return r.Failure != ""
}

// QuerySession is the state of a single question/answer turn. It is never persisted.
type QuerySession struct {
	Question    string
	SQL         string
	Result      *QueryResult
	Explanation string
}
