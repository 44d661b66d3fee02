package orchestrator

import "codegrader/internal/grader/result"

// RunOutcome is the result of a single ad hoc run. Exactly one of Output or
// Failure is meaningful: Failure is nil on success. Execution holds the raw
// result of the failing compile or run when the user code is at fault.
type RunOutcome struct {
	Output    string
	Stats     result.Stats
	Failure   *result.Verdict
	Execution *result.ExecutionResult
}

func (o RunOutcome) OK() bool { return o.Failure == nil }

func failedOutcome(v result.Verdict) RunOutcome {
	return RunOutcome{Failure: &v}
}

func failedExecution(res *result.ExecutionResult, index int) RunOutcome {
	v := result.FromExecution(res, index)
	return RunOutcome{Stats: res.Stats, Failure: &v, Execution: res}
}
