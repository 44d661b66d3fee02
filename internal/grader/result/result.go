// Package result defines execution outcomes and grading verdicts.
package result

// Kind classifies one execution of user code.
type Kind string

const (
	KindSuccess          Kind = "Success"
	KindCompileError     Kind = "CompileError"
	KindRuntimeError     Kind = "RuntimeError"
	KindTimedOut         Kind = "TimedOut"
	KindResourceExceeded Kind = "ResourceExceeded"
)

// Stats carries resource usage of one execution.
type Stats struct {
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
}

// ExecutionResult is a tagged outcome. Only the fields of Kind are populated.
type ExecutionResult struct {
	Kind     Kind
	Stdout   string // Success
	Message  string // CompileError, RuntimeError
	ExitCode int    // RuntimeError
	Stats    Stats
}

func Success(stdout string, stats Stats) *ExecutionResult {
	return &ExecutionResult{Kind: KindSuccess, Stdout: stdout, Stats: stats}
}

func CompileError(message string, stats Stats) *ExecutionResult {
	return &ExecutionResult{Kind: KindCompileError, Message: message, Stats: stats}
}

func RuntimeError(message string, exitCode int, stats Stats) *ExecutionResult {
	return &ExecutionResult{Kind: KindRuntimeError, Message: message, ExitCode: exitCode, Stats: stats}
}

func TimedOut(stats Stats) *ExecutionResult {
	return &ExecutionResult{Kind: KindTimedOut, Stats: stats}
}

func ResourceExceeded(stats Stats) *ExecutionResult {
	return &ExecutionResult{Kind: KindResourceExceeded, Stats: stats}
}

// OK reports whether the execution succeeded.
func (r *ExecutionResult) OK() bool {
	return r != nil && r.Kind == KindSuccess
}
