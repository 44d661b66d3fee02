package result

// VerdictKind is the final classification of a graded submission.
type VerdictKind string

const (
	VerdictAccepted         VerdictKind = "Accepted"
	VerdictWrongAnswer      VerdictKind = "WrongAnswer"
	VerdictCompileError     VerdictKind = "CompileError"
	VerdictRuntimeError     VerdictKind = "RuntimeError"
	VerdictTimedOut         VerdictKind = "TimedOut"
	VerdictResourceExceeded VerdictKind = "ResourceExceeded"
	VerdictInternalError    VerdictKind = "InternalError"
)

// Verdict is immutable once built. Use the constructors below.
type Verdict struct {
	kind        VerdictKind
	message     string
	failedIndex int
}

func Accepted() Verdict {
	return Verdict{kind: VerdictAccepted, failedIndex: -1}
}

func WrongAnswer(failedTestCaseIndex int) Verdict {
	return Verdict{kind: VerdictWrongAnswer, failedIndex: failedTestCaseIndex}
}

func CompileErrorVerdict(message string) Verdict {
	return Verdict{kind: VerdictCompileError, message: message, failedIndex: -1}
}

// RuntimeErrorVerdict keeps the index of the case that crashed for internal logging.
func RuntimeErrorVerdict(message string, testCaseIndex int) Verdict {
	return Verdict{kind: VerdictRuntimeError, message: message, failedIndex: testCaseIndex}
}

func TimedOutVerdict(testCaseIndex int) Verdict {
	return Verdict{kind: VerdictTimedOut, failedIndex: testCaseIndex}
}

func ResourceExceededVerdict(testCaseIndex int) Verdict {
	return Verdict{kind: VerdictResourceExceeded, failedIndex: testCaseIndex}
}

func InternalError(message string) Verdict {
	return Verdict{kind: VerdictInternalError, message: message, failedIndex: -1}
}

// FromExecution mirrors a failed execution of test case index into a verdict.
// It must not be called with a successful result.
func FromExecution(res *ExecutionResult, index int) Verdict {
	switch res.Kind {
	case KindCompileError:
		return CompileErrorVerdict(res.Message)
	case KindRuntimeError:
		return RuntimeErrorVerdict(res.Message, index)
	case KindTimedOut:
		return TimedOutVerdict(index)
	case KindResourceExceeded:
		return ResourceExceededVerdict(index)
	default:
		return InternalError("unexpected execution result")
	}
}

func (v Verdict) Kind() VerdictKind { return v.kind }

func (v Verdict) Message() string { return v.message }

// FailedTestCaseIndex is set only for WrongAnswer.
func (v Verdict) FailedTestCaseIndex() (int, bool) {
	if v.kind != VerdictWrongAnswer {
		return 0, false
	}
	return v.failedIndex, true
}

// TestCaseIndex returns the index of the case that ended grading, if any.
func (v Verdict) TestCaseIndex() (int, bool) {
	if v.failedIndex < 0 {
		return 0, false
	}
	return v.failedIndex, true
}

func (v Verdict) Accepted() bool { return v.kind == VerdictAccepted }

// Internal reports whether the verdict stems from grader infrastructure rather than user code.
func (v Verdict) Internal() bool { return v.kind == VerdictInternalError }
