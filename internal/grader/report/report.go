// Package report renders verdicts for callers outside the grader.
package report

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/result"
)

const (
	MaxDetailBytes = 4 << 10

	internalDetail = "internal error"
	truncatedMark  = "...(truncated)"
)

// Payload is the grading response. Verdict is one of Accepted, WrongAnswer,
// CompileError, RuntimeError, TimedOut, InternalError, or ResourceExceeded
// when a memory or output ceiling was hit.
type Payload struct {
	Verdict             string `json:"verdict"`
	Detail              string `json:"detail,omitempty"`
	FailedTestCaseIndex *int   `json:"failed_test_case_index,omitempty"`
	Message             string `json:"message"`
}

// RunPayload is the ad hoc run response. Output is set on success, Error and
// Detail otherwise. ExitCode is set for runtime errors.
type RunPayload struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	Detail   string `json:"detail,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

// Reporter strips workspace paths under root from every detail.
type Reporter struct {
	root string
}

func New(workspaceRoot string) *Reporter {
	return &Reporter{root: filepath.Clean(workspaceRoot)}
}

// FromVerdict maps a verdict to its payload.
func (r *Reporter) FromVerdict(v result.Verdict) Payload {
	p := Payload{
		Verdict: string(v.Kind()),
		Message: LegacyMessage(v),
	}
	switch v.Kind() {
	case result.VerdictWrongAnswer:
		idx, _ := v.FailedTestCaseIndex()
		p.FailedTestCaseIndex = &idx
	case result.VerdictCompileError, result.VerdictRuntimeError:
		p.Detail = r.Sanitize(v.Message())
	case result.VerdictInternalError:
		p.Detail = internalDetail
	}
	return p
}

// FromRunOutcome maps a single run to its payload.
func (r *Reporter) FromRunOutcome(o orchestrator.RunOutcome) RunPayload {
	if o.OK() {
		return RunPayload{Output: o.Output}
	}
	v := *o.Failure
	p := RunPayload{Error: string(v.Kind())}
	switch v.Kind() {
	case result.VerdictInternalError:
		p.Detail = internalDetail
	default:
		p.Detail = r.Sanitize(v.Message())
	}
	if v.Kind() == result.VerdictRuntimeError && o.Execution != nil {
		p.ExitCode = o.Execution.ExitCode
	}
	return p
}

var absPath = regexp.MustCompile(`(?:/[^\s/:'"()]+)+`)

// Sanitize removes workspace paths and bounds the length. Paths under the
// workspace root are replaced by their base name.
func (r *Reporter) Sanitize(detail string) string {
	if r.root != "" && r.root != "." && r.root != "/" {
		detail = absPath.ReplaceAllStringFunc(detail, func(p string) string {
			if p == r.root || strings.HasPrefix(p, r.root+"/") {
				return filepath.Base(p)
			}
			return p
		})
	}
	return truncate(detail, MaxDetailBytes)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - len(truncatedMark)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMark
}

// LegacyMessage is the human readable status line.
func LegacyMessage(v result.Verdict) string {
	switch v.Kind() {
	case result.VerdictAccepted:
		return "All test cases passed"
	case result.VerdictWrongAnswer:
		idx, _ := v.FailedTestCaseIndex()
		return fmt.Sprintf("Failed at test case %d", idx+1)
	case result.VerdictCompileError:
		return "Compilation error"
	case result.VerdictRuntimeError:
		return "Runtime error"
	case result.VerdictTimedOut:
		return "Time limit exceeded"
	case result.VerdictResourceExceeded:
		return "Memory limit exceeded"
	default:
		return "Internal error"
	}
}
