package report

import (
	"strings"
	"testing"

	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/result"
)

const root = "/var/lib/grader/ws"

func TestFromVerdict(t *testing.T) {
	r := New(root)

	p := r.FromVerdict(result.Accepted())
	if p.Verdict != "Accepted" || p.Message != "All test cases passed" || p.FailedTestCaseIndex != nil {
		t.Fatalf("unexpected accepted payload: %+v", p)
	}

	p = r.FromVerdict(result.WrongAnswer(2))
	if p.Verdict != "WrongAnswer" || p.FailedTestCaseIndex == nil || *p.FailedTestCaseIndex != 2 {
		t.Fatalf("unexpected wrong answer payload: %+v", p)
	}
	if p.Message != "Failed at test case 3" {
		t.Fatalf("unexpected legacy message %q", p.Message)
	}

	p = r.FromVerdict(result.TimedOutVerdict(4))
	if p.Verdict != "TimedOut" || p.FailedTestCaseIndex != nil || p.Detail != "" {
		t.Fatalf("only WrongAnswer exposes an index: %+v", p)
	}
}

func TestFromVerdictNeverLeaksPaths(t *testing.T) {
	r := New(root)
	msg := root + "/0b9c/main.cpp:3:5: error: 'x' was not declared\n" +
		"In file included from /usr/include/c++/12/iostream:39"
	p := r.FromVerdict(result.CompileErrorVerdict(msg))
	if strings.Contains(p.Detail, root) {
		t.Fatalf("workspace root leaked: %q", p.Detail)
	}
	if !strings.HasPrefix(p.Detail, "main.cpp:3:5") {
		t.Fatalf("expected base name kept, got %q", p.Detail)
	}
	if !strings.Contains(p.Detail, "/usr/include/c++/12/iostream") {
		t.Fatalf("system paths should be kept: %q", p.Detail)
	}
	if p.Message != "Compilation error" {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestInternalErrorIsGeneric(t *testing.T) {
	r := New(root)
	p := r.FromVerdict(result.InternalError("open " + root + "/x: permission denied"))
	if p.Detail != internalDetail || p.Verdict != "InternalError" {
		t.Fatalf("unexpected internal payload: %+v", p)
	}
}

func TestSanitizeTruncates(t *testing.T) {
	r := New(root)
	long := strings.Repeat("é", MaxDetailBytes)
	got := r.Sanitize(long)
	if len(got) > MaxDetailBytes {
		t.Fatalf("detail too long: %d", len(got))
	}
	if !strings.HasSuffix(got, truncatedMark) {
		t.Fatalf("expected truncation mark")
	}
	if !strings.HasPrefix(got, "é") || strings.ContainsRune(got, '�') {
		t.Fatalf("truncation split a rune")
	}
}

func TestFromRunOutcome(t *testing.T) {
	r := New(root)
	p := r.FromRunOutcome(orchestrator.RunOutcome{Output: "9\n"})
	if p.Output != "9\n" || p.Error != "" {
		t.Fatalf("unexpected run payload: %+v", p)
	}
	v := result.RuntimeErrorVerdict("Traceback: "+root+"/ab/main.py line 1", 0)
	p = r.FromRunOutcome(orchestrator.RunOutcome{Failure: &v})
	if p.Error != "RuntimeError" || strings.Contains(p.Detail, root) {
		t.Fatalf("unexpected run failure payload: %+v", p)
	}
}

func TestFromRunOutcomeExitCode(t *testing.T) {
	r := New(root)
	exec := result.RuntimeError("boom", 2, result.Stats{})
	v := result.FromExecution(exec, 0)
	p := r.FromRunOutcome(orchestrator.RunOutcome{Failure: &v, Execution: exec})
	if p.Error != "RuntimeError" || p.ExitCode != 2 {
		t.Fatalf("expected exit code 2, got %+v", p)
	}

	timeout := result.TimedOut(result.Stats{})
	v = result.FromExecution(timeout, 0)
	p = r.FromRunOutcome(orchestrator.RunOutcome{Failure: &v, Execution: timeout})
	if p.Error != "TimedOut" || p.ExitCode != 0 {
		t.Fatalf("unexpected timeout payload: %+v", p)
	}
}

func TestLegacyMessages(t *testing.T) {
	cases := map[string]result.Verdict{
		"All test cases passed": result.Accepted(),
		"Failed at test case 1": result.WrongAnswer(0),
		"Compilation error":     result.CompileErrorVerdict("x"),
		"Runtime error":         result.RuntimeErrorVerdict("x", 0),
	}
	for want, v := range cases {
		if got := LegacyMessage(v); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}
