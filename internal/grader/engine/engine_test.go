package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"codegrader/internal/grader/result"
	appErr "codegrader/pkg/errors"
)

type fakeRunner struct {
	res   RunResult
	err   error
	specs []RunSpec
}

func (f *fakeRunner) Run(_ context.Context, spec RunSpec) (RunResult, error) {
	f.specs = append(f.specs, spec)
	return f.res, f.err
}

func TestClassify(t *testing.T) {
	limits := Limits{WallTimeout: time.Second, MemoryBytes: 64 << 20, OutputBytes: 1 << 20}
	cases := []struct {
		name string
		res  RunResult
		want result.Kind
	}{
		{"clean exit", RunResult{Stdout: "3\n"}, result.KindSuccess},
		{"wall timeout", RunResult{TimedOut: true, ExitCode: -1}, result.KindTimedOut},
		{"cpu limit", RunResult{CPUExceeded: true, SignalName: "SIGXCPU", ExitCode: -1}, result.KindTimedOut},
		{"timeout wins over stderr", RunResult{TimedOut: true, StderrBytes: 4, Stderr: "boom"}, result.KindTimedOut},
		{"oom kill", RunResult{OomKilled: true, ExitCode: -1}, result.KindResourceExceeded},
		{"memory peak", RunResult{MemoryKB: 128 * 1024}, result.KindResourceExceeded},
		{"output signal", RunResult{OutputExceeded: true, ExitCode: -1}, result.KindResourceExceeded},
		{"output size", RunResult{OutputBytes: 2 << 20}, result.KindResourceExceeded},
		{"nonzero exit", RunResult{ExitCode: 1}, result.KindRuntimeError},
		{"stderr only", RunResult{StderrBytes: 5, Stderr: "warn\n"}, result.KindRuntimeError},
	}
	for _, tc := range cases {
		got := Classify(tc.res, limits)
		if got.Kind != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.Kind)
		}
	}
}

func TestClassifyRuntimeMessage(t *testing.T) {
	limits := Limits{WallTimeout: time.Second}

	got := Classify(RunResult{ExitCode: 2, StderrBytes: 6, Stderr: "fatal\n"}, limits)
	if got.Message != "fatal" || got.ExitCode != 2 {
		t.Fatalf("unexpected runtime error: %+v", got)
	}
	got = Classify(RunResult{ExitCode: -1, SignalName: "SIGSEGV"}, limits)
	if !strings.Contains(got.Message, "SIGSEGV") {
		t.Fatalf("expected signal in message, got %q", got.Message)
	}
	got = Classify(RunResult{ExitCode: 3}, limits)
	if got.Message != "process exited with code 3" {
		t.Fatalf("unexpected message %q", got.Message)
	}
}

func TestClassifySuccessKeepsStats(t *testing.T) {
	got := Classify(RunResult{Stdout: "ok", CPUTimeMs: 12, WallTimeMs: 15, MemoryKB: 900, OutputBytes: 4096}, Limits{WallTimeout: time.Second})
	if !got.OK() || got.Stdout != "ok" {
		t.Fatalf("expected success, got %+v", got)
	}
	if got.Stats.TimeMs != 12 || got.Stats.MemoryKB != 900 || got.Stats.OutputKB != 4 {
		t.Fatalf("unexpected stats: %+v", got.Stats)
	}
}

func TestExecuteRequiresWallTimeout(t *testing.T) {
	runner := &fakeRunner{}
	_, err := New(runner).Execute(context.Background(), Command{Argv: []string{"true"}, Dir: "/tmp"}, IOPaths{}, Limits{})
	if !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(runner.specs) != 0 {
		t.Fatalf("runner must not be called")
	}
}

func TestExecutePassesPaths(t *testing.T) {
	runner := &fakeRunner{res: RunResult{Stdout: "42"}}
	io := IOPaths{Stdin: "/w/input.txt", Stdout: "/w/output.txt", Stderr: "/w/error.txt"}
	res, err := New(runner).Execute(context.Background(), Command{Argv: []string{"/w/main"}, Dir: "/w"}, io, Limits{WallTimeout: time.Second})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.OK() || res.Stdout != "42" {
		t.Fatalf("unexpected result: %+v", res)
	}
	spec := runner.specs[0]
	if spec.StdinPath != io.Stdin || spec.StdoutPath != io.Stdout || spec.StderrPath != io.Stderr {
		t.Fatalf("paths not forwarded: %+v", spec)
	}
}

func TestExecuteRunnerError(t *testing.T) {
	runner := &fakeRunner{err: appErr.New(appErr.SandboxError)}
	_, err := New(runner).Execute(context.Background(), Command{Argv: []string{"x"}, Dir: "/w"}, IOPaths{}, Limits{WallTimeout: time.Second})
	if !appErr.Is(err, appErr.SandboxError) {
		t.Fatalf("expected sandbox error, got %v", err)
	}
}

func TestBuildEnvAddsDefaultPath(t *testing.T) {
	env := BuildEnv([]string{"LANG=C"})
	if len(env) != 2 || env[1] != "PATH="+defaultPath {
		t.Fatalf("unexpected env: %v", env)
	}
	env = BuildEnv([]string{"PATH=/opt/bin"})
	if len(env) != 1 || env[0] != "PATH=/opt/bin" {
		t.Fatalf("explicit PATH must be kept: %v", env)
	}
}

func TestValidateRunSpec(t *testing.T) {
	good := RunSpec{
		Cmd:        Command{Argv: []string{"a"}, Dir: "/w"},
		StdoutPath: "/w/o",
		StderrPath: "/w/e",
		Limits:     Limits{WallTimeout: time.Second},
	}
	if err := validateRunSpec(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := good
	bad.Cmd.Argv = nil
	if err := validateRunSpec(bad); err == nil {
		t.Fatalf("expected error for empty argv")
	}
	bad = good
	bad.StderrPath = ""
	if err := validateRunSpec(bad); err == nil {
		t.Fatalf("expected error for missing stderr path")
	}
}
