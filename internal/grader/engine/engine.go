// Package engine runs one command as a bounded child process and classifies the outcome.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codegrader/internal/grader/result"
	appErr "codegrader/pkg/errors"
)

const (
	defaultMaxStderrBytes int64 = 64 * 1024
	defaultMaxStdoutBytes int64 = 16 * 1024 * 1024

	defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// Command is an argv launched without a shell.
type Command struct {
	Argv []string
	Env  []string // KEY=VALUE, replaces the parent environment
	Dir  string
}

// Limits bounds one execution. Zero values are not enforced, except WallTimeout.
type Limits struct {
	WallTimeout time.Duration
	CPUTime     time.Duration
	MemoryBytes int64
	OutputBytes int64
	StackBytes  int64
	Processes   int64
	// LimitAddressSpace also applies MemoryBytes as RLIMIT_AS. JVMs reserve far
	// more virtual memory than they use and must run without it.
	LimitAddressSpace bool
}

// RunSpec is the raw launch request handed to a Runner.
type RunSpec struct {
	Cmd        Command
	StdinPath  string // empty means /dev/null
	StdoutPath string
	StderrPath string
	Limits     Limits
	Label      string // used to name per-run cgroups
}

// RunResult captures raw process data.
type RunResult struct {
	ExitCode       int
	SignalName     string
	TimedOut       bool
	CPUExceeded    bool
	OutputExceeded bool
	OomKilled      bool
	CPUTimeMs      int64
	WallTimeMs     int64
	MemoryKB       int64
	OutputBytes    int64
	StderrBytes    int64
	Stdout         string
	Stderr         string
}

// Runner launches exactly one child process per call.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (RunResult, error)
}

// Config controls runner behavior.
type Config struct {
	// HelperPath points at the sandbox-init binary. When empty the command is
	// started directly and only rlimits are applied.
	HelperPath     string
	EnableSeccomp  bool
	SeccompProfile string
	EnableCgroup   bool
	CgroupRoot     string
	RunAsUID       int
	RunAsGID       int
	MaxStderrBytes int64
	MaxStdoutBytes int64
}

// IOPaths binds the standard streams of one execution to workspace files.
type IOPaths struct {
	Stdin  string
	Stdout string
	Stderr string
}

// Engine turns raw runs into classified execution results.
type Engine struct {
	runner Runner
}

// New wraps a Runner.
func New(runner Runner) *Engine {
	return &Engine{runner: runner}
}

// Runner exposes the underlying raw runner, used by toolchains to invoke compilers.
func (e *Engine) Runner() Runner {
	return e.runner
}

// Execute runs cmd with stdin bound to io.Stdin. A non-nil error means the
// engine itself failed and no verdict about the user code can be made.
func (e *Engine) Execute(ctx context.Context, cmd Command, io IOPaths, limits Limits) (*result.ExecutionResult, error) {
	if limits.WallTimeout <= 0 {
		return nil, appErr.ValidationError("wall_timeout", "must be positive")
	}
	res, err := e.runner.Run(ctx, RunSpec{
		Cmd:        cmd,
		StdinPath:  io.Stdin,
		StdoutPath: io.Stdout,
		StderrPath: io.Stderr,
		Limits:     limits,
		Label:      "run",
	})
	if err != nil {
		return nil, err
	}
	return Classify(res, limits), nil
}

// Classify maps a raw run to exactly one execution result. Time checks come
// first so a killed process is never reported as a runtime error.
func Classify(res RunResult, limits Limits) *result.ExecutionResult {
	stats := result.Stats{
		TimeMs:     res.CPUTimeMs,
		WallTimeMs: res.WallTimeMs,
		MemoryKB:   res.MemoryKB,
		OutputKB:   res.OutputBytes / 1024,
	}
	switch {
	case res.TimedOut, res.CPUExceeded:
		return result.TimedOut(stats)
	case res.OomKilled:
		return result.ResourceExceeded(stats)
	case limits.MemoryBytes > 0 && res.MemoryKB*1024 > limits.MemoryBytes:
		return result.ResourceExceeded(stats)
	case res.OutputExceeded:
		return result.ResourceExceeded(stats)
	case limits.OutputBytes > 0 && res.OutputBytes > limits.OutputBytes:
		return result.ResourceExceeded(stats)
	case res.ExitCode != 0, res.StderrBytes > 0:
		return result.RuntimeError(runtimeMessage(res), res.ExitCode, stats)
	default:
		return result.Success(res.Stdout, stats)
	}
}

func runtimeMessage(res RunResult) string {
	msg := strings.TrimRight(res.Stderr, "\n")
	if msg != "" {
		return msg
	}
	if res.SignalName != "" {
		return fmt.Sprintf("process killed by signal %s", res.SignalName)
	}
	return fmt.Sprintf("process exited with code %d", res.ExitCode)
}

// BuildEnv returns env with a default PATH when none is given.
func BuildEnv(env []string) []string {
	out := make([]string, 0, len(env)+1)
	hasPath := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			hasPath = true
		}
		out = append(out, kv)
	}
	if !hasPath {
		out = append(out, "PATH="+defaultPath)
	}
	return out
}

func validateRunSpec(spec RunSpec) error {
	if len(spec.Cmd.Argv) == 0 || spec.Cmd.Argv[0] == "" {
		return appErr.ValidationError("cmd", "required")
	}
	if spec.Cmd.Dir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if spec.StdoutPath == "" || spec.StderrPath == "" {
		return appErr.ValidationError("output_paths", "required")
	}
	if spec.Limits.WallTimeout <= 0 {
		return appErr.ValidationError("wall_timeout", "must be positive")
	}
	return nil
}
