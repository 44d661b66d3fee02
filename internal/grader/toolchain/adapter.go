package toolchain

import (
	"context"
	"strings"
	"time"

	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/result"
	"codegrader/internal/grader/workspace"
	appErr "codegrader/pkg/errors"
)

const (
	compileStdoutName = "compile.out"
	compileLogName    = "compile.log"

	compileTimedOutMessage = "compilation timed out"
)

// Artifact is what Prepare leaves behind in the workspace.
type Artifact struct {
	Language   string
	SourcePath string
	BinaryPath string
	ClassDir   string
	CompileLog string
}

// Adapter turns a submission into a runnable command for one language.
type Adapter interface {
	Language() string
	Kind() Kind
	Spec() LanguageSpec
	// Prepare writes the source and builds it. A non-nil result means the
	// submission failed to compile; an error means the toolchain itself failed.
	Prepare(ctx context.Context, ws *workspace.Workspace, source string) (*Artifact, *result.ExecutionResult, error)
	RunCommand(art *Artifact, ws *workspace.Workspace) (engine.Command, error)
	RunLimits(base engine.Limits) engine.Limits
}

// Options are shared by every adapter.
type Options struct {
	// StrictStderr treats any compiler stderr as a compile error.
	StrictStderr  bool
	CompileLimits engine.Limits
}

// DefaultCompileLimits bounds compiler runs.
func DefaultCompileLimits() engine.Limits {
	return engine.Limits{
		WallTimeout: 30 * time.Second,
		CPUTime:     20 * time.Second,
		MemoryBytes: 1 << 30,
		Processes:   128,
	}
}

// NewAdapter builds the adapter selected by spec.Kind.
func NewAdapter(spec LanguageSpec, runner engine.Runner, opts Options) (Adapter, error) {
	if spec.ID == "" {
		return nil, appErr.ValidationError("language_id", "required")
	}
	if spec.SourceFile == "" {
		return nil, appErr.ValidationError("source_file", "required")
	}
	if strings.TrimSpace(spec.RunCmdTpl) == "" {
		return nil, appErr.ValidationError("run_cmd", "required")
	}
	if opts.CompileLimits.WallTimeout <= 0 {
		opts.CompileLimits = DefaultCompileLimits()
	}
	b := base{spec: spec, runner: runner, opts: opts}
	switch spec.Kind {
	case KindCompiledNative:
		if spec.BinaryFile == "" {
			return nil, appErr.ValidationError("binary_file", "required")
		}
		if err := b.requireCompiler(); err != nil {
			return nil, err
		}
		return &nativeAdapter{base: b}, nil
	case KindCompiledJVM:
		if spec.ClassName == "" {
			return nil, appErr.ValidationError("class_name", "required")
		}
		if err := b.requireCompiler(); err != nil {
			return nil, err
		}
		return &jvmAdapter{base: b}, nil
	case KindInterpreted:
		return &interpretedAdapter{base: b}, nil
	default:
		return nil, appErr.Newf(appErr.InvalidParams, "unknown language kind: %s", spec.Kind)
	}
}

type base struct {
	spec   LanguageSpec
	runner engine.Runner
	opts   Options
}

func (b *base) Language() string { return b.spec.ID }

func (b *base) Kind() Kind { return b.spec.Kind }

func (b *base) Spec() LanguageSpec { return b.spec }

func (b *base) RunLimits(limits engine.Limits) engine.Limits {
	return b.spec.ScaleLimits(limits)
}

func (b *base) requireCompiler() error {
	if strings.TrimSpace(b.spec.CompileCmdTpl) == "" {
		return appErr.ValidationError("compile_cmd", "required for compiled languages")
	}
	if b.runner == nil {
		return appErr.ValidationError("runner", "required for compiled languages")
	}
	return nil
}

func (b *base) vars(ws *workspace.Workspace) templateVars {
	vars := templateVars{
		src:        ws.SourcePath(b.spec.SourceFile),
		dir:        ws.Dir(),
		class:      b.spec.ClassName,
		extraFlags: b.spec.ExtraCompileFlags,
	}
	if b.spec.BinaryFile != "" {
		vars.bin = ws.ArtifactPath(b.spec.BinaryFile)
	}
	return vars
}

func (b *base) writeSource(ws *workspace.Workspace, source string) (*Artifact, error) {
	path, err := ws.WriteSource(b.spec.SourceFile, source)
	if err != nil {
		return nil, err
	}
	return &Artifact{Language: b.spec.ID, SourcePath: path}, nil
}

// compile runs the compiler once and reports diagnostics with workspace paths removed.
func (b *base) compile(ctx context.Context, ws *workspace.Workspace, art *Artifact) (*result.ExecutionResult, error) {
	argv, err := buildCommand(b.spec.CompileCmdTpl, b.vars(ws))
	if err != nil {
		return nil, err
	}
	art.CompileLog = ws.Path(compileLogName)
	res, err := b.runner.Run(ctx, engine.RunSpec{
		Cmd:        engine.Command{Argv: argv, Env: b.spec.Env, Dir: ws.Dir()},
		StdoutPath: ws.Path(compileStdoutName),
		StderrPath: art.CompileLog,
		Limits:     b.opts.CompileLimits,
		Label:      "compile-" + b.spec.ID,
	})
	if err != nil {
		return nil, err
	}
	stats := result.Stats{TimeMs: res.CPUTimeMs, WallTimeMs: res.WallTimeMs, MemoryKB: res.MemoryKB}
	if res.TimedOut || res.CPUExceeded {
		return result.CompileError(compileTimedOutMessage, stats), nil
	}
	failed := res.ExitCode != 0 || (b.opts.StrictStderr && res.StderrBytes > 0)
	if !failed {
		return nil, nil
	}
	msg := res.Stderr
	if strings.TrimSpace(msg) == "" {
		msg = res.Stdout
	}
	return result.CompileError(scrubPaths(msg, ws.Dir()), stats), nil
}

func scrubPaths(msg, dir string) string {
	if dir == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, dir+"/", "")
	return strings.ReplaceAll(msg, dir, ".")
}

type nativeAdapter struct {
	base
}

func (a *nativeAdapter) Prepare(ctx context.Context, ws *workspace.Workspace, source string) (*Artifact, *result.ExecutionResult, error) {
	art, err := a.writeSource(ws, source)
	if err != nil {
		return nil, nil, err
	}
	res, err := a.compile(ctx, ws, art)
	if err != nil || res != nil {
		return nil, res, err
	}
	art.BinaryPath = ws.ArtifactPath(a.spec.BinaryFile)
	return art, nil, nil
}

func (a *nativeAdapter) RunCommand(art *Artifact, ws *workspace.Workspace) (engine.Command, error) {
	if art == nil || art.BinaryPath == "" {
		return engine.Command{}, appErr.New(appErr.ToolchainError).WithMessage("binary artifact missing")
	}
	return runCommand(a.spec, a.vars(ws), ws)
}

type jvmAdapter struct {
	base
}

func (a *jvmAdapter) Prepare(ctx context.Context, ws *workspace.Workspace, source string) (*Artifact, *result.ExecutionResult, error) {
	art, err := a.writeSource(ws, source)
	if err != nil {
		return nil, nil, err
	}
	res, err := a.compile(ctx, ws, art)
	if err != nil || res != nil {
		return nil, res, err
	}
	art.ClassDir = ws.Dir()
	return art, nil, nil
}

func (a *jvmAdapter) RunCommand(art *Artifact, ws *workspace.Workspace) (engine.Command, error) {
	if art == nil || art.ClassDir == "" {
		return engine.Command{}, appErr.New(appErr.ToolchainError).WithMessage("class artifact missing")
	}
	return runCommand(a.spec, a.vars(ws), ws)
}

// interpretedAdapter never runs a compile step, even when a template is configured.
type interpretedAdapter struct {
	base
}

func (a *interpretedAdapter) Prepare(_ context.Context, ws *workspace.Workspace, source string) (*Artifact, *result.ExecutionResult, error) {
	art, err := a.writeSource(ws, source)
	if err != nil {
		return nil, nil, err
	}
	return art, nil, nil
}

func (a *interpretedAdapter) RunCommand(art *Artifact, ws *workspace.Workspace) (engine.Command, error) {
	if art == nil || art.SourcePath == "" {
		return engine.Command{}, appErr.New(appErr.ToolchainError).WithMessage("source artifact missing")
	}
	return runCommand(a.spec, a.vars(ws), ws)
}

func runCommand(spec LanguageSpec, vars templateVars, ws *workspace.Workspace) (engine.Command, error) {
	vars.extraFlags = nil
	argv, err := buildCommand(spec.RunCmdTpl, vars)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{Argv: argv, Env: spec.Env, Dir: ws.Dir()}, nil
}
