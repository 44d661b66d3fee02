// Package orchestrator grades one submission: compile once, then run test cases
// in order until the first failure.
package orchestrator

import (
	"context"
	"time"

	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/observer"
	"codegrader/internal/grader/result"
	"codegrader/internal/grader/toolchain"
	"codegrader/internal/grader/workspace"
	appErr "codegrader/pkg/errors"
	"codegrader/pkg/utils/logger"

	"go.uber.org/zap"
)

const internalErrorMessage = "internal error"

// Submission is immutable once accepted.
type Submission struct {
	Language   string
	SourceText string
}

// TestCase is one (input, expected output) pair.
type TestCase struct {
	Input          string
	ExpectedOutput string
}

// Executor runs one prepared command. Implemented by *engine.Engine.
type Executor interface {
	Execute(ctx context.Context, cmd engine.Command, io engine.IOPaths, limits engine.Limits) (*result.ExecutionResult, error)
}

// AdapterSource resolves a language id. Implemented by *toolchain.Registry.
type AdapterSource interface {
	Get(id string) (toolchain.Adapter, error)
}

// Config holds the base limits that language multipliers scale.
type Config struct {
	DefaultLimits engine.Limits
}

// Orchestrator is safe for concurrent use. Each call works in its own workspace.
type Orchestrator struct {
	workspaces *workspace.Manager
	adapters   AdapterSource
	executor   Executor
	metrics    observer.MetricsRecorder
	cfg        Config
}

// New creates an orchestrator. A nil metrics recorder is replaced by a no-op.
func New(workspaces *workspace.Manager, adapters AdapterSource, executor Executor, metrics observer.MetricsRecorder, cfg Config) *Orchestrator {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	return &Orchestrator{
		workspaces: workspaces,
		adapters:   adapters,
		executor:   executor,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// prepared is a compiled submission inside its workspace.
type prepared struct {
	adapter toolchain.Adapter
	ws      *workspace.Workspace
	cmd     engine.Command
	limits  engine.Limits
}

// Grade returns exactly one verdict. Infrastructure failures are logged and
// reported as a generic InternalError.
func (o *Orchestrator) Grade(ctx context.Context, sub Submission, cases []TestCase) result.Verdict {
	start := time.Now()
	verdict := o.grade(ctx, sub, cases)
	o.metrics.ObserveVerdict(ctx, sub.Language, string(verdict.Kind()), time.Since(start))
	return verdict
}

func (o *Orchestrator) grade(ctx context.Context, sub Submission, cases []TestCase) result.Verdict {
	if len(cases) == 0 {
		return o.internal(ctx, sub, appErr.New(appErr.TestCasesEmpty))
	}
	adapter, err := o.adapters.Get(sub.Language)
	if err != nil {
		return o.internal(ctx, sub, err)
	}
	ws, err := o.workspaces.Acquire(ctx)
	if err != nil {
		return o.internal(ctx, sub, err)
	}
	defer o.workspaces.Release(ctx, ws)

	p, compileRes, err := o.prepare(ctx, adapter, ws, sub)
	if err != nil {
		return o.internal(ctx, sub, err)
	}
	if compileRes != nil {
		return result.FromExecution(compileRes, -1)
	}

	for i, tc := range cases {
		res, err := o.runCase(ctx, p, tc.Input)
		if err != nil {
			return o.internal(ctx, sub, appErr.Wrapf(err, appErr.GetCode(err), "test case %d", i))
		}
		if !res.OK() {
			return result.FromExecution(res, i)
		}
		if !OutputMatches(res.Stdout, tc.ExpectedOutput) {
			return result.WrongAnswer(i)
		}
	}
	return result.Accepted()
}

// Run executes a single ad hoc input without comparing output.
func (o *Orchestrator) Run(ctx context.Context, sub Submission, input string) RunOutcome {
	adapter, err := o.adapters.Get(sub.Language)
	if err != nil {
		return failedOutcome(o.internal(ctx, sub, err))
	}
	ws, err := o.workspaces.Acquire(ctx)
	if err != nil {
		return failedOutcome(o.internal(ctx, sub, err))
	}
	defer o.workspaces.Release(ctx, ws)

	p, compileRes, err := o.prepare(ctx, adapter, ws, sub)
	if err != nil {
		return failedOutcome(o.internal(ctx, sub, err))
	}
	if compileRes != nil {
		return failedExecution(compileRes, -1)
	}
	res, err := o.runCase(ctx, p, input)
	if err != nil {
		return failedOutcome(o.internal(ctx, sub, err))
	}
	if !res.OK() {
		return failedExecution(res, 0)
	}
	return RunOutcome{Output: res.Stdout, Stats: res.Stats}
}

func (o *Orchestrator) prepare(ctx context.Context, adapter toolchain.Adapter, ws *workspace.Workspace, sub Submission) (*prepared, *result.ExecutionResult, error) {
	art, compileRes, err := adapter.Prepare(ctx, ws, sub.SourceText)
	if adapter.Kind() != toolchain.KindInterpreted && err == nil {
		stats := result.Stats{}
		if compileRes != nil {
			stats = compileRes.Stats
		}
		o.metrics.ObserveCompile(ctx, adapter.Language(), compileRes == nil, stats.TimeMs, stats.MemoryKB)
	}
	if err != nil || compileRes != nil {
		return nil, compileRes, err
	}
	cmd, err := adapter.RunCommand(art, ws)
	if err != nil {
		return nil, nil, err
	}
	return &prepared{
		adapter: adapter,
		ws:      ws,
		cmd:     cmd,
		limits:  adapter.RunLimits(o.cfg.DefaultLimits),
	}, nil, nil
}

// runCase replaces the input artifact and launches one fresh process.
func (o *Orchestrator) runCase(ctx context.Context, p *prepared, input string) (*result.ExecutionResult, error) {
	inputPath, err := p.ws.WriteInput(input)
	if err != nil {
		return nil, err
	}
	res, err := o.executor.Execute(ctx, p.cmd, engine.IOPaths{
		Stdin:  inputPath,
		Stdout: p.ws.OutputPath(),
		Stderr: p.ws.ErrorPath(),
	}, p.limits)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveRun(ctx, p.adapter.Language(), string(res.Kind), res.Stats.TimeMs, res.Stats.MemoryKB, res.Stats.OutputKB)
	return res, nil
}

func (o *Orchestrator) internal(ctx context.Context, sub Submission, err error) result.Verdict {
	logger.Error(ctx, "grading failed",
		zap.String("language", sub.Language),
		zap.Int("code", int(appErr.GetCode(err))),
		zap.Error(err),
	)
	return result.InternalError(internalErrorMessage)
}
