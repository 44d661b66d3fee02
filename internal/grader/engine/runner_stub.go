//go:build !linux

package engine

import (
	"context"

	appErr "codegrader/pkg/errors"
)

type stubRunner struct{}

// NewRunner returns a runner that always fails outside linux.
func NewRunner(cfg Config) (Runner, error) {
	return &stubRunner{}, nil
}

func (s *stubRunner) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	return RunResult{}, appErr.New(appErr.SandboxError).WithMessage("sandbox runner is only supported on linux")
}
