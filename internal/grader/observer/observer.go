// Package observer defines metrics hooks for grading.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records grading metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64, memoryKB int64)
	ObserveRun(ctx context.Context, languageID string, outcome string, timeMs int64, memoryKB int64, outputKB int64)
	ObserveVerdict(ctx context.Context, languageID string, verdict string, elapsed time.Duration)
}

// NoopMetricsRecorder discards everything.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64, int64) {}

func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64, int64, int64) {}

func (NoopMetricsRecorder) ObserveVerdict(context.Context, string, string, time.Duration) {}
