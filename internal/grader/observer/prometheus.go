package observer

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grader"

// PrometheusRecorder exports grading metrics.
type PrometheusRecorder struct {
	compiles     *prometheus.CounterVec
	compileTime  *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runTime      *prometheus.HistogramVec
	runMemory    *prometheus.HistogramVec
	verdicts     *prometheus.CounterVec
	gradeLatency *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the grading metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		compiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compiles_total",
			Help:      "Compilations by language and result",
		}, []string{"language", "ok"}),
		compileTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compile_cpu_seconds",
			Help:      "Compiler CPU time",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"language"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Test case executions by language and outcome",
		}, []string{"language", "outcome"}),
		runTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_cpu_seconds",
			Help:      "CPU time of one test case execution",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"language"}),
		runMemory: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_memory_bytes",
			Help:      "Peak memory of one test case execution",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 2, 10),
		}, []string{"language"}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Final verdicts by language",
		}, []string{"language", "verdict"}),
		gradeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grade_duration_seconds",
			Help:      "Wall time of a whole grading attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"language"}),
	}
}

func (p *PrometheusRecorder) ObserveCompile(_ context.Context, languageID string, ok bool, timeMs int64, _ int64) {
	p.compiles.WithLabelValues(languageID, strconv.FormatBool(ok)).Inc()
	p.compileTime.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
}

func (p *PrometheusRecorder) ObserveRun(_ context.Context, languageID string, outcome string, timeMs int64, memoryKB int64, _ int64) {
	p.runs.WithLabelValues(languageID, outcome).Inc()
	p.runTime.WithLabelValues(languageID).Observe(float64(timeMs) / 1000)
	p.runMemory.WithLabelValues(languageID).Observe(float64(memoryKB * 1024))
}

func (p *PrometheusRecorder) ObserveVerdict(_ context.Context, languageID string, verdict string, elapsed time.Duration) {
	p.verdicts.WithLabelValues(languageID, verdict).Inc()
	p.gradeLatency.WithLabelValues(languageID).Observe(elapsed.Seconds())
}
