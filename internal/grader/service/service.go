// Package service admits grading requests, runs them on a bounded pool and
// manages async jobs.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codegrader/internal/common/mq"
	"codegrader/internal/grader/model"
	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/report"
	"codegrader/internal/grader/repository"
	"codegrader/internal/grader/result"
	"codegrader/internal/grader/toolchain"
	appErr "codegrader/pkg/errors"
	"codegrader/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultMaxSourceBytes = 64 << 10
	defaultMaxInputBytes  = 16 << 20
	defaultMaxTestCases   = 512
)

// Grader is implemented by *orchestrator.Orchestrator.
type Grader interface {
	Grade(ctx context.Context, sub orchestrator.Submission, cases []orchestrator.TestCase) result.Verdict
	Run(ctx context.Context, sub orchestrator.Submission, input string) orchestrator.RunOutcome
}

// Languages is implemented by *toolchain.Registry.
type Languages interface {
	Get(id string) (toolchain.Adapter, error)
	Languages() []toolchain.LanguageSpec
}

// JobStore is implemented by *repository.JobRepository.
type JobStore interface {
	Get(ctx context.Context, jobID string) (model.JobRecord, error)
	Save(ctx context.Context, rec model.JobRecord) error
}

// Config holds service dependencies and settings. Jobs, Queue and Verdicts
// are optional; without them async jobs are disabled.
type Config struct {
	Grader    Grader
	Languages Languages
	Reporter  *report.Reporter

	Jobs     JobStore
	Queue    mq.Producer
	Verdicts repository.VerdictPublisher
	JobTopic string

	MaxConcurrent    int
	AdmissionTimeout time.Duration
	StatusTimeout    time.Duration
	MaxSourceBytes   int
	MaxInputBytes    int
	MaxTestCases     int
}

// Service is the entry point used by the HTTP controller and the job consumer.
type Service struct {
	grader    Grader
	languages Languages
	reporter  *report.Reporter

	jobs     JobStore
	queue    mq.Producer
	verdicts repository.VerdictPublisher
	jobTopic string

	admissionTimeout time.Duration
	statusTimeout    time.Duration
	maxSourceBytes   int
	maxInputBytes    int
	maxTestCases     int
	sem              chan struct{}
	newID            func() string
}

// NewService creates a new grader service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.Languages == nil {
		return nil, fmt.Errorf("language registry is required")
	}
	if cfg.Reporter == nil {
		return nil, fmt.Errorf("reporter is required")
	}
	poolSize := cfg.MaxConcurrent
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
	if cfg.MaxTestCases <= 0 {
		cfg.MaxTestCases = defaultMaxTestCases
	}
	return &Service{
		grader:           cfg.Grader,
		languages:        cfg.Languages,
		reporter:         cfg.Reporter,
		jobs:             cfg.Jobs,
		queue:            cfg.Queue,
		verdicts:         cfg.Verdicts,
		jobTopic:         cfg.JobTopic,
		admissionTimeout: cfg.AdmissionTimeout,
		statusTimeout:    cfg.StatusTimeout,
		maxSourceBytes:   cfg.MaxSourceBytes,
		maxInputBytes:    cfg.MaxInputBytes,
		maxTestCases:     cfg.MaxTestCases,
		sem:              make(chan struct{}, poolSize),
		newID:            newJobID,
	}, nil
}

// Grade grades synchronously. Errors are admission or validation failures;
// every admitted request yields a payload.
func (s *Service) Grade(ctx context.Context, req model.GradeRequest) (report.Payload, error) {
	if err := s.validateGrade(req); err != nil {
		return report.Payload{}, err
	}
	if err := s.acquireSlot(ctx, s.admissionTimeout); err != nil {
		return report.Payload{}, err
	}
	defer s.releaseSlot()

	verdict := s.grader.Grade(ctx, req.Submission(), req.Cases())
	logger.Info(ctx, "submission graded",
		zap.String("language", req.Language),
		zap.Int("test_cases", len(req.TestCases)),
		zap.String("verdict", string(verdict.Kind())),
	)
	return s.reporter.FromVerdict(verdict), nil
}

// Run executes one ad hoc input.
func (s *Service) Run(ctx context.Context, req model.RunRequest) (report.RunPayload, error) {
	if err := s.validateSubmission(req.Language, req.Source()); err != nil {
		return report.RunPayload{}, err
	}
	if len(req.Input) > s.maxInputBytes {
		return report.RunPayload{}, appErr.New(appErr.InputTooLarge)
	}
	if err := s.acquireSlot(ctx, s.admissionTimeout); err != nil {
		return report.RunPayload{}, err
	}
	defer s.releaseSlot()

	outcome := s.grader.Run(ctx, req.Submission(), req.Input)
	return s.reporter.FromRunOutcome(outcome), nil
}

// Languages lists the supported languages.
func (s *Service) Languages() []model.LanguageInfo {
	specs := s.languages.Languages()
	out := make([]model.LanguageInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, model.LanguageInfo{
			ID:      spec.ID,
			Name:    spec.Name,
			Version: spec.Version,
			Kind:    string(spec.Kind),
		})
	}
	return out
}

func (s *Service) validateGrade(req model.GradeRequest) error {
	if err := s.validateSubmission(req.Language, req.Source()); err != nil {
		return err
	}
	if len(req.TestCases) == 0 {
		return appErr.New(appErr.TestCasesEmpty)
	}
	if len(req.TestCases) > s.maxTestCases {
		return appErr.Newf(appErr.InvalidParams, "at most %d test cases are allowed", s.maxTestCases)
	}
	for i, tc := range req.TestCases {
		if len(tc.Input) > s.maxInputBytes || len(tc.ExpectedOutput) > s.maxInputBytes {
			return appErr.New(appErr.InputTooLarge).WithDetail("test_case", i)
		}
	}
	return nil
}

func (s *Service) validateSubmission(language, source string) error {
	if strings.TrimSpace(language) == "" {
		return appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(source) == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("Code is required")
	}
	if len(source) > s.maxSourceBytes {
		return appErr.New(appErr.CodeTooLarge)
	}
	if _, err := s.languages.Get(language); err != nil {
		return err
	}
	return nil
}

// acquireSlot waits for a pool slot. A zero timeout waits until ctx ends.
func (s *Service) acquireSlot(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.ServiceUnavailable, "request ended while waiting for a grader slot")
	case <-expired:
		return appErr.New(appErr.GraderBusy).WithMessage("grader pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) withStatusTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statusTimeout > 0 {
		return context.WithTimeout(ctx, s.statusTimeout)
	}
	return ctx, func() {}
}
