package service

import (
	"context"
	"encoding/json"
	"time"

	"codegrader/internal/common/mq"
	"codegrader/internal/grader/model"
	"codegrader/internal/grader/result"
	appErr "codegrader/pkg/errors"
	"codegrader/pkg/utils/contextkey"
	"codegrader/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newJobID() string { return uuid.NewString() }

// JobsEnabled reports whether async jobs can be queued.
func (s *Service) JobsEnabled() bool {
	return s.jobs != nil && s.queue != nil && s.jobTopic != ""
}

// SubmitJob validates req, stores a Pending record and enqueues it.
func (s *Service) SubmitJob(ctx context.Context, req model.GradeRequest) (model.JobAccepted, error) {
	if !s.JobsEnabled() {
		return model.JobAccepted{}, appErr.New(appErr.QueueDisabled)
	}
	if err := s.validateGrade(req); err != nil {
		return model.JobAccepted{}, err
	}
	job := model.GradeJob{JobID: s.newID(), GradeRequest: req, EnqueuedAt: time.Now().Unix()}
	if err := s.saveJob(ctx, model.JobRecord{JobID: job.JobID, Status: result.StatusPending, Language: req.Language}); err != nil {
		return model.JobAccepted{}, err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return model.JobAccepted{}, appErr.Wrapf(err, appErr.JobEnqueueFailed, "encode job failed")
	}
	msg := mq.NewMessage(job.JobID, body)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		msg.SetHeader("trace_id", traceID)
	}
	if err := s.queue.Publish(ctx, s.jobTopic, msg); err != nil {
		failed := model.JobRecord{JobID: job.JobID, Status: result.StatusFailed, Language: req.Language, Error: "enqueue failed"}
		if saveErr := s.saveJob(ctx, failed); saveErr != nil {
			logger.Warn(ctx, "update failed job status failed", zap.String("job_id", job.JobID), zap.Error(saveErr))
		}
		return model.JobAccepted{}, appErr.Wrapf(err, appErr.JobEnqueueFailed, "enqueue job failed")
	}
	logger.Info(ctx, "job queued", zap.String("job_id", job.JobID), zap.String("language", req.Language))
	return model.JobAccepted{JobID: job.JobID, Status: result.StatusPending}, nil
}

// GetJob returns the stored job record.
func (s *Service) GetJob(ctx context.Context, jobID string) (model.JobRecord, error) {
	if s.jobs == nil {
		return model.JobRecord{}, appErr.New(appErr.QueueDisabled)
	}
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()
	return s.jobs.Get(ctxStatus, jobID)
}

// HandleJobMessage is the queue handler for grading jobs. A job that already
// has a verdict is never graded again; only its event is republished.
func (s *Service) HandleJobMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.MessageInvalid).WithMessage("message is nil")
	}
	if traceID, ok := msg.GetHeader("trace_id"); ok {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}
	var job model.GradeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return appErr.Wrapf(err, appErr.MessageInvalid, "decode job failed")
	}
	if job.JobID == "" {
		return appErr.New(appErr.MessageInvalid).WithMessage("job id is required")
	}
	ctx = context.WithValue(ctx, contextkey.JobID, job.JobID)

	existing, err := s.loadJob(ctx, job.JobID)
	if err != nil && !appErr.Is(err, appErr.JobNotFound) {
		// Nothing has run yet, so a retry is safe.
		return err
	}
	createdAt := existing.CreatedAt
	if err == nil {
		switch {
		case existing.Status == result.StatusFinished && existing.Result != nil:
			logger.Info(ctx, "job already graded, republishing verdict")
			return s.publishVerdict(ctx, existing)
		case existing.Status == result.StatusRunning:
			return s.abandonJob(ctx, existing)
		}
	}

	if err := s.validateGrade(job.GradeRequest); err != nil {
		failed := model.JobRecord{
			JobID:     job.JobID,
			Status:    result.StatusFailed,
			Language:  job.Language,
			Error:     appErr.GetCode(err).Message(),
			CreatedAt: createdAt,
		}
		if saveErr := s.saveJob(ctx, failed); saveErr != nil {
			return saveErr
		}
		logger.Warn(ctx, "job rejected", zap.Error(err))
		return nil
	}

	if err := s.acquireSlot(ctx, 0); err != nil {
		return err
	}
	defer s.releaseSlot()

	running := model.JobRecord{JobID: job.JobID, Status: result.StatusRunning, Language: job.Language, CreatedAt: createdAt}
	if err := s.saveJob(ctx, running); err != nil {
		return err
	}

	// From here on the user code has run. Errors are logged, never returned,
	// so the queue does not redeliver and grade the job again.
	verdict := s.grader.Grade(ctx, job.Submission(), job.Cases())
	payload := s.reporter.FromVerdict(verdict)
	finished := running
	finished.Status = result.StatusFinished
	finished.Result = &payload
	if err := s.saveJob(ctx, finished); err != nil {
		logger.Error(ctx, "save job verdict failed", zap.Error(err))
	}
	logger.Info(ctx, "job graded", zap.String("verdict", payload.Verdict))
	if err := s.publishVerdict(ctx, finished); err != nil {
		logger.Error(ctx, "publish verdict failed", zap.Error(err))
	}
	return nil
}

// abandonJob finishes a job whose earlier attempt started grading but never
// stored a verdict. It reports InternalError instead of running the code again.
func (s *Service) abandonJob(ctx context.Context, rec model.JobRecord) error {
	logger.Warn(ctx, "job interrupted during grading, not regrading")
	payload := s.reporter.FromVerdict(result.InternalError("grading interrupted"))
	rec.Status = result.StatusFinished
	rec.Result = &payload
	rec.Error = "grading interrupted"
	if err := s.saveJob(ctx, rec); err != nil {
		return err
	}
	return s.publishVerdict(ctx, rec)
}

func (s *Service) publishVerdict(ctx context.Context, rec model.JobRecord) error {
	if s.verdicts == nil || rec.Result == nil {
		return nil
	}
	return s.verdicts.PublishVerdict(ctx, model.VerdictEvent{
		JobID:      rec.JobID,
		Language:   rec.Language,
		Result:     *rec.Result,
		FinishedAt: time.Now().Unix(),
	})
}

func (s *Service) loadJob(ctx context.Context, jobID string) (model.JobRecord, error) {
	if s.jobs == nil {
		return model.JobRecord{}, appErr.New(appErr.QueueDisabled)
	}
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()
	return s.jobs.Get(ctxStatus, jobID)
}

func (s *Service) saveJob(ctx context.Context, rec model.JobRecord) error {
	if s.jobs == nil {
		return nil
	}
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()
	return s.jobs.Save(ctxStatus, rec)
}
