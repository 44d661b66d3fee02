// Package repository stores async job state and publishes verdict events.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"codegrader/internal/common/cache"
	"codegrader/internal/grader/model"
	appErr "codegrader/pkg/errors"
)

const (
	jobKeyPrefix  = "grader:job:"
	defaultJobTTL = 24 * time.Hour
)

// JobRepository handles job status persistence in the cache.
type JobRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewJobRepository creates a new repository. A non-positive ttl uses one day.
func NewJobRepository(cacheClient cache.Cache, ttl time.Duration) *JobRepository {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	return &JobRepository{cache: cacheClient, ttl: ttl}
}

// Get returns the record of jobID.
func (r *JobRepository) Get(ctx context.Context, jobID string) (model.JobRecord, error) {
	if jobID == "" {
		return model.JobRecord{}, appErr.ValidationError("job_id", "required")
	}
	if r.cache == nil {
		return model.JobRecord{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, jobKeyPrefix+jobID)
	if err != nil {
		return model.JobRecord{}, appErr.Wrapf(err, appErr.CacheError, "load job failed")
	}
	if val == "" {
		return model.JobRecord{}, appErr.New(appErr.JobNotFound).WithDetail("job_id", jobID)
	}
	var rec model.JobRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return model.JobRecord{}, appErr.Wrapf(err, appErr.CacheError, "decode job failed")
	}
	return rec, nil
}

// Save stores rec and refreshes its TTL.
func (r *JobRepository) Save(ctx context.Context, rec model.JobRecord) error {
	if rec.JobID == "" {
		return appErr.ValidationError("job_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	now := time.Now().Unix()
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	data, err := json.Marshal(rec)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "encode job failed")
	}
	if err := r.cache.Set(ctx, jobKeyPrefix+rec.JobID, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store job failed")
	}
	return nil
}

// Delete removes a job record.
func (r *JobRepository) Delete(ctx context.Context, jobID string) error {
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if err := r.cache.Del(ctx, jobKeyPrefix+jobID); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "delete job failed")
	}
	return nil
}
