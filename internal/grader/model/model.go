// Package model holds request, job and event payloads of the grader service.
package model

import (
	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/report"
	"codegrader/internal/grader/result"
)

// TestCase is the wire form of one test case.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// GradeRequest asks for a full grading of one submission.
type GradeRequest struct {
	Language   string     `json:"language"`
	SourceCode string     `json:"source_code"`
	Code       string     `json:"code,omitempty"` // legacy field name
	TestCases  []TestCase `json:"test_cases"`
}

// Source returns the submitted code, preferring source_code over the legacy field.
func (r GradeRequest) Source() string {
	if r.SourceCode != "" {
		return r.SourceCode
	}
	return r.Code
}

func (r GradeRequest) Submission() orchestrator.Submission {
	return orchestrator.Submission{Language: r.Language, SourceText: r.Source()}
}

func (r GradeRequest) Cases() []orchestrator.TestCase {
	out := make([]orchestrator.TestCase, len(r.TestCases))
	for i, tc := range r.TestCases {
		out[i] = orchestrator.TestCase{Input: tc.Input, ExpectedOutput: tc.ExpectedOutput}
	}
	return out
}

// RunRequest asks for one ad hoc execution.
type RunRequest struct {
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
	Code       string `json:"code,omitempty"`
	Input      string `json:"input"`
}

func (r RunRequest) Source() string {
	if r.SourceCode != "" {
		return r.SourceCode
	}
	return r.Code
}

func (r RunRequest) Submission() orchestrator.Submission {
	return orchestrator.Submission{Language: r.Language, SourceText: r.Source()}
}

// GradeJob is the queue payload of an async grading request.
type GradeJob struct {
	JobID string `json:"job_id"`
	GradeRequest
	EnqueuedAt int64 `json:"enqueued_at"`
}

// JobRecord is the stored state of an async job.
type JobRecord struct {
	JobID     string           `json:"job_id"`
	Status    result.JobStatus `json:"status"`
	Language  string           `json:"language,omitempty"`
	Result    *report.Payload  `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt int64            `json:"created_at"`
	UpdatedAt int64            `json:"updated_at"`
}

// JobAccepted is returned when a job is queued.
type JobAccepted struct {
	JobID  string           `json:"job_id"`
	Status result.JobStatus `json:"status"`
}

// VerdictEvent is published once a job has a final verdict.
type VerdictEvent struct {
	JobID      string         `json:"job_id"`
	Language   string         `json:"language"`
	Result     report.Payload `json:"result"`
	FinishedAt int64          `json:"finished_at"`
}

// LanguageInfo describes one supported language.
type LanguageInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Kind    string `json:"kind"`
}
