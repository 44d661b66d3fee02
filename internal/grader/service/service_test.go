package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codegrader/internal/common/mq"
	"codegrader/internal/grader/engine"
	"codegrader/internal/grader/model"
	"codegrader/internal/grader/orchestrator"
	"codegrader/internal/grader/report"
	"codegrader/internal/grader/result"
	"codegrader/internal/grader/toolchain"
	appErr "codegrader/pkg/errors"
)

type nopRunner struct{}

func (nopRunner) Run(context.Context, engine.RunSpec) (engine.RunResult, error) {
	return engine.RunResult{}, nil
}

type fakeGrader struct {
	verdict result.Verdict
	outcome orchestrator.RunOutcome
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeGrader) Grade(context.Context, orchestrator.Submission, []orchestrator.TestCase) result.Verdict {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.verdict
}

func (f *fakeGrader) Run(context.Context, orchestrator.Submission, string) orchestrator.RunOutcome {
	f.calls.Add(1)
	return f.outcome
}

type memJobs struct {
	mu   sync.Mutex
	recs map[string]model.JobRecord
	hist []result.JobStatus

	// failSaves fails that many saves of a record with status failOn.
	failOn    result.JobStatus
	failSaves int
	getErr    error
}

func newMemJobs() *memJobs { return &memJobs{recs: make(map[string]model.JobRecord)} }

func (m *memJobs) Get(_ context.Context, id string) (model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return model.JobRecord{}, m.getErr
	}
	rec, ok := m.recs[id]
	if !ok {
		return model.JobRecord{}, appErr.New(appErr.JobNotFound)
	}
	return rec, nil
}

func (m *memJobs) Save(_ context.Context, rec model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 && rec.Status == m.failOn {
		m.failSaves--
		return errors.New("redis timeout")
	}
	m.recs[rec.JobID] = rec
	m.hist = append(m.hist, rec.Status)
	return nil
}

type memQueue struct {
	mu   sync.Mutex
	msgs []*mq.Message
	err  error
}

func (q *memQueue) Publish(_ context.Context, _ string, m *mq.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, m)
	return nil
}

type memVerdicts struct {
	events []model.VerdictEvent
}

func (v *memVerdicts) PublishVerdict(_ context.Context, e model.VerdictEvent) error {
	v.events = append(v.events, e)
	return nil
}

type fixture struct {
	svc      *Service
	grader   *fakeGrader
	jobs     *memJobs
	queue    *memQueue
	verdicts *memVerdicts
}

func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()
	reg, err := toolchain.BuildRegistry(toolchain.DefaultLanguages(), nopRunner{}, toolchain.Options{})
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}
	f := &fixture{
		grader:   &fakeGrader{verdict: result.Accepted()},
		jobs:     newMemJobs(),
		queue:    &memQueue{},
		verdicts: &memVerdicts{},
	}
	svc, err := NewService(Config{
		Grader:           f.grader,
		Languages:        reg,
		Reporter:         report.New("/srv/ws"),
		Jobs:             f.jobs,
		Queue:            f.queue,
		Verdicts:         f.verdicts,
		JobTopic:         "grader.jobs",
		MaxConcurrent:    poolSize,
		AdmissionTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	f.svc = svc
	return f
}

func gradeReq() model.GradeRequest {
	return model.GradeRequest{
		Language:   "py",
		SourceCode: "print(input())",
		TestCases:  []model.TestCase{{Input: "1", ExpectedOutput: "1"}},
	}
}

func TestGradeReturnsPayload(t *testing.T) {
	f := newFixture(t, 2)
	f.grader.verdict = result.WrongAnswer(0)
	p, err := f.svc.Grade(context.Background(), gradeReq())
	if err != nil {
		t.Fatalf("grade failed: %v", err)
	}
	if p.Verdict != "WrongAnswer" || p.Message != "Failed at test case 1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestGradeValidation(t *testing.T) {
	f := newFixture(t, 1)
	cases := []struct {
		name string
		mut  func(*model.GradeRequest)
		code appErr.ErrorCode
	}{
		{"missing code", func(r *model.GradeRequest) { r.SourceCode = "" }, appErr.RequiredFieldEmpty},
		{"missing language", func(r *model.GradeRequest) { r.Language = "" }, appErr.ValidationFailed},
		{"unknown language", func(r *model.GradeRequest) { r.Language = "cobol" }, appErr.LanguageNotSupported},
		{"no test cases", func(r *model.GradeRequest) { r.TestCases = nil }, appErr.TestCasesEmpty},
		{"code too large", func(r *model.GradeRequest) { r.SourceCode = string(make([]byte, defaultMaxSourceBytes+1)) }, appErr.CodeTooLarge},
	}
	for _, tc := range cases {
		req := gradeReq()
		tc.mut(&req)
		_, err := f.svc.Grade(context.Background(), req)
		if !appErr.Is(err, tc.code) {
			t.Fatalf("%s: expected code %d, got %v", tc.name, tc.code, err)
		}
	}
	if f.grader.calls.Load() != 0 {
		t.Fatalf("invalid requests must not reach the grader")
	}
}

func TestGradeAcceptsLegacyCodeField(t *testing.T) {
	f := newFixture(t, 1)
	req := gradeReq()
	req.SourceCode = ""
	req.Code = "print(1)"
	if _, err := f.svc.Grade(context.Background(), req); err != nil {
		t.Fatalf("legacy code field rejected: %v", err)
	}
}

func TestGradeBusyPool(t *testing.T) {
	f := newFixture(t, 1)
	f.grader.block = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.svc.Grade(context.Background(), gradeReq())
	}()
	for f.grader.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	_, err := f.svc.Grade(context.Background(), gradeReq())
	if !appErr.Is(err, appErr.GraderBusy) {
		t.Fatalf("expected busy error, got %v", err)
	}
	close(f.grader.block)
	<-done
	if _, err := f.svc.Grade(context.Background(), gradeReq()); err != nil {
		t.Fatalf("slot should be free again: %v", err)
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t, 1)
	f.grader.outcome = orchestrator.RunOutcome{Output: "42\n"}
	p, err := f.svc.Run(context.Background(), model.RunRequest{Language: "cpp", Code: "int main(){}", Input: "x"})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if p.Output != "42\n" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if _, err := f.svc.Run(context.Background(), model.RunRequest{Language: "cpp"}); !appErr.Is(err, appErr.RequiredFieldEmpty) {
		t.Fatalf("expected missing code error, got %v", err)
	}
}

func TestLanguages(t *testing.T) {
	f := newFixture(t, 1)
	langs := f.svc.Languages()
	if len(langs) != 3 || langs[1].ID != "java" || langs[1].Kind != string(toolchain.KindCompiledJVM) {
		t.Fatalf("unexpected languages: %+v", langs)
	}
}

func TestSubmitAndHandleJob(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	accepted, err := f.svc.SubmitJob(ctx, gradeReq())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if accepted.Status != result.StatusPending || accepted.JobID == "" {
		t.Fatalf("unexpected accepted payload: %+v", accepted)
	}
	if len(f.queue.msgs) != 1 || f.queue.msgs[0].ID != accepted.JobID {
		t.Fatalf("expected one queued message")
	}

	if err := f.svc.HandleJobMessage(ctx, f.queue.msgs[0]); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	rec, err := f.svc.GetJob(ctx, accepted.JobID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if rec.Status != result.StatusFinished || rec.Result == nil || rec.Result.Verdict != "Accepted" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := []result.JobStatus{result.StatusPending, result.StatusRunning, result.StatusFinished}
	if len(f.jobs.hist) != len(want) {
		t.Fatalf("unexpected status history: %v", f.jobs.hist)
	}
	for i := range want {
		if f.jobs.hist[i] != want[i] {
			t.Fatalf("unexpected status history: %v", f.jobs.hist)
		}
	}
	if len(f.verdicts.events) != 1 || f.verdicts.events[0].JobID != accepted.JobID {
		t.Fatalf("expected one verdict event, got %+v", f.verdicts.events)
	}
}

func TestRedeliveredJobIsNotRegraded(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	accepted, err := f.svc.SubmitJob(ctx, gradeReq())
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	msg := f.queue.msgs[0]
	for i := 0; i < 2; i++ {
		if err := f.svc.HandleJobMessage(ctx, msg); err != nil {
			t.Fatalf("handle %d failed: %v", i, err)
		}
	}
	if f.grader.calls.Load() != 1 {
		t.Fatalf("expected one grading, got %d", f.grader.calls.Load())
	}
	if len(f.verdicts.events) != 2 || f.verdicts.events[1].JobID != accepted.JobID {
		t.Fatalf("expected the verdict to be republished")
	}
}

func TestVerdictSaveFailureDoesNotRegrade(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	if _, err := f.svc.SubmitJob(ctx, gradeReq()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	f.jobs.failOn = result.StatusFinished
	f.jobs.failSaves = 1
	msg := f.queue.msgs[0]

	if err := f.svc.HandleJobMessage(ctx, msg); err != nil {
		t.Fatalf("handle should not ask for a retry after grading: %v", err)
	}
	if len(f.verdicts.events) != 1 || f.verdicts.events[0].Result.Verdict != "Accepted" {
		t.Fatalf("expected the verdict to be published, got %+v", f.verdicts.events)
	}

	// A redelivery finds the job still Running and must not grade it again.
	if err := f.svc.HandleJobMessage(ctx, msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if f.grader.calls.Load() != 1 {
		t.Fatalf("expected one grading, got %d", f.grader.calls.Load())
	}
	rec, err := f.svc.GetJob(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if rec.Status != result.StatusFinished || rec.Result == nil || rec.Result.Verdict != "InternalError" {
		t.Fatalf("expected interrupted job to finish as internal error, got %+v", rec)
	}
}

func TestStatusLookupFailureRetriesWithoutGrading(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	if _, err := f.svc.SubmitJob(ctx, gradeReq()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	f.jobs.getErr = errors.New("redis timeout")
	if err := f.svc.HandleJobMessage(ctx, f.queue.msgs[0]); err == nil {
		t.Fatalf("expected lookup error to be returned")
	}
	if f.grader.calls.Load() != 0 {
		t.Fatalf("expected no grading, got %d", f.grader.calls.Load())
	}
}

func TestHandleJobInvalidPayload(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.svc.HandleJobMessage(context.Background(), mq.NewMessage("x", []byte("{"))); !appErr.Is(err, appErr.MessageInvalid) {
		t.Fatalf("expected invalid message error, got %v", err)
	}

	body, _ := json.Marshal(model.GradeJob{JobID: "j1", GradeRequest: model.GradeRequest{Language: "py"}})
	if err := f.svc.HandleJobMessage(context.Background(), mq.NewMessage("j1", body)); err != nil {
		t.Fatalf("rejected jobs are not retried: %v", err)
	}
	rec, _ := f.jobs.Get(context.Background(), "j1")
	if rec.Status != result.StatusFailed {
		t.Fatalf("expected failed status, got %+v", rec)
	}
	if f.grader.calls.Load() != 0 {
		t.Fatalf("invalid jobs must not be graded")
	}
}

func TestSubmitJobEnqueueFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.queue.err = errors.New("broker down")
	_, err := f.svc.SubmitJob(context.Background(), gradeReq())
	if !appErr.Is(err, appErr.JobEnqueueFailed) {
		t.Fatalf("expected enqueue failure, got %v", err)
	}
	for _, rec := range f.jobs.recs {
		if rec.Status != result.StatusFailed {
			t.Fatalf("expected failed record, got %+v", rec)
		}
	}
}

func TestJobsDisabled(t *testing.T) {
	reg, _ := toolchain.BuildRegistry(toolchain.DefaultLanguages(), nopRunner{}, toolchain.Options{})
	svc, err := NewService(Config{Grader: &fakeGrader{}, Languages: reg, Reporter: report.New("/w")})
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	if svc.JobsEnabled() {
		t.Fatalf("jobs should be disabled")
	}
	if _, err := svc.SubmitJob(context.Background(), gradeReq()); !appErr.Is(err, appErr.QueueDisabled) {
		t.Fatalf("expected queue disabled, got %v", err)
	}
	if _, err := svc.GetJob(context.Background(), "x"); !appErr.Is(err, appErr.QueueDisabled) {
		t.Fatalf("expected queue disabled, got %v", err)
	}
}
