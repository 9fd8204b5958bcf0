package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/reqmine/internal/extract"
)

// memStore mirrors the Redis store's transition guards in memory so the
// manager tests exercise the same state machine.
type memStore struct {
	mu            sync.Mutex
	records       map[string]*Record
	progressCalls int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*Record)}
}

func (s *memStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (s *memStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	clone := *record
	s.records[record.JobID] = &clone
	return nil
}

func (s *memStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, jobID)
	return nil
}

func (s *memStore) mutate(jobID string, fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobMissing, jobID)
	}
	if err := fn(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.mutate(jobID, func(r *Record) error {
		if err := transition(r, StatusRunning); err != nil {
			return err
		}
		now := time.Now().UTC()
		r.StartedAt = &now
		return nil
	})
}

func (s *memStore) MarkCompleted(ctx context.Context, jobID string, resultPath string, meta any) error {
	return s.mutate(jobID, func(r *Record) error {
		if err := transition(r, StatusCompleted); err != nil {
			return err
		}
		r.ResultPath = resultPath
		r.Meta = meta
		r.Progress.Percent = 100
		return nil
	})
}

func (s *memStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.mutate(jobID, func(r *Record) error {
		if err := transition(r, StatusFailed); err != nil {
			return err
		}
		r.Error = errInfo
		return nil
	})
}

func (s *memStore) MarkCancelled(ctx context.Context, jobID string) error {
	return s.mutate(jobID, func(r *Record) error {
		return transition(r, StatusCancelled)
	})
}

func (s *memStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.mutate(jobID, func(r *Record) error {
		if r.Status != StatusRunning {
			return nil
		}
		s.progressCalls++
		r.Progress = progress
		return nil
	})
}

func (s *memStore) record(t *testing.T, jobID string) Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[jobID]
	if !ok {
		t.Fatalf("record %s not in store", jobID)
	}
	return *record
}

type enqueuedTask struct {
	taskType string
	queue    string
	jobID    string
}

type stubQueue struct {
	mu         sync.Mutex
	enqueued   []enqueuedTask
	deleted    []string
	enqueueErr error
	deleteErr  error
}

func (q *stubQueue) Enqueue(ctx context.Context, taskType, queue, jobID string, payload []byte) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, enqueuedTask{taskType: taskType, queue: queue, jobID: jobID})
	return nil
}

func (q *stubQueue) Delete(queue, jobID string) error {
	if q.deleteErr != nil {
		return q.deleteErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, queue+"/"+jobID)
	return nil
}

func (q *stubQueue) Close() error { return nil }

type stubRunner struct {
	mu            sync.Mutex
	extractionIn  *ExtractionPayload
	contraIn      *ContradictionPayload
	result        *RunResult
	err           error
	panicValue    any
	emitProgress  *ProgressInfo
	extractionRun int
	contraRun     int
}

func (r *stubRunner) RunExtraction(ctx context.Context, jobID string, payload *ExtractionPayload, report ProgressFunc) (*RunResult, error) {
	r.mu.Lock()
	r.extractionRun++
	r.extractionIn = payload
	r.mu.Unlock()
	if r.panicValue != nil {
		panic(r.panicValue)
	}
	if r.emitProgress != nil && report != nil {
		report(*r.emitProgress)
	}
	return r.result, r.err
}

func (r *stubRunner) RunContradictionCheck(ctx context.Context, jobID string, payload *ContradictionPayload, report ProgressFunc) (*RunResult, error) {
	r.mu.Lock()
	r.contraRun++
	r.contraIn = payload
	r.mu.Unlock()
	return r.result, r.err
}

func newTestManager(store recordStore, queue taskQueue, runner Runner) *Manager {
	return &Manager{
		queue:  queue,
		store:  store,
		runner: runner,
		logger: log.New(io.Discard, "", 0),
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func jobErrCode(t *testing.T, err error) string {
	t.Helper()
	var jobErr *Error
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected *jobs.Error, got %T: %v", err, err)
	}
	return jobErr.Code
}

func TestValidatePayloadExtraction(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"empty payload", "", false},
		{"broken json", "{", false},
		{"neither text nor fileId", `{"fileName": "spec.pdf"}`, false},
		{"both text and fileId", `{"text": "abc", "fileId": "f1"}`, false},
		{"negative numAnalyses", `{"text": "abc", "numAnalyses": -1}`, false},
		{"text input", `{"text": "abc"}`, true},
		{"file input", `{"fileId": "b2b9f8c0-0000-0000-0000-000000000000"}`, true},
	}
	for _, tc := range cases {
		err := validatePayload(TypePDFProcessing, json.RawMessage(tc.payload))
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
				continue
			}
			if code := jobErrCode(t, err); code != CodeInvalidPayload {
				t.Errorf("%s: code = %s, want INVALID_PAYLOAD", tc.name, code)
			}
		}
	}
}

func TestValidatePayloadContradiction(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"one requirement", `{"requirements": [{"title": "a", "description": "b"}]}`, false},
		{"missing title", `{"requirements": [{"title": "", "description": "b"}, {"title": "c", "description": "d"}]}`, false},
		{"missing description", `{"requirements": [{"title": "a", "description": ""}, {"title": "c", "description": "d"}]}`, false},
		{"threshold above one", `{"requirements": [{"title": "a", "description": "b"}, {"title": "c", "description": "d"}], "threshold": 1.5}`, false},
		{"valid pair", `{"requirements": [{"title": "a", "description": "b"}, {"title": "c", "description": "d"}], "threshold": 0.9}`, true},
	}
	for _, tc := range cases {
		err := validatePayload(TypeContradictionCheck, json.RawMessage(tc.payload))
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestCreateJobValidationFailsBeforeRecord(t *testing.T) {
	store := newMemStore()
	queue := &stubQueue{}
	m := newTestManager(store, queue, &stubRunner{})

	_, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: json.RawMessage(`{"fileName": "no input"}`),
	})
	if code := jobErrCode(t, err); code != CodeInvalidPayload {
		t.Fatalf("code = %s, want INVALID_PAYLOAD", code)
	}
	if len(store.records) != 0 {
		t.Fatal("invalid payload must not leave a record behind")
	}
	if len(queue.enqueued) != 0 {
		t.Fatal("invalid payload must not enqueue a task")
	}
}

func TestCreateJobRejectsUnknownTypeAndPriority(t *testing.T) {
	m := newTestManager(newMemStore(), &stubQueue{}, &stubRunner{})

	_, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "EMAIL_DELIVERY",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if code := jobErrCode(t, err); code != CodeInvalidPayload {
		t.Fatalf("unknown type code = %s, want INVALID_PAYLOAD", code)
	}

	_, err = m.CreateJob(context.Background(), CreateJobRequest{
		Type:     "PDF_PROCESSING",
		Payload:  mustRaw(t, ExtractionPayload{Text: "doc"}),
		Priority: "URGENT",
	})
	if code := jobErrCode(t, err); code != CodeInvalidPayload {
		t.Fatalf("unknown priority code = %s, want INVALID_PAYLOAD", code)
	}
}

func TestCreateJobEnqueuesPendingRecord(t *testing.T) {
	store := newMemStore()
	queue := &stubQueue{}
	m := newTestManager(store, queue, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:     "PDF_PROCESSING",
		Payload:  mustRaw(t, ExtractionPayload{Text: "document body", FileName: "spec.txt"}),
		Priority: "HIGH",
		UserID:   "admin",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if record.JobID == "" {
		t.Fatal("job id not assigned")
	}
	if record.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", record.Status)
	}
	if record.Priority != PriorityHigh || record.UserID != "admin" {
		t.Fatalf("unexpected record: %+v", record)
	}

	stored := store.record(t, record.JobID)
	if stored.Status != StatusPending {
		t.Fatalf("stored status = %s, want PENDING", stored.Status)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(queue.enqueued))
	}
	task := queue.enqueued[0]
	if task.taskType != taskTypeExtraction || task.queue != queueHigh || task.jobID != record.JobID {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestCreateJobDefaultsLargeFilesToLow(t *testing.T) {
	queue := &stubQueue{}
	m := newTestManager(newMemStore(), queue, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "LARGE_FILE_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "huge document"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if record.Priority != PriorityLow {
		t.Fatalf("priority = %s, want LOW default", record.Priority)
	}
	if queue.enqueued[0].queue != queueLow {
		t.Fatalf("queue = %s, want low", queue.enqueued[0].queue)
	}

	// An explicit priority wins over the large-file default.
	record, err = m.CreateJob(context.Background(), CreateJobRequest{
		Type:     "LARGE_FILE_PROCESSING",
		Payload:  mustRaw(t, ExtractionPayload{Text: "huge document"}),
		Priority: "HIGH",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if record.Priority != PriorityHigh {
		t.Fatalf("priority = %s, want HIGH", record.Priority)
	}
}

func TestCreateJobContradictionUsesOwnTaskType(t *testing.T) {
	queue := &stubQueue{}
	m := newTestManager(newMemStore(), queue, &stubRunner{})

	_, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type: "CONTRADICTION_CHECK",
		Payload: mustRaw(t, ContradictionPayload{Requirements: []RequirementRef{
			{Title: "a", Description: "b"},
			{Title: "c", Description: "d"},
		}}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if queue.enqueued[0].taskType != taskTypeContradiction {
		t.Fatalf("task type = %s, want %s", queue.enqueued[0].taskType, taskTypeContradiction)
	}
}

func TestCreateJobRollsBackOnEnqueueFailure(t *testing.T) {
	store := newMemStore()
	queue := &stubQueue{enqueueErr: errors.New("redis down")}
	m := newTestManager(store, queue, &stubRunner{})

	_, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err == nil {
		t.Fatal("expected enqueue failure to surface")
	}
	if len(store.records) != 0 {
		t.Fatal("record must be rolled back when enqueue fails")
	}
}

func TestGetJobNotFound(t *testing.T) {
	m := newTestManager(newMemStore(), &stubQueue{}, &stubRunner{})
	_, err := m.GetJob(context.Background(), "missing-id")
	if code := jobErrCode(t, err); code != CodeJobNotFound {
		t.Fatalf("code = %s, want JOB_NOT_FOUND", code)
	}
}

func TestGetStatusSnapshot(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, &stubQueue{}, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	snap, err := m.GetStatus(context.Background(), record.JobID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Status != StatusPending || snap.Error != nil {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestCancelPendingJob(t *testing.T) {
	store := newMemStore()
	queue := &stubQueue{}
	m := newTestManager(store, queue, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:     "PDF_PROCESSING",
		Payload:  mustRaw(t, ExtractionPayload{Text: "doc"}),
		Priority: "LOW",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := m.Cancel(context.Background(), record.JobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := store.record(t, record.JobID).Status; got != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got)
	}
	if len(queue.deleted) != 1 || queue.deleted[0] != "low/"+record.JobID {
		t.Fatalf("unexpected queue deletions: %v", queue.deleted)
	}

	// A cancelled job has no result to fetch.
	_, _, err = m.OpenResult(context.Background(), record.JobID)
	if code := jobErrCode(t, err); code != CodeJobNotReady {
		t.Fatalf("post-cancel result code = %s, want JOB_NOT_READY", code)
	}
}

func TestCancelRunningJobFails(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, &stubQueue{}, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.MarkRunning(context.Background(), record.JobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	err = m.Cancel(context.Background(), record.JobID)
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeJobNotCancellable {
		t.Fatalf("expected JOB_NOT_CANCELLABLE, got %v", err)
	}
	if jobErr.Status != StatusRunning {
		t.Fatalf("error status = %s, want RUNNING", jobErr.Status)
	}
}

func TestCancelLosesRaceWithWorker(t *testing.T) {
	// Task deletion failing means the worker grabbed the task between the
	// status check and the delete; the record must stay PENDING so the
	// worker's own transition to RUNNING is still legal.
	store := newMemStore()
	queue := &stubQueue{deleteErr: errors.New("task not found in queue")}
	m := newTestManager(store, queue, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	err = m.Cancel(context.Background(), record.JobID)
	if code := jobErrCode(t, err); code != CodeJobNotCancellable {
		t.Fatalf("code = %s, want JOB_NOT_CANCELLABLE", code)
	}
	if got := store.record(t, record.JobID).Status; got != StatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	m := newTestManager(newMemStore(), &stubQueue{}, &stubRunner{})
	err := m.Cancel(context.Background(), "missing-id")
	if code := jobErrCode(t, err); code != CodeJobNotFound {
		t.Fatalf("code = %s, want JOB_NOT_FOUND", code)
	}
}

func TestOpenResult(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store, &stubQueue{}, &stubRunner{})

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, _, err = m.OpenResult(context.Background(), record.JobID)
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeJobNotReady {
		t.Fatalf("expected JOB_NOT_READY, got %v", err)
	}
	if jobErr.Status != StatusPending {
		t.Fatalf("error status = %s, want PENDING", jobErr.Status)
	}

	resultPath := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(resultPath, []byte(`{"requirements": []}`), 0o640); err != nil {
		t.Fatalf("write result file: %v", err)
	}
	if err := store.MarkRunning(context.Background(), record.JobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.MarkCompleted(context.Background(), record.JobID, resultPath, nil); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, file, err := m.OpenResult(context.Background(), record.JobID)
	if err != nil {
		t.Fatalf("OpenResult: %v", err)
	}
	defer file.Close()
	if got.Status != StatusCompleted {
		t.Fatalf("record status = %s, want COMPLETED", got.Status)
	}

	// An expired (deleted) artifact is reported as a missing result.
	if err := os.Remove(resultPath); err != nil {
		t.Fatalf("remove result file: %v", err)
	}
	_, _, err = m.OpenResult(context.Background(), record.JobID)
	if code := jobErrCode(t, err); code != CodeResultNotFound {
		t.Fatalf("code = %s, want JOB_RESULT_NOT_FOUND", code)
	}
}

func newTask(t *testing.T, taskType, jobID string, jobType Type) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(TaskPayload{JobID: jobID, Type: jobType})
	if err != nil {
		t.Fatalf("marshal task payload: %v", err)
	}
	return asynq.NewTask(taskType, body)
}

func TestHandleExtractionTaskCompletesJob(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{
		result:       &RunResult{ResultPath: "/tmp/result.json", Meta: map[string]int{"requirementCount": 3}},
		emitProgress: &ProgressInfo{Percent: 50, Stage: "analyze", TotalCalls: 4, FailedCalls: 1},
	}
	m := newTestManager(store, &stubQueue{}, runner)

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc", FileName: "spec.txt"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	task := newTask(t, taskTypeExtraction, record.JobID, TypePDFProcessing)
	if err := m.handleExtractionTask(context.Background(), task); err != nil {
		t.Fatalf("handleExtractionTask: %v", err)
	}

	if runner.extractionRun != 1 {
		t.Fatalf("runner calls = %d, want 1", runner.extractionRun)
	}
	if runner.extractionIn.Text != "doc" || runner.extractionIn.FileName != "spec.txt" {
		t.Fatalf("runner payload = %+v", runner.extractionIn)
	}

	final := store.record(t, record.JobID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", final.Status)
	}
	if final.ResultPath != "/tmp/result.json" {
		t.Fatalf("result path = %q", final.ResultPath)
	}
	if final.StartedAt == nil {
		t.Fatal("StartedAt not recorded")
	}
	if store.progressCalls == 0 {
		t.Fatal("runner progress was not forwarded to the store")
	}
}

func TestHandleTaskMarksFailureWithPipelineCode(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{err: &extract.Error{Code: extract.CodeTextExtraction, Message: "本文の抽出に失敗しました"}}
	m := newTestManager(store, &stubQueue{}, runner)

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	task := newTask(t, taskTypeExtraction, record.JobID, TypePDFProcessing)
	// The handler reports failure through the record, never through asynq,
	// so the queue does not retry a failed pipeline.
	if err := m.handleExtractionTask(context.Background(), task); err != nil {
		t.Fatalf("handler must swallow job failures, got %v", err)
	}

	final := store.record(t, record.JobID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.Error == nil || final.Error.Code != extract.CodeTextExtraction {
		t.Fatalf("error info = %+v, want TEXT_EXTRACTION_FAILED", final.Error)
	}
}

func TestHandleTaskRecoversPanic(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{panicValue: "unexpected nil"}
	m := newTestManager(store, &stubQueue{}, runner)

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	task := newTask(t, taskTypeExtraction, record.JobID, TypePDFProcessing)
	if err := m.handleExtractionTask(context.Background(), task); err != nil {
		t.Fatalf("panic must not escape the handler, got %v", err)
	}

	final := store.record(t, record.JobID)
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	if final.Error == nil || final.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("error info = %+v, want INTERNAL_ERROR", final.Error)
	}
}

func TestHandleTaskSkipsCancelledJob(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{result: &RunResult{ResultPath: "/tmp/r.json"}}
	m := newTestManager(store, &stubQueue{}, runner)

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type:    "PDF_PROCESSING",
		Payload: mustRaw(t, ExtractionPayload{Text: "doc"}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := store.MarkCancelled(context.Background(), record.JobID); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	task := newTask(t, taskTypeExtraction, record.JobID, TypePDFProcessing)
	if err := m.handleExtractionTask(context.Background(), task); err != nil {
		t.Fatalf("handleExtractionTask: %v", err)
	}
	if runner.extractionRun != 0 {
		t.Fatal("cancelled job must not run")
	}
	if got := store.record(t, record.JobID).Status; got != StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED untouched", got)
	}
}

func TestHandleTaskIgnoresMissingRecord(t *testing.T) {
	runner := &stubRunner{result: &RunResult{ResultPath: "/tmp/r.json"}}
	m := newTestManager(newMemStore(), &stubQueue{}, runner)

	task := newTask(t, taskTypeExtraction, "ghost-job", TypePDFProcessing)
	if err := m.handleExtractionTask(context.Background(), task); err != nil {
		t.Fatalf("handleExtractionTask: %v", err)
	}
	if runner.extractionRun != 0 {
		t.Fatal("runner must not run for a missing record")
	}
}

func TestHandleContradictionTaskDecodesPayload(t *testing.T) {
	store := newMemStore()
	runner := &stubRunner{result: &RunResult{ResultPath: "/tmp/r.json"}}
	m := newTestManager(store, &stubQueue{}, runner)

	record, err := m.CreateJob(context.Background(), CreateJobRequest{
		Type: "CONTRADICTION_CHECK",
		Payload: mustRaw(t, ContradictionPayload{
			Requirements: []RequirementRef{
				{Title: "Sessions end after 30 minutes", Description: "Idle sessions are closed."},
				{Title: "Sessions never expire", Description: "Sessions stay open indefinitely."},
			},
			Threshold: 0.9,
		}),
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	task := newTask(t, taskTypeContradiction, record.JobID, TypeContradictionCheck)
	if err := m.handleContradictionTask(context.Background(), task); err != nil {
		t.Fatalf("handleContradictionTask: %v", err)
	}
	if runner.contraRun != 1 {
		t.Fatalf("contradiction runs = %d, want 1", runner.contraRun)
	}
	if len(runner.contraIn.Requirements) != 2 || runner.contraIn.Threshold != 0.9 {
		t.Fatalf("decoded payload = %+v", runner.contraIn)
	}
	if got := store.record(t, record.JobID).Status; got != StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got)
	}
}
