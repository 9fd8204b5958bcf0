package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/reqmine/internal/config"
	"github.com/yourusername/reqmine/internal/extract"
)

const (
	taskTypeExtraction    = "extract:requirements"
	taskTypeContradiction = "extract:contradictions"

	queueHigh   = "high"
	queueNormal = "normal"
	queueLow    = "low"
)

// ProgressFunc は実行中ジョブの進捗を通知するコールバックです。
type ProgressFunc func(info ProgressInfo)

// RunResult はジョブ実行の成果物です。ResultPath は結果JSONのファイルパス、
// Meta はレコードに保持する要約情報です。
type RunResult struct {
	ResultPath string
	Meta       any
}

// Runner は各ジョブ種別の実処理を実行します。
type Runner interface {
	RunExtraction(ctx context.Context, jobID string, payload *ExtractionPayload, report ProgressFunc) (*RunResult, error)
	RunContradictionCheck(ctx context.Context, jobID string, payload *ContradictionPayload, report ProgressFunc) (*RunResult, error)
}

// recordStore は Manager が利用するレコード操作の最小インターフェースです。
type recordStore interface {
	Get(ctx context.Context, jobID string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	Delete(ctx context.Context, jobID string) error
	MarkRunning(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID string, resultPath string, meta any) error
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
	MarkCancelled(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error
}

// taskQueue は Asynq のうち Manager が使う操作です。
type taskQueue interface {
	Enqueue(ctx context.Context, taskType, queue, jobID string, payload []byte) error
	Delete(queue, jobID string) error
	Close() error
}

// TaskPayload はキューに積むタスクの本文です。ジョブ本体のペイロードは
// レコード側に保持し、タスクには参照のみを載せます。
type TaskPayload struct {
	JobID string `json:"jobId"`
	Type  Type   `json:"type"`
}

// Manager はジョブの投入・状態参照・取り消しと、ワーカーの駆動を担います。
type Manager struct {
	cfg    *config.Config
	queue  taskQueue
	server *asynq.Server
	mux    *asynq.ServeMux
	store  recordStore
	runner Runner
	logger *log.Logger
}

// CreateJobRequest はジョブ作成の入力です。Type / Priority は外部表現の
// 文字列のまま受け取り、Manager 側で検証します。
type CreateJobRequest struct {
	Type      string
	Payload   json.RawMessage
	Priority  string
	UserID    string
	ProjectID string
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store *Store, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	// ワーカーは常に1並列。単一ジョブ内部のファンアウトが大きいため、
	// ジョブ自体を直列化してピーク資源を抑えます。
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				queueHigh:   3,
				queueNormal: 2,
				queueLow:    1,
			},
			StrictPriority: true,
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg: cfg,
		queue: &asynqQueue{
			client:    asynq.NewClient(opt),
			inspector: asynq.NewInspector(opt),
		},
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(taskTypeExtraction, manager.handleExtractionTask)
	mux.HandleFunc(taskTypeContradiction, manager.handleContradictionTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logf("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.queue.Close()
}

// CreateJob はペイロードを検証し、PENDING のレコードを作成してキューに投入します。
// 検証エラーはレコード作成前に INVALID_PAYLOAD として返します。
func (m *Manager) CreateJob(ctx context.Context, req CreateJobRequest) (*Record, error) {
	jobType, ok := ParseType(req.Type)
	if !ok {
		return nil, newError(CodeInvalidPayload, fmt.Sprintf("不明なジョブ種別です: %s", req.Type), nil)
	}
	priority, ok := ParsePriority(req.Priority)
	if !ok {
		return nil, newError(CodeInvalidPayload, fmt.Sprintf("優先度が不正です: %s", req.Priority), nil)
	}
	// 大容量文書ジョブは明示指定がない限り低優先度で投入します。
	if req.Priority == "" && jobType == TypeLargeFileProcessing {
		priority = PriorityLow
	}
	if err := validatePayload(jobType, req.Payload); err != nil {
		return nil, err
	}

	record := &Record{
		JobID:    uuid.NewString(),
		Type:     jobType,
		Status:   StatusPending,
		Priority: priority,
		Payload:  req.Payload,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return nil, err
	}

	body, err := json.Marshal(TaskPayload{JobID: record.JobID, Type: jobType})
	if err != nil {
		return nil, err
	}
	if err := m.queue.Enqueue(ctx, taskTypeFor(jobType), queueForPriority(priority), record.JobID, body); err != nil {
		if derr := m.store.Delete(ctx, record.JobID); derr != nil {
			m.logf("failed to roll back record after enqueue error job=%s: %v", record.JobID, derr)
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	m.logf("job %s created (type=%s priority=%s)", record.JobID, jobType, priority)
	return record, nil
}

// GetJob はジョブ情報を取得します。
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Record, error) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, newError(CodeJobNotFound, "指定されたジョブが見つかりません", nil)
	}
	return record, nil
}

// GetStatus は状態ポーリング向けのスナップショットを返します。
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*StatusSnapshot, error) {
	record, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		Status:   record.Status,
		Progress: record.Progress,
		Error:    record.Error,
	}, nil
}

// OpenResult は完了済みジョブの結果ファイルを開きます。クローズは呼び出し側が行います。
func (m *Manager) OpenResult(ctx context.Context, jobID string) (*Record, *os.File, error) {
	record, err := m.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != StatusCompleted {
		return nil, nil, newStateError(CodeJobNotReady, fmt.Sprintf("ジョブはまだ完了していません（現在の状態: %s）", record.Status), record.Status)
	}
	if record.ResultPath == "" {
		return nil, nil, newError(CodeResultNotFound, "結果ファイルが見つかりません", nil)
	}
	file, err := os.Open(record.ResultPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, newError(CodeResultNotFound, "結果ファイルは保持期限を過ぎて削除されました", err)
		}
		return nil, nil, err
	}
	return record, file, nil
}

// Cancel は待機中のジョブを取り消します。実行中のジョブは中断できません。
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	record, err := m.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if record.Status != StatusPending {
		return newStateError(CodeJobNotCancellable, fmt.Sprintf("このジョブは取り消せません（現在の状態: %s）", record.Status), record.Status)
	}
	// 先にキューからタスクを削除し、成功した場合のみ取り消し状態にします。
	// 削除に失敗した場合はワーカーが実行を開始した直後とみなします。
	if err := m.queue.Delete(queueForPriority(record.Priority), jobID); err != nil {
		m.logf("failed to delete queued task job=%s: %v", jobID, err)
		return newError(CodeJobNotCancellable, "ジョブは既に実行中のため取り消せません", err)
	}
	if err := m.store.MarkCancelled(ctx, jobID); err != nil {
		return err
	}
	m.logf("job %s cancelled", jobID)
	return nil
}

func (m *Manager) handleExtractionTask(ctx context.Context, task *asynq.Task) error {
	return m.runTask(ctx, task, func(ctx context.Context, jobID string, raw json.RawMessage, report ProgressFunc) (*RunResult, error) {
		var payload ExtractionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode extraction payload: %w", err)
		}
		return m.runner.RunExtraction(ctx, jobID, &payload, report)
	})
}

func (m *Manager) handleContradictionTask(ctx context.Context, task *asynq.Task) error {
	return m.runTask(ctx, task, func(ctx context.Context, jobID string, raw json.RawMessage, report ProgressFunc) (*RunResult, error) {
		var payload ContradictionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode contradiction payload: %w", err)
		}
		return m.runner.RunContradictionCheck(ctx, jobID, &payload, report)
	})
}

// runTask はジョブ実行の共通枠です。ジョブ単体の失敗はレコードに記録して
// nil を返し、ワーカーループ自体は決して止めません。
func (m *Manager) runTask(ctx context.Context, task *asynq.Task, run func(context.Context, string, json.RawMessage, ProgressFunc) (*RunResult, error)) error {
	var tp TaskPayload
	if err := json.Unmarshal(task.Payload(), &tp); err != nil {
		m.logf("failed to decode task payload: %v", err)
		return nil
	}
	if tp.JobID == "" {
		m.logf("task payload missing jobId")
		return nil
	}

	record, err := m.store.Get(ctx, tp.JobID)
	if err != nil {
		return err
	}
	if record == nil {
		m.logf("job %s record missing, skipping", tp.JobID)
		return nil
	}
	if record.Status != StatusPending {
		// 取り消し済み、または再配送されたタスク。
		m.logf("job %s is %s, skipping", tp.JobID, record.Status)
		return nil
	}
	if err := m.store.MarkRunning(ctx, tp.JobID); err != nil {
		m.logf("failed to mark job %s running: %v", tp.JobID, err)
		return nil
	}
	m.logf("job %s started (type=%s)", tp.JobID, record.Type)

	result, err := m.executeJob(ctx, tp.JobID, record.Payload, run)
	if err != nil {
		m.failJobWithError(ctx, tp.JobID, err)
		return nil
	}

	if err := m.store.MarkCompleted(ctx, tp.JobID, result.ResultPath, result.Meta); err != nil {
		m.logf("failed to mark job %s completed: %v", tp.JobID, err)
		return nil
	}
	m.logf("job %s completed", tp.JobID)
	return nil
}

// executeJob はランナー呼び出しを panic 回復付きで包みます。
func (m *Manager) executeJob(ctx context.Context, jobID string, raw json.RawMessage, run func(context.Context, string, json.RawMessage, ProgressFunc) (*RunResult, error)) (result *RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while running job: %v", r)
		}
	}()

	report := func(info ProgressInfo) {
		if uerr := m.store.UpdateProgress(ctx, jobID, info); uerr != nil {
			m.logf("failed to update progress job=%s: %v", jobID, uerr)
		}
	}

	result, err = run(ctx, jobID, raw, report)
	if err == nil && result == nil {
		err = errors.New("runner returned nil result")
	}
	return result, err
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) {
	info := &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
	var exErr *extract.Error
	if errors.As(err, &exErr) {
		info = &ErrorInfo{Code: exErr.Code, Message: exErr.Message}
	}
	m.logf("job %s failed: %v", jobID, err)
	if serr := m.store.MarkFailed(ctx, jobID, info); serr != nil {
		m.logf("failed to mark job %s failed: %v", jobID, serr)
	}
}

// validatePayload はジョブ種別ごとのペイロード形式を検証します。
func validatePayload(jobType Type, raw json.RawMessage) error {
	if len(raw) == 0 {
		return newError(CodeInvalidPayload, "ペイロードが指定されていません", nil)
	}
	switch jobType {
	case TypePDFProcessing, TypeLargeFileProcessing:
		var payload ExtractionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return newError(CodeInvalidPayload, "ペイロードの形式が不正です", err)
		}
		if payload.Text == "" && payload.FileID == "" {
			return newError(CodeInvalidPayload, "text または fileId のいずれかを指定してください", nil)
		}
		if payload.Text != "" && payload.FileID != "" {
			return newError(CodeInvalidPayload, "text と fileId は同時に指定できません", nil)
		}
		if payload.NumAnalyses < 0 || payload.ReqPerAnalysis < 0 {
			return newError(CodeInvalidPayload, "numAnalyses と reqPerAnalysis は0以上で指定してください", nil)
		}
	case TypeContradictionCheck:
		var payload ContradictionPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return newError(CodeInvalidPayload, "ペイロードの形式が不正です", err)
		}
		if len(payload.Requirements) < 2 {
			return newError(CodeInvalidPayload, "要求は2件以上指定してください", nil)
		}
		for _, req := range payload.Requirements {
			if req.Title == "" || req.Description == "" {
				return newError(CodeInvalidPayload, "各要求にはタイトルと説明が必要です", nil)
			}
		}
		if payload.Threshold < 0 || payload.Threshold > 1 {
			return newError(CodeInvalidPayload, "しきい値は0〜1の範囲で指定してください", nil)
		}
	}
	return nil
}

func taskTypeFor(jobType Type) string {
	if jobType == TypeContradictionCheck {
		return taskTypeContradiction
	}
	return taskTypeExtraction
}

func queueForPriority(priority Priority) string {
	switch priority {
	case PriorityHigh:
		return queueHigh
	case PriorityLow:
		return queueLow
	default:
		return queueNormal
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// asynqQueue は taskQueue の Asynq 実装です。
type asynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func (q *asynqQueue) Enqueue(ctx context.Context, taskType, queue, jobID string, payload []byte) error {
	task := asynq.NewTask(taskType, payload)
	_, err := q.client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
	)
	return err
}

func (q *asynqQueue) Delete(queue, jobID string) error {
	return q.inspector.DeleteTask(queue, jobID)
}

func (q *asynqQueue) Close() error {
	cerr := q.client.Close()
	ierr := q.inspector.Close()
	if cerr != nil {
		return cerr
	}
	return ierr
}
