package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/yourusername/reqmine/internal/auth"
	"github.com/yourusername/reqmine/internal/config"
	"github.com/yourusername/reqmine/internal/extract"
	"github.com/yourusername/reqmine/internal/ingest"
	"github.com/yourusername/reqmine/internal/jobs"
	"github.com/yourusername/reqmine/internal/llm"
	"github.com/yourusername/reqmine/internal/storage"
)

// services はハンドラーが利用するコンポーネントをまとめます。
type services struct {
	manager   *jobs.Manager
	uploads   *storage.Local
	inspector *ingest.Inspector
}

// jobAPI はジョブ系ハンドラーが依存する操作です。*jobs.Manager が
// 実装します。
type jobAPI interface {
	CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*jobs.Record, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Record, error)
	OpenResult(ctx context.Context, jobID string) (*jobs.Record, *os.File, error)
	Cancel(ctx context.Context, jobID string) error
}

// setupServices は設定から全コンポーネントを組み立てます。
func setupServices(cfg *config.Config) (*services, error) {
	logger := log.Default()

	uploads, err := storage.NewLocal(cfg.DataDir, time.Duration(cfg.UploadExpireMin)*time.Minute, logger)
	if err != nil {
		return nil, err
	}
	inspector := ingest.NewInspector(cfg.MaxPages)

	generator := llm.NewClient(llm.Config{
		BaseURL:    cfg.LLMBaseURL,
		APIKey:     cfg.LLMAPIKey,
		Model:      cfg.LLMModel,
		Timeout:    time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		MaxRetries: cfg.LLMMaxRetries,
		MaxTokens:  cfg.LLMMaxTokens,
	}, logger)

	extractorClient := ingest.NewExtractorClient(cfg.ExtractorBaseURL, time.Duration(cfg.ExtractorTimeoutSeconds)*time.Second)

	// NLIエンドポイントは任意。未設定なら矛盾判定ジョブだけが使えません。
	var nli extract.NLIScorer
	if cfg.NLIBaseURL != "" {
		nli = llm.NewNLIClient(cfg.NLIBaseURL, time.Duration(cfg.NLITimeoutSeconds)*time.Second)
	}

	pacer := rate.NewLimiter(rate.Every(time.Duration(cfg.PacingIntervalMs)*time.Millisecond), 1)

	svc, err := extract.NewService(
		generator,
		&fileExtractor{uploads: uploads, client: extractorClient},
		nli,
		pacer,
		extract.Options{
			DataDir:                cfg.DataDir,
			TitleThreshold:         cfg.TitleSimThreshold,
			DescThreshold:          cfg.DescSimThreshold,
			NumAnalyses:            cfg.DefaultNumAnalyses,
			ReqPerAnalysis:         cfg.DefaultReqPerAnalysis,
			MaxConcurrent:          cfg.MaxConcurrentCalls,
			ContradictionThreshold: cfg.ContradictionThreshold,
			ResultTTL:              time.Duration(cfg.JobExpireMinutes) * time.Minute,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	redisClient := redis.NewClient(opt)
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)

	manager, err := jobs.NewManager(cfg, &pipelineRunner{svc: svc}, store, logger)
	if err != nil {
		return nil, err
	}

	return &services{manager: manager, uploads: uploads, inspector: inspector}, nil
}

// pipelineRunner は jobs.Runner を extract.Service へ橋渡しします。
type pipelineRunner struct {
	svc *extract.Service
}

func (r *pipelineRunner) RunExtraction(ctx context.Context, jobID string, payload *jobs.ExtractionPayload, report jobs.ProgressFunc) (*jobs.RunResult, error) {
	out, err := r.svc.RunExtraction(ctx, jobID, extract.ExtractionInput{
		Text:           payload.Text,
		FileID:         payload.FileID,
		FileName:       payload.FileName,
		ProjectName:    payload.ProjectName,
		NumAnalyses:    payload.NumAnalyses,
		ReqPerAnalysis: payload.ReqPerAnalysis,
	}, progressBridge(report))
	if err != nil {
		return nil, err
	}
	return &jobs.RunResult{ResultPath: out.ResultPath, Meta: out.Summary}, nil
}

func (r *pipelineRunner) RunContradictionCheck(ctx context.Context, jobID string, payload *jobs.ContradictionPayload, report jobs.ProgressFunc) (*jobs.RunResult, error) {
	reqs := make([]extract.RequirementRef, len(payload.Requirements))
	for i, req := range payload.Requirements {
		reqs[i] = extract.RequirementRef{Title: req.Title, Description: req.Description}
	}
	out, err := r.svc.RunContradictionCheck(ctx, jobID, extract.ContradictionInput{
		Requirements: reqs,
		Threshold:    payload.Threshold,
	}, progressBridge(report))
	if err != nil {
		return nil, err
	}
	return &jobs.RunResult{ResultPath: out.ResultPath, Meta: out.Summary}, nil
}

func progressBridge(report jobs.ProgressFunc) extract.ProgressReporter {
	if report == nil {
		return nil
	}
	return func(p extract.Progress) {
		report(jobs.ProgressInfo{
			Percent:     p.Percent,
			Stage:       p.Stage,
			Message:     p.Message,
			TotalCalls:  p.TotalCalls,
			FailedCalls: p.FailedCalls,
		})
	}
}

// fileExtractor はファイルIDを保存先パスへ解決してから外部抽出サービスを
// 呼び出します。
type fileExtractor struct {
	uploads *storage.Local
	client  *ingest.ExtractorClient
}

func (f *fileExtractor) ExtractText(ctx context.Context, fileID string) (string, error) {
	path, err := f.uploads.Path(fileID)
	if err != nil {
		return "", err
	}
	return f.client.ExtractFile(ctx, path)
}

type createJobRequest struct {
	Type      string          `json:"type" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
	Priority  string          `json:"priority"`
	ProjectID string          `json:"projectId"`
}

// jobCreateHandler は POST /api/jobs のハンドラーです。受理したジョブは
// PENDING で返り、進捗は statusEndpoint をポーリングして追います。
func jobCreateHandler(api jobAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "type と payload を JSON で送ってください",
			})
			return
		}

		record, err := api.CreateJob(c.Request.Context(), jobs.CreateJobRequest{
			Type:      req.Type,
			Payload:   req.Payload,
			Priority:  req.Priority,
			UserID:    c.GetString(auth.ContextUserKey),
			ProjectID: req.ProjectID,
		})
		if err != nil {
			respondJobError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"jobId":          record.JobID,
			"type":           record.Type,
			"status":         record.Status,
			"priority":       record.Priority,
			"createdAt":      record.CreatedAt,
			"statusEndpoint": "/api/jobs/" + record.JobID,
		})
	}
}

// jobStatusHandler は GET /api/jobs/:id のハンドラーです。
func jobStatusHandler(api jobAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください",
			})
			return
		}

		record, err := api.GetJob(c.Request.Context(), jobID)
		if err != nil {
			respondJobError(c, err)
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"type":      record.Type,
			"status":    record.Status,
			"priority":  record.Priority,
			"progress":  record.Progress,
			"createdAt": record.CreatedAt,
			"updatedAt": record.UpdatedAt,
		}
		if record.StartedAt != nil {
			payload["startedAt"] = record.StartedAt
		}
		if record.CompletedAt != nil {
			payload["completedAt"] = record.CompletedAt
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}
		if record.Status == jobs.StatusCompleted {
			payload["resultEndpoint"] = "/api/jobs/" + record.JobID + "/result"
		}

		c.JSON(http.StatusOK, payload)
	}
}

// jobResultHandler は GET /api/jobs/:id/result のハンドラーです。
// 結果JSONをそのままストリーム配信します。
func jobResultHandler(api jobAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください",
			})
			return
		}

		record, file, err := api.OpenResult(c.Request.Context(), jobID)
		if err != nil {
			respondJobError(c, err)
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "結果ファイルの読み込みに失敗しました",
			})
			return
		}

		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", record.JobID)
		c.DataFromReader(http.StatusOK, info.Size(), "application/json", file, nil)
	}
}

// jobCancelHandler は DELETE /api/jobs/:id のハンドラーです。
func jobCancelHandler(api jobAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください",
			})
			return
		}

		if err := api.Cancel(c.Request.Context(), jobID); err != nil {
			respondJobError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"jobId":  jobID,
			"status": jobs.StatusCancelled,
		})
	}
}

// respondJobError はジョブ層の型付きエラーをHTTP応答へ変換します。
func respondJobError(c *gin.Context, err error) {
	var jobErr *jobs.Error
	if errors.As(err, &jobErr) {
		status := http.StatusInternalServerError
		switch jobErr.Code {
		case jobs.CodeJobNotFound, jobs.CodeResultNotFound:
			status = http.StatusNotFound
		case jobs.CodeInvalidPayload, jobs.CodeJobNotReady, jobs.CodeJobNotCancellable:
			status = http.StatusBadRequest
		}
		payload := gin.H{"code": jobErr.Code, "message": jobErr.Message}
		if jobErr.Status != "" {
			payload["status"] = jobErr.Status
		}
		c.JSON(status, payload)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "内部エラーが発生しました",
	})
}
