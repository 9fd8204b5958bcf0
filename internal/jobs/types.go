// Package jobs は非同期ジョブの投入・状態管理・実行を提供します。
// レコードはRedisに保存され、Asynqの単一ワーカーが優先度順に処理します。
package jobs

import (
	"encoding/json"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal は終端状態かどうかを返します。終端状態のジョブは二度と遷移しません。
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransition はジョブの状態遷移が許可されているかを判定します。
// 許可される遷移は PENDING→RUNNING→{COMPLETED|FAILED} と PENDING→CANCELLED のみです。
func validTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// Type はジョブ種別を表します。
type Type string

const (
	// TypePDFProcessing はアップロード文書からの要求抽出ジョブです。
	TypePDFProcessing Type = "PDF_PROCESSING"
	// TypeLargeFileProcessing は大容量文書向けの要求抽出ジョブです。
	// パイプラインは同一ですが、慣例として低優先度で投入されます。
	TypeLargeFileProcessing Type = "LARGE_FILE_PROCESSING"
	// TypeContradictionCheck は要求同士の矛盾判定ジョブです。
	TypeContradictionCheck Type = "CONTRADICTION_CHECK"
)

// ParseType はジョブ種別文字列を検証して返します。
func ParseType(raw string) (Type, bool) {
	switch Type(raw) {
	case TypePDFProcessing, TypeLargeFileProcessing, TypeContradictionCheck:
		return Type(raw), true
	}
	return "", false
}

// Priority はジョブの優先度を表します。
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
)

// ParsePriority は優先度文字列を検証して返します。空文字は NORMAL 扱いです。
func ParsePriority(raw string) (Priority, bool) {
	if raw == "" {
		return PriorityNormal, true
	}
	switch Priority(raw) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return Priority(raw), true
	}
	return "", false
}

// ProgressInfo は進捗の補足情報を表します。
// TotalCalls / FailedCalls には外部生成呼び出しの成否件数が入ります。
type ProgressInfo struct {
	Percent     int    `json:"percent"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message,omitempty"`
	TotalCalls  int    `json:"totalCalls,omitempty"`
	FailedCalls int    `json:"failedCalls,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
// レコードの更新は Store のみが行い、他のコンポーネントは読み取り専用の
// スナップショットを受け取ります。
type Record struct {
	JobID       string          `json:"jobId"`
	Type        Type            `json:"type"`
	Status      Status          `json:"status"`
	Priority    Priority        `json:"priority"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Progress    ProgressInfo    `json:"progress"`
	ResultPath  string          `json:"resultPath,omitempty"`
	Meta        any             `json:"meta,omitempty"`
	Error       *ErrorInfo      `json:"error,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	ProjectID   string          `json:"projectId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// ExtractionPayload は要求抽出ジョブの入力です。
// Text か FileID のどちらか一方のみを指定します。
type ExtractionPayload struct {
	Text           string `json:"text,omitempty"`
	FileID         string `json:"fileId,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	ProjectName    string `json:"projectName,omitempty"`
	NumAnalyses    int    `json:"numAnalyses,omitempty"`
	ReqPerAnalysis int    `json:"reqPerAnalysis,omitempty"`
}

// RequirementRef は矛盾判定の対象となる要求の参照です。
type RequirementRef struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ContradictionPayload は矛盾判定ジョブの入力です。
type ContradictionPayload struct {
	Requirements []RequirementRef `json:"requirements"`
	Threshold    float64          `json:"threshold,omitempty"`
}

// StatusSnapshot は状態ポーリング向けの読み取り専用ビューです。
type StatusSnapshot struct {
	Status   Status       `json:"status"`
	Progress ProgressInfo `json:"progress"`
	Error    *ErrorInfo   `json:"error,omitempty"`
}
