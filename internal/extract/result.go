package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Category は要求の分類です。
type Category string

const (
	CategoryFunctional    Category = "functional"
	CategoryNonFunctional Category = "non-functional"
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
)

// Valid は定義済みの分類かどうかを返します。
func (c Category) Valid() bool {
	switch c {
	case CategoryFunctional, CategoryNonFunctional, CategorySecurity, CategoryPerformance:
		return true
	}
	return false
}

// Priority は要求の優先度です。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid は定義済みの優先度かどうかを返します。
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RequirementDraft は重複統合前後の要求レコードです。Perspective と
// ChunkIndex は由来の追跡用で、ジョブの実行中にだけ意味を持ちます。
type RequirementDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Priority    Priority `json:"priority"`
	Perspective string   `json:"perspective,omitempty"`
	ChunkIndex  int      `json:"chunkIndex"`
}

// ExtractionResult は抽出ジョブの結果本体です。結果エンドポイントが
// このJSONをそのまま配信します。
type ExtractionResult struct {
	JobID             string             `json:"jobId"`
	FileName          string             `json:"fileName,omitempty"`
	ProjectName       string             `json:"projectName,omitempty"`
	Domain            string             `json:"domain"`
	Perspectives      []string           `json:"perspectives"`
	ChunkCount        int                `json:"chunkCount"`
	SampledChunkCount int                `json:"sampledChunkCount"`
	TotalCalls        int                `json:"totalCalls"`
	FailedCalls       int                `json:"failedCalls"`
	RawDraftCount     int                `json:"rawDraftCount"`
	Requirements      []RequirementDraft `json:"requirements"`
}

// ExtractionSummary はジョブレコードに残す要約です。
type ExtractionSummary struct {
	Domain           string `json:"domain"`
	RequirementCount int    `json:"requirementCount"`
	RawDraftCount    int    `json:"rawDraftCount"`
	ChunkCount       int    `json:"chunkCount"`
	TotalCalls       int    `json:"totalCalls"`
	FailedCalls      int    `json:"failedCalls"`
}

// ContradictionPair は矛盾の疑いがある要求の組です。
type ContradictionPair struct {
	AIndex int     `json:"aIndex"`
	BIndex int     `json:"bIndex"`
	ATitle string  `json:"aTitle"`
	BTitle string  `json:"bTitle"`
	Score  float64 `json:"score"`
}

// ContradictionResult は矛盾判定ジョブの結果本体です。
type ContradictionResult struct {
	JobID        string              `json:"jobId"`
	Threshold    float64             `json:"threshold"`
	CheckedPairs int                 `json:"checkedPairs"`
	FailedCalls  int                 `json:"failedCalls"`
	FlaggedCount int                 `json:"flaggedCount"`
	Pairs        []ContradictionPair `json:"pairs"`
}

// ContradictionSummary はジョブレコードに残す要約です。
type ContradictionSummary struct {
	CheckedPairs int `json:"checkedPairs"`
	FlaggedCount int `json:"flaggedCount"`
	FailedCalls  int `json:"failedCalls"`
}

// RunOutput は1ジョブの成果物です。ResultPath の内容が結果エンドポイント
// から配信され、Summary はジョブレコードへ保持されます。
type RunOutput struct {
	ResultPath string
	Summary    any
}

// writeResult は結果JSONをジョブの作業ディレクトリへ書き出します。
// 保持期間経過後にディレクトリごと削除されます。
func (s *Service) writeResult(jobID string, body any) (string, error) {
	jobDir := filepath.Join(s.opts.DataDir, "jobs", jobID)
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return "", newError(CodeWorkspace, "作業ディレクトリの作成に失敗しました", err)
	}

	path := filepath.Join(jobDir, "result.json")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", newError(CodeWorkspace, "結果ファイルの作成に失敗しました", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(body); err != nil {
		return "", newError(CodeWorkspace, "結果ファイルの書き込みに失敗しました", err)
	}

	s.scheduleCleanup(jobID, jobDir)
	return path, nil
}

// scheduleCleanup は保持期間経過後に作業ディレクトリを削除します。
func (s *Service) scheduleCleanup(jobID, jobDir string) {
	if s.opts.ResultTTL <= 0 {
		return
	}
	time.AfterFunc(s.opts.ResultTTL, func() {
		if err := os.RemoveAll(jobDir); err != nil {
			s.logf("[job %s] failed to remove result dir: %v", jobID, err)
			return
		}
		s.logf("[job %s] result dir removed after ttl", jobID)
	})
}
