package extract

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Generator は1プロンプト分のテキスト生成を行う外部サービスです。
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TextExtractor はアップロード済みファイルから本文テキストを取り出します。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileID string) (string, error)
}

// NLIScorer は2つの文の矛盾度（0〜1）を判定します。
// 判定に失敗した場合は 0 と失敗理由を返し、呼び出し側が件数を記録します。
type NLIScorer interface {
	ContradictionScore(ctx context.Context, premise, hypothesis string) (float64, error)
}

// Pacer は観点パスの間に挟む待機を提供します。*rate.Limiter が
// そのまま実装になります。
type Pacer interface {
	Wait(ctx context.Context) error
}

// Options はパイプラインの動作パラメータです。ゼロ値のフィールドは
// NewService が既定値で埋めます。
type Options struct {
	DataDir                string
	Tiers                  []ChunkTier
	Perspectives           []Perspective
	TitleThreshold         float64
	DescThreshold          float64
	NumAnalyses            int
	ReqPerAnalysis         int
	MaxConcurrent          int
	ContradictionThreshold float64
	ResultTTL              time.Duration
}

// Service は要求抽出パイプライン本体です。分割・生成呼び出し・応答解析・
// 重複統合を1ジョブ分まとめて実行します。
type Service struct {
	generator Generator
	extractor TextExtractor
	nli       NLIScorer
	pacer     Pacer
	deduper   *Deduper
	opts      Options
	logger    *log.Logger
}

// NewService は Service を生成します。generator は必須、extractor / nli /
// pacer は利用するジョブ種別に応じて nil でも構いません。
func NewService(generator Generator, extractor TextExtractor, nli NLIScorer, pacer Pacer, opts Options, logger *log.Logger) (*Service, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if len(opts.Tiers) == 0 {
		opts.Tiers = DefaultTiers()
	}
	if len(opts.Perspectives) == 0 {
		opts.Perspectives = DefaultPerspectives()
	}
	if opts.NumAnalyses <= 0 {
		opts.NumAnalyses = 3
	}
	if opts.ReqPerAnalysis <= 0 {
		opts.ReqPerAnalysis = 5
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.ContradictionThreshold <= 0 {
		opts.ContradictionThreshold = DefaultContradictionThreshold
	}

	return &Service{
		generator: generator,
		extractor: extractor,
		nli:       nli,
		pacer:     pacer,
		deduper:   NewDeduper(opts.TitleThreshold, opts.DescThreshold),
		opts:      opts,
		logger:    logger,
	}, nil
}

// ExtractionInput は抽出ジョブ1件分の入力です。Text と FileID は
// どちらか一方を指定します。
type ExtractionInput struct {
	Text           string
	FileID         string
	FileName       string
	ProjectName    string
	NumAnalyses    int
	ReqPerAnalysis int
}

// callOutcome は観点×チャンク1呼び出し分の結果スロットです。
// インデックス順（観点が外側、チャンクが内側）に確保しておくことで、
// 並行実行でも集約順序が入力だけで決まります。
type callOutcome struct {
	drafts []RequirementDraft
	failed bool
}

// RunExtraction は抽出ジョブを最後まで実行し、結果ファイルのパスと
// 要約を返します。観点×チャンク単位の呼び出し失敗は記録して続行し、
// 本文の取得失敗と作業領域の異常だけを致命エラーとして返します。
func (s *Service) RunExtraction(ctx context.Context, jobID string, in ExtractionInput, report ProgressReporter) (*RunOutput, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	reportProgress(report, Progress{Stage: "extract", Percent: 5, Message: "入力テキストを準備しています"})

	text, err := s.resolveText(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	numAnalyses := in.NumAnalyses
	if numAnalyses <= 0 {
		numAnalyses = s.opts.NumAnalyses
	}
	reqPerAnalysis := in.ReqPerAnalysis
	if reqPerAnalysis <= 0 {
		reqPerAnalysis = s.opts.ReqPerAnalysis
	}

	domain := InferDomain(in.FileName, in.ProjectName)
	perspectives := selectPerspectives(s.opts.Perspectives, numAnalyses)

	reportProgress(report, Progress{Stage: "segment", Percent: 10, Message: "文書を分割しています"})
	seg := SegmentText(text, s.opts.Tiers)

	// 要求件数の目標は観点ごとに reqPerAnalysis 件。チャンクへ等分し、
	// 端数は切り上げます。
	perChunk := (reqPerAnalysis + len(seg.Chunks) - 1) / len(seg.Chunks)
	if perChunk < 1 {
		perChunk = 1
	}

	totalCalls := len(perspectives) * len(seg.Chunks)
	outcomes := make([]callOutcome, totalCalls)

	for pi, perspective := range perspectives {
		if pi > 0 && s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.MaxConcurrent)

		for ci, chunk := range seg.Chunks {
			g.Go(func() error {
				slot := &outcomes[pi*len(seg.Chunks)+ci]
				prompt := buildExtractionPrompt(promptInput{
					ProjectName: in.ProjectName,
					FileName:    in.FileName,
					Domain:      domain,
					Perspective: perspective,
					ChunkIndex:  ci,
					ChunkCount:  len(seg.Chunks),
					Count:       perChunk,
					Text:        chunk,
				})

				raw, err := s.generator.Complete(gctx, prompt)
				if err != nil {
					slot.failed = true
					s.logf("[job %s] generation call failed (perspective=%s chunk=%d): %v", jobID, perspective.Name, ci, err)
					return nil
				}

				parsed := ParseDraftArray(raw)
				if parsed.Status == ParseMalformed {
					slot.failed = true
					s.logf("[job %s] unparseable response (perspective=%s chunk=%d len=%d)", jobID, perspective.Name, ci, len(parsed.Raw))
					return nil
				}

				for di := range parsed.Drafts {
					draft := &parsed.Drafts[di]
					draft.Perspective = perspective.Name
					draft.ChunkIndex = ci
					if !draft.Category.Valid() {
						draft.Category = Category(perspective.Category)
					}
					if !draft.Priority.Valid() {
						draft.Priority = PriorityMedium
					}
				}
				slot.drafts = parsed.Drafts
				return nil
			})
		}
		// 各呼び出しは失敗をスロットへ記録して nil を返すため、
		// ここでの戻り値は常に nil です。
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		done := (pi + 1) * len(seg.Chunks)
		reportProgress(report, Progress{
			Stage:       "analyze",
			Percent:     20 + (60*(pi+1))/len(perspectives),
			Message:     fmt.Sprintf("観点「%s」の分析が完了しました", perspective.Name),
			TotalCalls:  totalCalls,
			FailedCalls: countFailed(outcomes[:done]),
		})
	}

	var rawDrafts []RequirementDraft
	for _, outcome := range outcomes {
		rawDrafts = append(rawDrafts, outcome.drafts...)
	}
	failedCalls := countFailed(outcomes)

	reportProgress(report, Progress{
		Stage:       "dedupe",
		Percent:     85,
		Message:     "重複する要求を統合しています",
		TotalCalls:  totalCalls,
		FailedCalls: failedCalls,
	})
	requirements := s.deduper.Dedupe(rawDrafts)

	names := make([]string, len(perspectives))
	for i, p := range perspectives {
		names[i] = p.Name
	}

	body := ExtractionResult{
		JobID:             jobID,
		FileName:          in.FileName,
		ProjectName:       in.ProjectName,
		Domain:            domain,
		Perspectives:      names,
		ChunkCount:        seg.TotalChunks,
		SampledChunkCount: len(seg.Chunks),
		TotalCalls:        totalCalls,
		FailedCalls:       failedCalls,
		RawDraftCount:     len(rawDrafts),
		Requirements:      requirements,
	}

	path, err := s.writeResult(jobID, body)
	if err != nil {
		return nil, err
	}

	reportProgress(report, Progress{
		Stage:       "finalize",
		Percent:     95,
		Message:     fmt.Sprintf("%d件の要求を抽出しました", len(requirements)),
		TotalCalls:  totalCalls,
		FailedCalls: failedCalls,
	})
	s.logf("[job %s] extraction finished: %d drafts -> %d requirements (%d/%d calls failed)",
		jobID, len(rawDrafts), len(requirements), failedCalls, totalCalls)

	return &RunOutput{
		ResultPath: path,
		Summary: ExtractionSummary{
			Domain:           domain,
			RequirementCount: len(requirements),
			RawDraftCount:    len(rawDrafts),
			ChunkCount:       seg.TotalChunks,
			TotalCalls:       totalCalls,
			FailedCalls:      failedCalls,
		},
	}, nil
}

// resolveText は入力テキストを確定します。FileID 指定時は外部の
// 抽出サービスへ委譲し、失敗は致命エラーとして返します。
func (s *Service) resolveText(ctx context.Context, in ExtractionInput) (string, error) {
	if in.FileID != "" {
		if s.extractor == nil {
			return "", newError(CodeInvalidInput, "ファイル入力はこの構成では利用できません", nil)
		}
		text, err := s.extractor.ExtractText(ctx, in.FileID)
		if err != nil {
			return "", newError(CodeTextExtraction, fmt.Sprintf("本文の抽出に失敗しました: %v", err), err)
		}
		if strings.TrimSpace(text) == "" {
			return "", newError(CodeTextExtraction, "文書から本文を取得できませんでした", nil)
		}
		return text, nil
	}

	if strings.TrimSpace(in.Text) == "" {
		return "", newError(CodeInvalidInput, "text または fileId のいずれかを指定してください", nil)
	}
	return in.Text, nil
}

func countFailed(outcomes []callOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.failed {
			n++
		}
	}
	return n
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
