package extract

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultContradictionThreshold を超えるスコアの要求ペアを矛盾候補として
// 報告します。
const DefaultContradictionThreshold = 0.8

// RequirementRef は矛盾判定の対象となる要求です。
type RequirementRef struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ContradictionInput は矛盾判定ジョブ1件分の入力です。
type ContradictionInput struct {
	Requirements []RequirementRef
	Threshold    float64
}

type pairOutcome struct {
	score  float64
	failed bool
}

// RunContradictionCheck は要求集合の全ペアをNLIサービスで突き合わせ、
// しきい値を超えたペアを結果ファイルへ書き出します。個々の判定失敗は
// スコア0として続行し、件数だけを記録します。
func (s *Service) RunContradictionCheck(ctx context.Context, jobID string, in ContradictionInput, report ProgressReporter) (*RunOutput, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.nli == nil {
		return nil, newError(CodeNLIUnavailable, "矛盾判定サービスが構成されていません", nil)
	}
	if len(in.Requirements) < 2 {
		return nil, newError(CodeInvalidInput, "要求は2件以上指定してください", nil)
	}

	threshold := in.Threshold
	if threshold <= 0 {
		threshold = s.opts.ContradictionThreshold
	}

	type pair struct{ a, b int }
	var pairs []pair
	for i := 0; i < len(in.Requirements); i++ {
		for j := i + 1; j < len(in.Requirements); j++ {
			pairs = append(pairs, pair{a: i, b: j})
		}
	}
	total := len(pairs)
	outcomes := make([]pairOutcome, total)

	reportProgress(report, Progress{
		Stage:      "nli",
		Percent:    5,
		Message:    fmt.Sprintf("%d組の要求ペアを判定しています", total),
		TotalCalls: total,
	})

	step := total / 10
	if step < 1 {
		step = 1
	}

	var mu sync.Mutex
	done := 0
	failedSoFar := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrent)
	for idx, p := range pairs {
		g.Go(func() error {
			premise := requirementText(in.Requirements[p.a])
			hypothesis := requirementText(in.Requirements[p.b])

			score, err := s.nli.ContradictionScore(gctx, premise, hypothesis)
			slot := &outcomes[idx]
			slot.score = score
			if err != nil {
				slot.failed = true
				s.logf("[job %s] nli call failed (pair=%d,%d): %v", jobID, p.a, p.b, err)
			}

			mu.Lock()
			done++
			if err != nil {
				failedSoFar++
			}
			d, f := done, failedSoFar
			mu.Unlock()

			if d%step == 0 || d == total {
				reportProgress(report, Progress{
					Stage:       "nli",
					Percent:     10 + (80*d)/total,
					Message:     fmt.Sprintf("判定済み %d/%d", d, total),
					TotalCalls:  total,
					FailedCalls: f,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failedCalls := 0
	var flagged []ContradictionPair
	for idx, p := range pairs {
		if outcomes[idx].failed {
			failedCalls++
			continue
		}
		if outcomes[idx].score > threshold {
			flagged = append(flagged, ContradictionPair{
				AIndex: p.a,
				BIndex: p.b,
				ATitle: in.Requirements[p.a].Title,
				BTitle: in.Requirements[p.b].Title,
				Score:  outcomes[idx].score,
			})
		}
	}

	body := ContradictionResult{
		JobID:        jobID,
		Threshold:    threshold,
		CheckedPairs: total,
		FailedCalls:  failedCalls,
		FlaggedCount: len(flagged),
		Pairs:        flagged,
	}

	path, err := s.writeResult(jobID, body)
	if err != nil {
		return nil, err
	}

	reportProgress(report, Progress{
		Stage:       "finalize",
		Percent:     95,
		Message:     fmt.Sprintf("%d組の矛盾候補を検出しました", len(flagged)),
		TotalCalls:  total,
		FailedCalls: failedCalls,
	})
	s.logf("[job %s] contradiction check finished: %d/%d pairs flagged (%d calls failed)",
		jobID, len(flagged), total, failedCalls)

	return &RunOutput{
		ResultPath: path,
		Summary: ContradictionSummary{
			CheckedPairs: total,
			FlaggedCount: len(flagged),
			FailedCalls:  failedCalls,
		},
	}, nil
}

// requirementText は判定に使う本文を選びます。説明が空の要求は
// タイトルで代用します。
func requirementText(r RequirementRef) string {
	if r.Description != "" {
		return r.Description
	}
	return r.Title
}
