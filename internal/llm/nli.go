package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NLIClient はローカルのNLI判定サービスを呼び出します。応答形式は
// ラベル別スコア形式とレガシーな labels/scores 形式の両方に対応します。
type NLIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNLIClient は NLIClient を生成します。
func NewNLIClient(baseURL string, timeout time.Duration) *NLIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NLIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type nliRequest struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

// nliResponse は両形式を一度に受けます。Contradiction が nil のときだけ
// レガシー形式として labels/scores を探します。
type nliResponse struct {
	Contradiction *float64  `json:"contradiction"`
	Entailment    *float64  `json:"entailment"`
	Neutral       *float64  `json:"neutral"`
	Labels        []string  `json:"labels"`
	Scores        []float64 `json:"scores"`
}

// ContradictionScore は premise と hypothesis の矛盾度（0〜1）を返します。
// 呼び出しや解析に失敗した場合はスコア0と失敗理由を返します。呼び出し側は
// スコアをそのまま使い、エラーは件数の記録にだけ使います。
func (c *NLIClient) ContradictionScore(ctx context.Context, premise, hypothesis string) (float64, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("nli base url is not configured")
	}

	body, err := json.Marshal(nliRequest{Premise: premise, Hypothesis: hypothesis})
	if err != nil {
		return 0, fmt.Errorf("marshal nli request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/nli", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 500)}
	}

	var out nliResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode nli response: %w", err)
	}

	if out.Contradiction != nil {
		return clampScore(*out.Contradiction), nil
	}
	for i, label := range out.Labels {
		if strings.EqualFold(label, "contradiction") && i < len(out.Scores) {
			return clampScore(out.Scores[i]), nil
		}
	}
	return 0, fmt.Errorf("nli response has no contradiction score")
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
