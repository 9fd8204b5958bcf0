package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExtractorClient は外部の本文抽出サービスを呼び出します。PDFやテキスト
// ファイルを渡すと抽出済みの本文文字列が返ります。
type ExtractorClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewExtractorClient は ExtractorClient を生成します。
func NewExtractorClient(baseURL string, timeout time.Duration) *ExtractorClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ExtractorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// ExtractFile はファイルを抽出サービスへ送り、本文テキストを受け取ります。
// サービスが success:false を返した場合もエラーとして扱います。
func (c *ExtractorClient) ExtractFile(ctx context.Context, path string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("extractor base url is not configured")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build multipart request: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call extractor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extractor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("extractor status %d: %s", resp.StatusCode, truncateBody(raw))
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode extractor response: %w", err)
	}
	if !out.Success {
		if out.Error != "" {
			return "", fmt.Errorf("extractor reported failure: %s", out.Error)
		}
		return "", fmt.Errorf("extractor reported failure without detail")
	}
	return out.Text, nil
}

func truncateBody(raw []byte) string {
	const limit = 500
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "...(truncated)"
}
