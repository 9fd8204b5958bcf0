package main

import (
	"bytes"
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

const (
	sessionCookieName = "rm_session"
	csrfHeaderName    = "X-CSRF-Token"
)

// sessionState is persisted under ~/.reqmine/session.json after login so
// subsequent commands can reuse the authenticated session.
type sessionState struct {
	BaseURL   string `json:"baseUrl"`
	Cookie    string `json:"cookie"`
	CSRFToken string `json:"csrfToken"`
}

type apiClient struct {
	state      sessionState
	httpClient *http.Client
	statePath  string
}

func stateFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".reqmine", "session.json"), nil
}

// newClient loads the saved session. Commands other than login fail fast
// when no session exists.
func newClient() (*apiClient, error) {
	path, err := stateFilePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no active session; run 'reqctl login' first")
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var state sessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if state.BaseURL == "" || state.Cookie == "" {
		return nil, fmt.Errorf("session file is incomplete; run 'reqctl login' again")
	}
	return &apiClient{
		state:      state,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		statePath:  path,
	}, nil
}

// login authenticates against the server and persists the session cookie
// and CSRF token.
func login(server, username, password string) error {
	server = strings.TrimRight(server, "/")
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(server+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("call login endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}

	var cookieValue string
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookieValue = c.Value
		}
	}
	if cookieValue == "" {
		return fmt.Errorf("server did not return a session cookie")
	}
	token := resp.Header.Get(csrfHeaderName)
	if token == "" {
		return fmt.Errorf("server did not return a CSRF token")
	}

	path, err := stateFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	raw, err := json.MarshalIndent(sessionState{
		BaseURL:   server,
		Cookie:    cookieValue,
		CSRFToken: token,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (c *apiClient) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.state.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.state.Cookie})
	req.Header.Set(csrfHeaderName, c.state.CSRFToken)
	return req, nil
}

// doJSON sends a request and decodes the JSON response into out (skipped
// when out is nil).
func (c *apiClient) doJSON(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := c.newRequest(method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// uploadFile posts a local file to /api/files and returns the server's
// metadata response.
func (c *apiClient) uploadFile(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(http.MethodPost, "/api/files", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call upload endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// downloadResult streams a job result to w.
func (c *apiClient) downloadResult(jobID string, w io.Writer) error {
	req, err := c.newRequest(http.MethodGet, "/api/jobs/"+jobID+"/result", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call result endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// apiError turns an error response into a readable message using the
// server's {code, message} body when present.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, body.Code, body.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
