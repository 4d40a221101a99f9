package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

const (
	// maxErrorBody bounds how much of a failed response is kept for logging.
	maxErrorBody = 4 << 10
	// maxResponseBody bounds a successful response.
	maxResponseBody = 8 << 20
)

var errEmptyResponse = errors.New("empty response")

// ClientConfig holds configuration for the HTTP client.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "http://localhost:8001",
		RequestTimeout: 60 * time.Second,
	}
}

// Client talks to the AI service over HTTP/JSON.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new AI service client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.RequestTimeout,
		http:    &http.Client{},
		logger:  logger,
	}
}

// ParseCV uploads a CV as multipart form field "file".
func (c *Client) ParseCV(ctx context.Context, filename string, file io.Reader) (*CVParseResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy cv: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var result CVParseResult
	if err := c.do(ctx, "/v1/cv/parse", writer.FormDataContentType(), &body, &result); err != nil {
		return nil, unavailable("parse cv", err)
	}
	if result.ContextToken == "" {
		return nil, unavailable("parse cv", errEmptyResponse)
	}
	return &result, nil
}

// GenerateChatTurn requests the next interviewer message.
func (c *Client) GenerateChatTurn(ctx context.Context, req ChatTurnRequest) (string, error) {
	if req.History == nil {
		req.History = []HistoryEntry{}
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/v1/chat/generate", req, &resp); err != nil {
		return "", unavailable("generate chat turn", err)
	}
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return "", unavailable("generate chat turn", errEmptyResponse)
	}
	return text, nil
}

// GenerateQuiz requests count quiz questions.
func (c *Client) GenerateQuiz(ctx context.Context, contextToken, summary string, count int) ([]domain.QuizQuestion, error) {
	req := map[string]any{
		"cv_session_id":  contextToken,
		"summary":        summary,
		"question_count": count,
	}
	var resp struct {
		Questions []domain.QuizQuestion `json:"questions"`
	}
	if err := c.postJSON(ctx, "/v1/quiz/generate", req, &resp); err != nil {
		return nil, unavailable("generate quiz", err)
	}
	if len(resp.Questions) == 0 {
		return nil, unavailable("generate quiz", errEmptyResponse)
	}
	return resp.Questions, nil
}

// GenerateCodingChallenge requests a coding exercise.
func (c *Client) GenerateCodingChallenge(ctx context.Context, contextToken, summary, language string) (*domain.CodingChallenge, error) {
	req := map[string]any{
		"cv_session_id": contextToken,
		"summary":       summary,
		"language":      language,
	}
	var resp struct {
		Challenge *domain.CodingChallenge `json:"challenge"`
	}
	if err := c.postJSON(ctx, "/v1/coding/generate", req, &resp); err != nil {
		return nil, unavailable("generate coding challenge", err)
	}
	if resp.Challenge == nil || (resp.Challenge.Title == "" && resp.Challenge.Description == "") {
		return nil, unavailable("generate coding challenge", errEmptyResponse)
	}
	if resp.Challenge.Language == "" {
		resp.Challenge.Language = language
	}
	return resp.Challenge, nil
}

// GenerateReport requests the evaluation and report for a finished session.
func (c *Client) GenerateReport(ctx context.Context, req ReportRequest) (*Report, error) {
	if req.Transcript == nil {
		req.Transcript = []HistoryEntry{}
	}
	var report Report
	if err := c.postJSON(ctx, "/v1/report/generate", req, &report); err != nil {
		return nil, unavailable("generate report", err)
	}
	if report.ReportRef == "" {
		return nil, unavailable("generate report", errEmptyResponse)
	}
	return &report, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close AI response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("AI service returned error status",
			"path", path,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(snippet)),
			"duration", time.Since(start))
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	c.logger.Debug("AI service call completed", "path", path, "duration", time.Since(start))
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrAIServiceUnavailable, err)
}

// Ensure Client implements Gateway.
var _ Gateway = (*Client)(nil)
