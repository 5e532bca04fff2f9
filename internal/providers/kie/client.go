package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

// ErrMissingTaskID indicates a callback payload without the task identity the
// reconciler keys on.
var ErrMissingTaskID = errors.New("kie: payload missing task id")

// codeSuccess is the provider's success sentinel in responses and callbacks.
const codeSuccess = 200

// Options configures the Kie video generation client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Kie video generation API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for a generation submission.
type SubmitRequest struct {
	Prompt      string
	AspectRatio string
	Seed        int
	CallbackURL string
}

// SubmitResult is the normalized accept response.
type SubmitResult struct {
	TaskID string
	RunID  string
}

// Record is the normalized record-lookup response used by the polling path.
// An empty ResultURLs means the task is not ready yet, not an error.
type Record struct {
	ResultURLs []string
	Resolution string
	Degraded   bool
}

// Callback is the normalized webhook payload.
type Callback struct {
	TaskID     string
	Success    bool
	Message    string
	ResultURLs []string
	Resolution string
	Degraded   bool
}

type submitPayload struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	Seeds       int    `json:"seeds"`
	CallBackURL string `json:"callBackUrl,omitempty"`
}

type recordResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		SuccessFlag  int          `json:"successFlag"`
		FallbackFlag bool         `json:"fallbackFlag"`
		ErrorMessage string       `json:"errorMessage"`
		Response     responseInfo `json:"response"`
	} `json:"data"`
}

type callbackPayload struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID       string       `json:"taskId"`
		FallbackFlag bool         `json:"fallbackFlag"`
		Info         responseInfo `json:"info"`
	} `json:"data"`
}

type responseInfo struct {
	ResultURLs []string `json:"resultUrls"`
	Resolution string   `json:"resolution"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "veo3_fast"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Submit sends a generation request and extracts the provider task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	payload := submitPayload{
		Model:       c.model,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Seeds:       req.Seed,
		CallBackURL: req.CallbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kie: encode submit request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/veo/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("kie: build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kie: submit request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kie: read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kie: submit status %d: %s", resp.StatusCode, summarize(raw))
	}

	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("kie: decode submit response: %w", err)
	}
	if code, ok := numberField(envelope, "code"); ok && code != codeSuccess {
		return nil, fmt.Errorf("kie: submit rejected with code %d: %s", code, stringField(envelope, "msg"))
	}
	taskID := extractTaskID(envelope)
	if taskID == "" {
		return nil, fmt.Errorf("kie: submit response lacks a task id: %s", summarize(raw))
	}
	result := &SubmitResult{TaskID: taskID}
	if data, ok := envelope["data"].(map[string]any); ok {
		result.RunID = stringField(data, "runId")
	}
	c.logger.Info().Str("task_id", taskID).Msg("kie: submission accepted")
	return result, nil
}

// taskIDPaths is the ordered list of extraction strategies tried against a
// submit response. The provider has shipped the id under all of these names at
// one point or another, so the probing order is part of the contract.
var taskIDPaths = []func(map[string]any) string{
	func(m map[string]any) string {
		if data, ok := m["data"].(map[string]any); ok {
			return stringField(data, "taskId")
		}
		return ""
	},
	func(m map[string]any) string {
		if data, ok := m["data"].(map[string]any); ok {
			return stringField(data, "task_id")
		}
		return ""
	},
	func(m map[string]any) string { return stringField(m, "taskId") },
	func(m map[string]any) string { return stringField(m, "task_id") },
	func(m map[string]any) string {
		if data, ok := m["data"].(map[string]any); ok {
			return stringField(data, "id")
		}
		return ""
	},
}

func extractTaskID(envelope map[string]any) string {
	for _, probe := range taskIDPaths {
		if id := strings.TrimSpace(probe(envelope)); id != "" {
			return id
		}
	}
	return ""
}

// FetchRecord looks up the current state of a task. Used only by the polling
// path; the webhook path receives the same fields pushed.
func (c *Client) FetchRecord(ctx context.Context, taskID string) (*Record, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/api/v1/veo/record-info?taskId=" + url.QueryEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kie: build record request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kie: record request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("kie: read record response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kie: record status %d: %s", resp.StatusCode, summarize(raw))
	}
	var decoded recordResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("kie: decode record response: %w", err)
	}
	if decoded.Code != codeSuccess {
		return nil, fmt.Errorf("kie: record lookup code %d: %s", decoded.Code, decoded.Msg)
	}
	return &Record{
		ResultURLs: decoded.Data.Response.ResultURLs,
		Resolution: decoded.Data.Response.Resolution,
		Degraded:   decoded.Data.FallbackFlag,
	}, nil
}

// ParseCallback normalizes a webhook body. Optional fields may be absent;
// only the task id is required.
func ParseCallback(raw []byte) (*Callback, error) {
	var decoded callbackPayload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("kie: decode callback: %w", err)
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		// Tolerate older callbacks that put the id at the top level.
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err == nil {
			taskID = extractTaskID(envelope)
		}
	}
	if taskID == "" {
		return nil, ErrMissingTaskID
	}
	return &Callback{
		TaskID:     taskID,
		Success:    decoded.Code == codeSuccess,
		Message:    decoded.Msg,
		ResultURLs: decoded.Data.Info.ResultURLs,
		Resolution: decoded.Data.Info.Resolution,
		Degraded:   decoded.Data.FallbackFlag,
	}, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func numberField(m map[string]any, key string) (int, bool) {
	if v, ok := m[key].(float64); ok {
		return int(v), true
	}
	return 0, false
}

func summarize(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max]
	}
	return s
}
