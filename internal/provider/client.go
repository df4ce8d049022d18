package provider

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

	"mediagen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("provider: api key is required")

// Options configures an HTTP gateway client.
type Options struct {
	Name           string
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client talks to a vendor generation API exposing submit and status
// endpoints. Vendors that differ only in base URL and credentials share this
// implementation.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitPayload struct {
	Model       string         `json:"model"`
	MediaType   string         `json:"media_type"`
	Prompt      string         `json:"prompt"`
	InputURLs   []string       `json:"input_urls,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

type submitResponse struct {
	TaskID  string `json:"task_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type statusResponse struct {
	TaskID     string   `json:"task_id"`
	Status     string   `json:"status"`
	ResultURLs []string `json:"result_urls"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a gateway client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, errors.New("provider: name is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: base url is required", name)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
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
		name:       name,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Name returns the vendor identifier used to namespace task keys.
func (c *Client) Name() string {
	return c.name
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit sends the generation request and returns the vendor job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("provider %s: prompt is required", c.name)
	}
	payload := submitPayload{
		Model:       req.Model,
		MediaType:   string(req.MediaType),
		Prompt:      prompt,
		InputURLs:   req.InputURLs,
		Parameters:  req.Params,
		CallbackURL: req.CallbackURL,
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/tasks", payload)
	if err != nil {
		return "", err
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("provider %s: decode response: %w", c.name, err)
	}
	if decoded.Code != "" {
		return "", fmt.Errorf("provider %s: %s (%s)", c.name, decoded.Message, decoded.Code)
	}
	jobID := strings.TrimSpace(decoded.TaskID)
	if jobID == "" {
		return "", fmt.Errorf("provider %s: empty task id", c.name)
	}
	c.logger.Debug().
		Str("provider", c.name).
		Str("model", req.Model).
		Str("job_id", jobID).
		Msg("provider: job submitted")
	return jobID, nil
}

// QueryStatus fetches the vendor's current view of a job.
func (c *Client) QueryStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("provider %s: job id is required", c.name)
	}
	raw, err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	var decoded statusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("provider %s: decode response: %w", c.name, err)
	}
	if decoded.Code != "" {
		return nil, fmt.Errorf("provider %s: %s (%s)", c.name, decoded.Message, decoded.Code)
	}
	status := &JobStatus{
		State:      NormalizeState(decoded.Status),
		ResultURLs: decoded.ResultURLs,
	}
	if decoded.Error != nil {
		status.ErrorCode = decoded.Error.Code
		status.ErrorMessage = decoded.Error.Message
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("provider %s: encode request: %w", c.name, err)
		}
		body = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: build request: %w", c.name, err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: http request: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider %s: read response: %w", c.name, err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("provider %s: %s (%s)", c.name, detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("provider %s: status %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

var _ Gateway = (*Client)(nil)
