// Package octoprint is a thin synchronous client for the OctoPrint job API and
// the printer's webcam snapshot endpoint.
package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/HappyTetrahedron/printer-bot/internal/config"
	"github.com/HappyTetrahedron/printer-bot/internal/logging"
)

const (
	apiKeyHeader = "X-Api-Key"
	jobPath      = "/api/job"
	versionPath  = "/api/version"

	// CommandCancel cancels the active print job.
	CommandCancel = "cancel"

	maxBodyBytes = 1 << 20
)

// ErrUnreachable wraps transport failures talking to the printer host.
var ErrUnreachable = errors.New("printer unreachable")

// APIError is returned when the printer host answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("printer api returned status %d: %s", e.StatusCode, e.Body)
}

// JobStatus is the subset of GET /api/job the bot renders.
type JobStatus struct {
	State         string
	File          string
	Completion    *float64
	PrintTimeLeft *int64
}

// Printing reports whether the state label describes an active print.
func (s JobStatus) Printing() bool {
	return strings.Contains(strings.ToLower(s.State), "printing")
}

type jobResponse struct {
	State string `json:"state"`
	Job   struct {
		File struct {
			Display string `json:"display"`
			Name    string `json:"name"`
		} `json:"file"`
	} `json:"job"`
	Progress struct {
		Completion    *float64 `json:"completion"`
		PrintTimeLeft *float64 `json:"printTimeLeft"`
	} `json:"progress"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// Client talks to a single OctoPrint host.
type Client struct {
	baseURL    string
	apiKey     string
	webcamURL  string
	httpClient *http.Client
	logger     *logrus.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient builds a client from the printer and webcam settings of cfg.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.OctoPrintURL), "/")
	if baseURL == "" {
		return nil, errors.New("octoprint url is required")
	}
	if strings.TrimSpace(cfg.OctoPrintAPIKey) == "" {
		return nil, errors.New("octoprint api key is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		baseURL:    baseURL,
		apiKey:     cfg.OctoPrintAPIKey,
		webcamURL:  strings.TrimSpace(cfg.WebcamURL),
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// FetchJobStatus issues GET /api/job and parses the response.
func (c *Client) FetchJobStatus(ctx context.Context) (JobStatus, error) {
	body, err := c.do(ctx, http.MethodGet, jobPath, nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("fetch job status: %w", err)
	}

	var resp jobResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return JobStatus{}, fmt.Errorf("decode job status: %w", err)
	}

	status := JobStatus{
		State:      resp.State,
		File:       firstNonEmpty(resp.Job.File.Display, resp.Job.File.Name),
		Completion: resp.Progress.Completion,
	}
	if left := resp.Progress.PrintTimeLeft; left != nil && *left >= 0 {
		seconds := int64(*left)
		status.PrintTimeLeft = &seconds
	}

	return status, nil
}

// SendJobCommand POSTs {"command": command} to /api/job. Success is judged on
// the HTTP status alone.
func (c *Client) SendJobCommand(ctx context.Context, command string) error {
	payload, err := json.Marshal(commandRequest{Command: command})
	if err != nil {
		return fmt.Errorf("encode job command: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, jobPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send job command %q: %w: %v", command, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	c.logger.WithFields(logging.Fields{
		"event":       "printer_command",
		"command":     command,
		"status_code": resp.StatusCode,
		"body":        strings.TrimSpace(string(body)),
	}).Info("sent job command to printer")

	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("send job command %q: %w", command, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	return nil
}

// Ping checks that the printer API answers GET /api/version.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, versionPath, nil); err != nil {
		return fmt.Errorf("ping printer: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	if !isSuccess(resp.StatusCode) {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	return req, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
