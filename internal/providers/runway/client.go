// Package runway talks to a Runway-compatible generation API: task
// submission, status polling, cancellation and organization lookup.
package runway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

const (
	DefaultBaseURL    = "https://api.dev.runwayml.com/v1"
	DefaultAPIVersion = "2024-11-06"
)

// Options configures the Runway client.
type Options struct {
	APIKey         string
	Credentials    domain.CredentialSource
	BaseURL        string
	APIVersion     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation provider.
type Client struct {
	apiKey      string
	credentials domain.CredentialSource
	baseURL     string
	apiVersion  string
	httpClient  *http.Client
	logger      *infra.Logger
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	version := strings.TrimSpace(opts.APIVersion)
	if version == "" {
		version = DefaultAPIVersion
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		credentials: opts.Credentials,
		baseURL:     baseURL,
		apiVersion:  version,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Submit posts body to the endpoint and returns the remote task id.
func (c *Client) Submit(ctx context.Context, endpoint string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("runway: encode request: %w", err)
	}
	status, data, err := c.do(ctx, http.MethodPost, "/"+strings.TrimLeft(endpoint, "/"), raw)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return "", fmt.Errorf("runway: submit %s: %w: status %d", endpoint, domain.ErrAuth, status)
		}
		return "", &domain.SubmissionError{Status: status, Detail: errorDetail(data)}
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", &domain.SubmissionError{Status: status, Detail: "undecodable response: " + err.Error()}
	}
	id := TaskID(decoded)
	if id == "" {
		return "", &domain.SubmissionError{Status: status, Detail: "response carries no task id"}
	}
	c.logger.Debug().Str("endpoint", endpoint).Str("remote_id", id).Msg("runway: task submitted")
	return id, nil
}

// Status fetches the current state of a task. Throttling and server errors
// are reported as network errors so the poller retries them.
func (c *Client) Status(ctx context.Context, remoteID string) (domain.TaskStatus, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return domain.TaskStatus{}, err
	}
	if err := statusError("status", remoteID, status, data); err != nil {
		return domain.TaskStatus{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return domain.TaskStatus{}, fmt.Errorf("runway: decode task %s: %w: %w", remoteID, domain.ErrNetwork, err)
	}
	return ParseTask(decoded), nil
}

// Cancel asks the provider to cancel or delete a task.
func (c *Client) Cancel(ctx context.Context, remoteID string) error {
	status, data, err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(remoteID), nil)
	if err != nil {
		return err
	}
	return statusError("cancel", remoteID, status, data)
}

// Organization returns the raw organization document, which carries the
// credit balance.
func (c *Client) Organization(ctx context.Context) (map[string]any, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/organization", nil)
	if err != nil {
		return nil, err
	}
	if err := statusError("organization", "", status, data); err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("runway: decode organization: %w", err)
	}
	return decoded, nil
}

func (c *Client) key(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.credentials != nil {
		key, err := c.credentials.Key(ctx, domain.CredentialRunway)
		if err != nil {
			return "", fmt.Errorf("runway: resolve api key: %w", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("runway: %w: api key is not configured", domain.ErrAuth)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	key, err := c.key(ctx)
	if err != nil {
		return 0, nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("runway: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("X-Runway-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("runway: %s %s: %w: %w", method, path, domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("runway: read response: %w: %w", domain.ErrNetwork, err)
	}
	return resp.StatusCode, data, nil
}

func statusError(op, remoteID string, status int, data []byte) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("runway: %s %s: %w: status %d", op, remoteID, domain.ErrAuth, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("runway: %s %s: %w", op, remoteID, domain.ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("runway: %s %s: %w: status %d", op, remoteID, domain.ErrNetwork, status)
	default:
		return fmt.Errorf("runway: %s %s: status %d: %s", op, remoteID, status, errorDetail(data))
	}
}

func errorDetail(data []byte) string {
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err == nil {
		for _, key := range []string{"error", "message", "detail"} {
			if s, ok := decoded[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 300 {
		text = text[:300]
	}
	return text
}
