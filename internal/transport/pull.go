package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/laibrary/courier/internal/protocol"
)

// Default rate limit for direct submits on the pull path. Polling has its
// own fixed interval; this only protects a degraded service from submit
// bursts while still letting a short burst through untouched.
const (
	defaultSubmitRate  = 2 // requests per second
	defaultSubmitBurst = 5
)

// Pull is the best-effort request/response client. It is safe for
// concurrent use.
type Pull struct {
	baseURL       string
	httpClient    *http.Client
	submitLimiter *rate.Limiter
	logger        *slog.Logger
}

// PullOption configures the pull client.
type PullOption func(*Pull)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) PullOption {
	return func(p *Pull) {
		p.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) PullOption {
	return func(p *Pull) {
		p.httpClient.Timeout = d
	}
}

// WithSubmitLimit overrides the submit rate limit.
func WithSubmitLimit(perSecond float64, burst int) PullOption {
	return func(p *Pull) {
		p.submitLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewPull creates a pull client for the given base URL.
func NewPull(baseURL string, logger *slog.Logger, opts ...PullOption) *Pull {
	p := &Pull{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		submitLimiter: rate.NewLimiter(rate.Limit(defaultSubmitRate), defaultSubmitBurst),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll asks the service for resolutions with message_id greater than
// since. A failed poll is not fatal; the caller's next tick retries.
func (p *Pull) Poll(ctx context.Context, since int64) (*protocol.PollResponse, error) {
	u := p.baseURL + "/api/poll?since=" + strconv.FormatInt(since, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll: status %d: %s", resp.StatusCode, string(body))
	}

	var result protocol.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("poll: decode: %w", err)
	}
	return &result, nil
}

// Submit sends a message over the request path and returns the service's
// direct response event (queued, immediate, or cleared). Used when no push
// connection is open, so the user can still act mid-reconnect.
func (p *Pull) Submit(ctx context.Context, message string) (*protocol.Event, error) {
	if err := p.submitLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	body, err := json.Marshal(protocol.SubmitRequest{Message: message})
	if err != nil {
		return nil, fmt.Errorf("submit: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/message", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit: status %d: %s", resp.StatusCode, string(respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("submit: read: %w", err)
	}
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return &ev, nil
}

// Status returns the service's session and queue status.
func (p *Pull) Status(ctx context.Context) (*protocol.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status: status %d: %s", resp.StatusCode, string(body))
	}

	var result protocol.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("status: decode: %w", err)
	}
	return &result, nil
}

// Projects lists the projects available on the service.
func (p *Pull) Projects(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/projects", nil)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("projects: status %d: %s", resp.StatusCode, string(body))
	}

	var result protocol.ProjectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("projects: decode: %w", err)
	}
	return result.Projects, nil
}
