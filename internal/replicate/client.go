// Package replicate implements jobs.Client against a Replicate-compatible
// predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"thirdcoast.systems/allthethings/internal/jobs"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// Prediction statuses reported by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// maxPreferWait is the longest blocking wait the API honours.
const maxPreferWait = 60 * time.Second

type Options struct {
	BaseURL string
	// QueueURL, when set, receives asynchronous dispatches instead of
	// BaseURL (a relay queue in front of the provider).
	QueueURL   string
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL  string
	queueURL string
	token    string
	http     *http.Client
}

var _ jobs.Client = (*Client)(nil)

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	queueURL := strings.TrimRight(strings.TrimSpace(opts.QueueURL), "/")
	if queueURL == "" {
		queueURL = baseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-level timeout: every call carries its own deadline.
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  baseURL,
		queueURL: queueURL,
		token:    strings.TrimSpace(opts.Token),
		http:     httpClient,
	}
}

type createPredictionRequest struct {
	Version             string     `json:"version"`
	Input               jobs.Input `json:"input"`
	Webhook             string     `json:"webhook,omitempty"`
	WebhookEventsFilter []string   `json:"webhook_events_filter,omitempty"`
}

// Prediction is the provider's job document.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// DispatchAsync creates a prediction that reports completion to callbackURL.
func (c *Client) DispatchAsync(ctx context.Context, jobType jobs.JobType, input jobs.Input, callbackURL string) (jobs.Ticket, error) {
	if strings.TrimSpace(callbackURL) == "" {
		return jobs.Ticket{}, &jobs.DispatchError{Job: jobType, Detail: "missing callback url", Err: jobs.ErrRejected}
	}

	body, status, err := c.post(ctx, c.queueURL+"/predictions", createPredictionRequest{
		Version:             jobType.Version,
		Input:               input,
		Webhook:             callbackURL,
		WebhookEventsFilter: []string{"completed"},
	}, nil)
	if err != nil {
		return jobs.Ticket{}, dispatchFailure(ctx, jobType, err)
	}
	if status < 200 || status >= 300 {
		return jobs.Ticket{}, &jobs.DispatchError{Job: jobType, StatusCode: status, Detail: snippet(body), Err: jobs.ErrRejected}
	}

	var p Prediction
	if len(bytes.TrimSpace(body)) > 0 {
		// A relay queue may answer with its own acknowledgement instead of
		// the prediction; the ticket then has no ref.
		if err := json.Unmarshal(body, &p); err != nil {
			slog.Warn("provider acknowledgement is not a prediction", "job", jobType.String(), "error", err)
		}
	}

	raw := json.RawMessage(body)
	if !json.Valid(raw) {
		raw = nil
	}
	return jobs.Ticket{Ref: p.ID, Raw: raw}, nil
}

// RunSync creates a prediction and waits for its output using the API's
// blocking mode. A prediction that is still running at the deadline is a
// timeout.
func (c *Client) RunSync(ctx context.Context, jobType jobs.JobType, input jobs.Input, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = maxPreferWait
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := min(timeout, maxPreferWait)
	headers := map[string]string{
		"Prefer": "wait=" + strconv.Itoa(int(math.Max(1, wait.Seconds()))),
	}

	body, status, err := c.post(ctx, c.baseURL+"/predictions", createPredictionRequest{
		Version: jobType.Version,
		Input:   input,
	}, headers)
	if err != nil {
		return nil, dispatchFailure(ctx, jobType, err)
	}
	if status < 200 || status >= 300 {
		return nil, &jobs.DispatchError{Job: jobType, StatusCode: status, Detail: snippet(body), Err: jobs.ErrRejected}
	}

	var p Prediction
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &jobs.DispatchError{Job: jobType, StatusCode: status, Detail: "decode prediction", Err: err}
	}

	switch p.Status {
	case StatusSucceeded:
		return p.Output, nil
	case StatusFailed, StatusCanceled:
		return nil, &jobs.DispatchError{Job: jobType, StatusCode: status, Detail: jobs.ErrorMessage(p.Error, p.Status), Err: jobs.ErrRejected}
	default:
		return nil, &jobs.DispatchError{Job: jobType, StatusCode: status, Detail: "prediction " + p.ID + " still " + p.Status, Err: jobs.ErrTimeout}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, headers map[string]string) ([]byte, int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func dispatchFailure(ctx context.Context, jobType jobs.JobType, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &jobs.DispatchError{Job: jobType, Detail: err.Error(), Err: jobs.ErrTimeout}
	}
	return &jobs.DispatchError{Job: jobType, Err: err}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
