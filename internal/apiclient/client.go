// Package apiclient talks to the schedule API on behalf of the CLI. It is the
// authoritative source behind the reconciliation cache and the mutator behind
// the grid engine.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
	apperrors "github.com/pscheid92/tablepulse/internal/platform/errors"
	"github.com/pscheid92/tablepulse/internal/platform/retry"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Type       apperrors.ErrorType
	Message    string
	Context    map[string]any
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d %s", e.StatusCode, e.Message)
}

// IsConflict reports whether the server rejected a mutation as conflicting.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type Options struct {
	BaseURL string
	// Header is sent with every request; it carries the session cookie.
	Header     http.Header
	HTTPClient *http.Client
	Retry      retry.Policy
}

type Client struct {
	base   *url.URL
	header http.Header
	http   *http.Client
	policy retry.Policy
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.Policy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, ThrottledBackoff: 5 * time.Second}
	}

	return &Client{base: base, header: opts.Header.Clone(), http: httpClient, policy: policy}, nil
}

// FetchSchedule loads tables and reservations for date. Transient failures
// are retried.
func (c *Client) FetchSchedule(ctx context.Context, date string) (*domain.Schedule, error) {
	p := c.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Schedule fetch failed, retrying", "date", date, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	query := url.Values{"date": {date}}
	return retry.Do(ctx, p, classify, func(ctx context.Context) (*domain.Schedule, error) {
		var s domain.Schedule
		if err := c.do(ctx, http.MethodGet, "/api/schedule", query, nil, &s); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// MoveReservation relocates a reservation to tableID starting at startSlot.
func (c *Client) MoveReservation(ctx context.Context, id, tableID uuid.UUID, startSlot int) (*domain.Reservation, error) {
	body := map[string]any{"tableId": tableID, "startSlot": startSlot}
	var r domain.Reservation
	if err := c.do(ctx, http.MethodPost, "/api/reservations/"+id.String()+"/move", nil, body, &r); err != nil {
		return nil, fmt.Errorf("move reservation %s: %w", id, err)
	}
	return &r, nil
}

func (c *Client) CancelReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	var r domain.Reservation
	if err := c.do(ctx, http.MethodPost, "/api/reservations/"+id.String()+"/cancel", nil, nil, &r); err != nil {
		return nil, fmt.Errorf("cancel reservation %s: %w", id, err)
	}
	return &r, nil
}

func (c *Client) UpdateTableStatus(ctx context.Context, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error) {
	body := map[string]any{"status": status}
	var t domain.Table
	if err := c.do(ctx, http.MethodPost, "/api/tables/"+tableID.String()+"/status", nil, body, &t); err != nil {
		return nil, fmt.Errorf("update table %s: %w", tableID, err)
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body apperrors.ErrorResponse
	if json.Unmarshal(data, &body) == nil {
		apiErr.Type = body.Type
		apiErr.Message = body.Error
		apiErr.Context = body.Context
	}
	if apiErr.Message == "" {
		// echo's own errors use {"message": ...}
		var echoBody struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &echoBody) == nil {
			apiErr.Message = echoBody.Message
		}
	}
	return apiErr
}

func classify(err error) retry.Action {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) {
			return retry.Stop
		}
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}
