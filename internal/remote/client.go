// Package remote talks to the daily notes HTTP API on behalf of one signed-in user.
package remote

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

	"go.uber.org/zap"

	"github.com/Harinder441/daily-notes-ai/internal/notes"
)

// ErrRemoteUnavailable wraps every network, transport or non-success response failure.
// Callers fall back to local state and retry later.
var ErrRemoteUnavailable = errors.New("remote: unavailable")

var errMissingBaseURL = errors.New("remote: base url is required")

const defaultRequestTimeout = 15 * time.Second

// Config configures a Client. The session token scopes every call to its user.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Backoff    func() *ExponentialBackoff
}

// Client is the HTTP and websocket client for the notes API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	backoff    func() *ExponentialBackoff
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", parsed.Scheme)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}
	return &Client{
		baseURL:    parsed,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
		backoff:    backoff,
	}, nil
}

type notePayload struct {
	DayKey          string `json:"day_key"`
	Content         string `json:"content"`
	UpdatedAtMillis int64  `json:"updated_at_ms"`
	NotionSynced    bool   `json:"notion_synced"`
}

func (p notePayload) record() notes.Record {
	return notes.Record{
		DayKey:       notes.DayKey(p.DayKey),
		Content:      p.Content,
		UpdatedAt:    notes.TimeFromMillis(p.UpdatedAtMillis),
		NotionSynced: p.NotionSynced,
	}
}

type upsertRequestPayload struct {
	Content         string `json:"content"`
	UpdatedAtMillis int64  `json:"updated_at_ms"`
}

type upsertResponsePayload struct {
	Note     notePayload `json:"note"`
	Inserted bool        `json:"inserted"`
}

// Fetch returns the server record for the day. A missing record yields ok=false with a nil
// error.
func (c *Client) Fetch(ctx context.Context, day notes.DayKey) (notes.Record, bool, error) {
	var payload notePayload
	status, err := c.do(ctx, http.MethodGet, "/notes/"+day.String(), nil, &payload, http.StatusNotFound)
	if err != nil {
		return notes.Record{}, false, err
	}
	if status == http.StatusNotFound {
		return notes.Record{}, false, nil
	}
	return payload.record(), true, nil
}

// Upsert writes content for the day. The server updates the existing record or inserts one.
func (c *Client) Upsert(ctx context.Context, day notes.DayKey, content string, updatedAt time.Time) (notes.Record, error) {
	body := upsertRequestPayload{Content: content, UpdatedAtMillis: updatedAt.UnixMilli()}
	var payload upsertResponsePayload
	if _, err := c.do(ctx, http.MethodPut, "/notes/"+day.String(), body, &payload); err != nil {
		return notes.Record{}, err
	}
	return payload.Note.record(), nil
}

// PendingExport lists records not yet exported, oldest day first.
func (c *Client) PendingExport(ctx context.Context) ([]notes.Record, error) {
	var payload struct {
		Notes []notePayload `json:"notes"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/notes/export/pending", nil, &payload); err != nil {
		return nil, err
	}
	records := make([]notes.Record, 0, len(payload.Notes))
	for _, note := range payload.Notes {
		records = append(records, note.record())
	}
	return records, nil
}

// MarkExported flags the days as exported and returns how many records changed.
func (c *Client) MarkExported(ctx context.Context, days []notes.DayKey) (int64, error) {
	raw := make([]string, 0, len(days))
	for _, day := range days {
		raw = append(raw, day.String())
	}
	var payload struct {
		Marked int64 `json:"marked"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/notes/export/mark", map[string][]string{"days": raw}, &payload); err != nil {
		return 0, err
	}
	return payload.Marked, nil
}

// Ping checks the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

func (c *Client) endpoint(path string) string {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	return target.String()
}

// do performs the request and decodes a JSON body into out. Statuses listed in tolerated are
// returned without error and without decoding.
func (c *Client) do(ctx context.Context, method, path string, in, out any, tolerated ...int) (int, error) {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("remote: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if in != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer response.Body.Close()

	for _, status := range tolerated {
		if response.StatusCode == status {
			_, _ = io.Copy(io.Discard, response.Body)
			return response.StatusCode, nil
		}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return response.StatusCode, fmt.Errorf("%w: %s %s returned %d: %s",
			ErrRemoteUnavailable, method, path, response.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return response.StatusCode, nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return response.StatusCode, fmt.Errorf("%w: decode response: %v", ErrRemoteUnavailable, err)
	}
	return response.StatusCode, nil
}
