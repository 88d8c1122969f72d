// Package scheduler is the HTTP client of the external scheduler that
// applies plans. Plans are POSTed as JSON; environments, snapshots and run
// states are read back from the scheduler's variable and dag run endpoints.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Defaults used by NewClient.
const (
	DefaultBaseURL = "http://localhost:8080/"
	DefaultTimeout = 30 * time.Second
)

// Endpoint paths, relative to the base URL.
const (
	PlansPath     = "sqlmesh/api/v1/plans"
	VariablesPath = "api/v1/variables"
	DagsPath      = "api/v1/dags"
)

// variablesLimit is the page size asked for when listing variables.
const variablesLimit = 10000000

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// Variable is one entry of the variable list endpoint.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// VariableResponse is the body of a single variable lookup. Value holds a
// JSON document encoded as a string.
type VariableResponse struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// VariablesResponse is the body of the variable list endpoint.
type VariablesResponse struct {
	Variables    []Variable `json:"variables"`
	TotalEntries int        `json:"total_entries"`
}

// DagRunResponse is the body of the dag run endpoint.
type DagRunResponse struct {
	State string `json:"state"`
}

// Client talks to a scheduler over HTTP.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth authenticates every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the scheduler at baseURL. An empty baseURL
// means DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid scheduler url %q: scheme must be http or https", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the scheduler base URL, always ending in a slash.
func (c *Client) BaseURL() string { return c.baseURL }

// ApplyPlan submits newSnapshots and the environment transition as one plan
// under requestID.
func (c *Client) ApplyPlan(ctx context.Context, newSnapshots []*core.Snapshot, env *core.Environment, requestID string, opts ...ApplyOption) error {
	settings := applySettings{backfillConcurrentTasks: 1, ddlConcurrentTasks: 1}
	for _, opt := range opts {
		opt(&settings)
	}

	p := &core.Plan{
		NewSnapshots:            newSnapshots,
		Environment:             env,
		NoGaps:                  settings.noGaps,
		SkipBackfill:            settings.skipBackfill,
		NotificationTargets:     settings.notificationTargets,
		RequestID:               requestID,
		Restatements:            settings.restatements,
		BackfillConcurrentTasks: settings.backfillConcurrentTasks,
		DDLConcurrentTasks:      settings.ddlConcurrentTasks,
		Users:                   settings.users,
		IsDev:                   settings.isDev,
	}
	if !settings.timestamp.IsZero() {
		c.logger.Info("applying plan", "request_id", requestID, "timestamp", settings.timestamp.UTC().Format(time.RFC3339))
	}
	return c.SubmitPlan(ctx, p)
}

// SubmitPlan POSTs the plan.
func (c *Client) SubmitPlan(ctx context.Context, p *core.Plan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, PlansPath, body, nil); err != nil {
		return err
	}
	c.logger.Info("submitted plan", "request_id", p.RequestID, "new_snapshots", len(p.NewSnapshots))
	return nil
}

// GetEnvironment returns the environment stored under name.
func (c *Client) GetEnvironment(ctx context.Context, name string) (*core.Environment, error) {
	var env core.Environment
	if err := c.getVariable(ctx, EnvironmentKey(name), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// GetSnapshot returns the snapshot stored under (name, identifier).
func (c *Client) GetSnapshot(ctx context.Context, name, identifier string) (*core.Snapshot, error) {
	var s core.Snapshot
	if err := c.getVariable(ctx, SnapshotPayloadKey(name, identifier), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSnapshotIDs lists the address of every snapshot the scheduler holds.
func (c *Client) GetSnapshotIDs(ctx context.Context) ([]core.SnapshotID, error) {
	var resp VariablesResponse
	path := VariablesPath + "?limit=" + fmt.Sprint(variablesLimit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	var ids []core.SnapshotID
	for _, v := range resp.Variables {
		if id, ok := ParseSnapshotPayloadKey(v.Key); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetSnapshotIdentifiersForVersion returns the identifiers of the snapshots
// of name that share version.
func (c *Client) GetSnapshotIdentifiersForVersion(ctx context.Context, name, version string) ([]string, error) {
	var identifiers []string
	if err := c.getVariable(ctx, SnapshotVersionIndexKey(name, version), &identifiers); err != nil {
		return nil, err
	}
	return identifiers, nil
}

// GetDagRunState returns the lowercase state of a run.
func (c *Client) GetDagRunState(ctx context.Context, dagID, runID string) (string, error) {
	var resp DagRunResponse
	path := DagsPath + "/" + url.PathEscape(dagID) + "/dagRuns/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return strings.ToLower(resp.State), nil
}

func (c *Client) getVariable(ctx context.Context, key string, out any) error {
	var resp VariableResponse
	if err := c.do(ctx, http.MethodGet, VariablesPath+"/"+url.PathEscape(key), nil, &resp); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp.Value), out); err != nil {
		return fmt.Errorf("failed to decode variable %s: %w", key, err)
	}
	return nil
}

// do sends one request and decodes a 2xx JSON response into out when out
// is not nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	target := c.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &TransportError{Method: method, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("scheduler request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", method, target, err)
	}
	return nil
}
