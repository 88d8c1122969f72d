package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leapstack-labs/leapmesh/internal/snapshot"
	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ignoreDerived skips model fields that are rebuilt on load and never sent.
var ignoreDerived = cmpopts.IgnoreFields(core.Model{}, "Path", "References", "RenderedQuery", "OptimizedQuery", "Resolved")

func testSnapshot() *core.Snapshot {
	m := &core.Model{
		Name:          "test_model",
		Kind:          core.Kind{Name: core.KindIncrementalByTimeRange, TimeColumn: &core.TimeColumn{Column: "ds"}},
		Cron:          "@daily",
		StorageFormat: "parquet",
		PartitionedBy: []string{"a"},
		Query:         "SELECT a, ds FROM tbl",
		Expressions:   []string{"@DEF(key, 'value')"},
		SourceType:    core.SourceSQL,
		References:    []string{"tbl"},
	}
	s := snapshot.FromModel(m, snapshot.Options{
		PhysicalSchema: "physical_schema",
		TTL:            "in 1 week",
		Now:            time.UnixMilli(1665014400000),
	})
	snapshot.NewVersion(nil, s, nil)
	return s
}

func testEnvironment(s *core.Snapshot, previous *string) *core.Environment {
	return &core.Environment{
		Name:           "test_env",
		Snapshots:      []core.TableInfo{s.TableInfo()},
		StartAt:        "2022-01-01",
		EndAt:          "2022-01-01",
		PlanID:         "test_plan_id",
		PreviousPlanID: previous,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, err)
	return c
}

// variable answers a variable lookup the way the scheduler does: the value
// is a JSON document inside a string.
func variable(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(VariableResponse{Value: string(data)})
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)

	c, err = NewClient("https://airflow.example.com/root", WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "https://airflow.example.com/root/", c.BaseURL())
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)

	_, err = NewClient("localhost:8080")
	assert.Error(t, err)
}

func TestClient_ApplyPlan(t *testing.T) {
	s := testSnapshot()
	fingerprint := map[string]any{
		"data_hash":     s.Fingerprint.DataHash,
		"metadata_hash": s.Fingerprint.MetadataHash,
		"parent_hash":   s.Fingerprint.ParentHash,
	}

	var gotURL, gotMethod, gotContentType string
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		_, _ = w.Write([]byte(`{"request_id": "test_request_id"}`))
	})

	previous := "previous_plan_id"
	err := c.ApplyPlan(context.Background(), []*core.Snapshot{s}, testEnvironment(s, &previous), "test_request_id",
		Timestamp(time.Date(2022, 8, 16, 2, 40, 19, 0, time.UTC)))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/sqlmesh/api/v1/plans", gotURL)
	assert.Equal(t, "application/json", gotContentType)

	want := map[string]any{
		"new_snapshots": []any{
			map[string]any{
				"created_ts":        float64(1665014400000),
				"ttl":               "in 1 week",
				"fingerprint":       fingerprint,
				"indirect_versions": map[string]any{},
				"intervals":         []any{},
				"dev_intervals":     []any{},
				"model": map[string]any{
					"audits":      []any{},
					"cron":        "@daily",
					"dialect":     "",
					"expressions": []any{"@DEF(key, 'value')"},
					"pre":         []any{},
					"post":        []any{},
					"kind": map[string]any{
						"name":        "incremental_by_time_range",
						"time_column": map[string]any{"column": "ds"},
					},
					"name":           "test_model",
					"partitioned_by": []any{"a"},
					"query":          "SELECT a, ds FROM tbl",
					"storage_format": "parquet",
					"source_type":    "sql",
				},
				"audits":            []any{},
				"name":              "test_model",
				"parents":           []any{},
				"previous_versions": []any{},
				"physical_schema":   "physical_schema",
				"updated_ts":        float64(1665014400000),
				"version":           s.Version,
			},
		},
		"environment": map[string]any{
			"name": "test_env",
			"snapshots": []any{
				map[string]any{
					"fingerprint":       fingerprint,
					"name":              "test_model",
					"physical_schema":   "physical_schema",
					"previous_versions": []any{},
					"version":           s.Version,
					"parents":           []any{},
					"is_materialized":   true,
					"is_embedded_kind":  false,
				},
			},
			"start_at":         "2022-01-01",
			"end_at":           "2022-01-01",
			"plan_id":          "test_plan_id",
			"previous_plan_id": "previous_plan_id",
		},
		"no_gaps":                   false,
		"skip_backfill":             false,
		"notification_targets":      []any{},
		"request_id":                "test_request_id",
		"restatements":              []any{},
		"backfill_concurrent_tasks": float64(1),
		"ddl_concurrent_tasks":      float64(1),
		"users":                     []any{},
		"is_dev":                    false,
	}
	if diff := cmp.Diff(want, gotBody); diff != "" {
		t.Errorf("plan body mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_ApplyPlan_Options(t *testing.T) {
	var got core.Plan
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	s := testSnapshot()
	err := c.ApplyPlan(context.Background(), nil, testEnvironment(s, nil), "r1",
		Concurrency(4, 0),
		NoGaps(true),
		SkipBackfill(true),
		Restatements("test_model"),
		NotificationTargets(core.NotificationTarget{Type: "console"}),
		Users(core.User{Username: "jen"}),
		IsDev(true))
	require.NoError(t, err)

	assert.Equal(t, 4, got.BackfillConcurrentTasks)
	assert.Equal(t, 1, got.DDLConcurrentTasks)
	assert.True(t, got.NoGaps)
	assert.True(t, got.SkipBackfill)
	assert.True(t, got.IsDev)
	assert.Equal(t, []string{"test_model"}, got.Restatements)
	assert.Equal(t, []core.NotificationTarget{{Type: "console"}}, got.NotificationTargets)
	assert.Equal(t, []core.User{{Username: "jen"}}, got.Users)
	assert.Empty(t, got.NewSnapshots)
	assert.Equal(t, "r1", got.RequestID)
}

func TestClient_GetEnvironment(t *testing.T) {
	s := testSnapshot()
	env := testEnvironment(s, nil)

	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		variable(t, w, env)
	})

	got, err := c.GetEnvironment(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/variables/sqlmesh__environment__dev", gotPath)
	if diff := cmp.Diff(env, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("environment mismatch (-want +got):\n%s", diff)
	}
}

func TestClient_GetSnapshot(t *testing.T) {
	s := testSnapshot()

	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		variable(t, w, s)
	})

	got, err := c.GetSnapshot(context.Background(), s.Name, s.Identifier())
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/variables/sqlmesh__snapshot_payload__test_model__"+s.Identifier(), gotPath)
	if diff := cmp.Diff(s, got, cmpopts.EquateEmpty(), ignoreDerived); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, s.Identifier(), got.Identifier())
}

func TestClient_GetSnapshotIDs(t *testing.T) {
	var gotURL string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_ = json.NewEncoder(w).Encode(VariablesResponse{Variables: []Variable{
			{Key: "sqlmesh__snapshot_payload__test_name_2__test_identifier_2"},
			{Key: "sqlmesh__environment__prod"},
			{Key: "sqlmesh__snapshot_payload__test_name__test_identifier"},
			{Key: "sqlmesh__snapshot_version_index__test_name__v1"},
			{Key: "sqlmesh__snapshot_payload__sushi.orders__abc"},
		}})
	})

	ids, err := c.GetSnapshotIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/variables?limit=10000000", gotURL)
	assert.ElementsMatch(t, []core.SnapshotID{
		{Name: "test_name", Identifier: "test_identifier"},
		{Name: "test_name_2", Identifier: "test_identifier_2"},
		{Name: "sushi.orders", Identifier: "abc"},
	}, ids)
}

func TestClient_GetSnapshotIdentifiersForVersion(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		variable(t, w, []string{"test_identifier_1", "test_identifier_2"})
	})

	got, err := c.GetSnapshotIdentifiersForVersion(context.Background(), "test_name", "test_version")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/variables/sqlmesh__snapshot_version_index__test_name__test_version", gotPath)
	assert.Equal(t, []string{"test_identifier_1", "test_identifier_2"}, got)
}

func TestClient_GetDagRunState(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"state": "FAILED"}`))
	})

	state, err := c.GetDagRunState(context.Background(), "test_dag_id", "test_dag_run_id")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/dags/test_dag_id/dagRuns/test_dag_run_id", gotPath)
	assert.Equal(t, core.DagRunFailed, state)
}

func TestClient_BasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		_, _ = w.Write([]byte(`{"state": "running"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithBasicAuth("admin", "secret"))
	require.NoError(t, err)
	_, err = c.GetDagRunState(context.Background(), "d", "r")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "secret", pass)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
	}{
		{"not found", http.StatusNotFound, `{"title": "Variable not found"}`, true},
		{"server error", http.StatusInternalServerError, "boom", false},
		{"unauthorized", http.StatusUnauthorized, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.GetEnvironment(context.Background(), "prod")
			require.Error(t, err)

			var te *TransportError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, http.MethodGet, te.Method)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.body, te.Body)
			assert.True(t, strings.HasSuffix(te.URL, "/api/v1/variables/sqlmesh__environment__prod"))
			assert.Equal(t, tt.notFound, errors.Is(err, core.ErrNotFound))
		})
	}
}

func TestClient_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url)
	require.NoError(t, err)
	err = c.SubmitPlan(context.Background(), &core.Plan{RequestID: "r"})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.MethodPost, te.Method)
	assert.Zero(t, te.StatusCode)
	assert.Error(t, te.Err)
	assert.False(t, errors.Is(err, core.ErrNotFound))
}

func TestClient_InvalidVariable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": "not json"}`))
	})

	_, err := c.GetSnapshot(context.Background(), "a", "b")
	assert.ErrorContains(t, err, "failed to decode variable sqlmesh__snapshot_payload__a__b")
}

func TestParseKeys(t *testing.T) {
	tests := []struct {
		key  string
		want core.SnapshotID
		ok   bool
	}{
		{"sqlmesh__snapshot_payload__a__b", core.SnapshotID{Name: "a", Identifier: "b"}, true},
		{"sqlmesh__snapshot_payload__db.tbl__123", core.SnapshotID{Name: "db.tbl", Identifier: "123"}, true},
		{"sqlmesh__snapshot_payload__a", core.SnapshotID{}, false},
		{"sqlmesh__snapshot_payload__a__", core.SnapshotID{}, false},
		{"sqlmesh__environment__prod", core.SnapshotID{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ParseSnapshotPayloadKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	name, version, ok := ParseSnapshotVersionIndexKey(SnapshotVersionIndexKey("db.tbl", "v1"))
	assert.True(t, ok)
	assert.Equal(t, "db.tbl", name)
	assert.Equal(t, "v1", version)
	assert.Equal(t, "sqlmesh__snapshot_payload__db.tbl__x", SnapshotPayloadKey("db.tbl", "x"))
	assert.Equal(t, "sqlmesh__environment__dev", EnvironmentKey("dev"))
}
