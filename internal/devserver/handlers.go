package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leapmesh/internal/scheduler"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

const defaultVariablesLimit = 100

// problem is the error body of the API.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

func (s *Server) applyPlan(w http.ResponseWriter, r *http.Request) {
	var p core.Plan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.metrics.plan("rejected")
		writeProblem(w, http.StatusBadRequest, "Invalid plan", err.Error())
		return
	}

	if err := s.store.SubmitPlan(r.Context(), &p); err != nil {
		switch {
		case errors.Is(err, state.ErrInvalidPlan):
			s.metrics.plan("rejected")
			writeProblem(w, http.StatusBadRequest, "Invalid plan", err.Error())
		case errors.Is(err, state.ErrStalePlan):
			s.metrics.plan("rejected")
			writeProblem(w, http.StatusConflict, "Stale plan", err.Error())
		default:
			s.metrics.plan("failed")
			s.logger.Error("failed to apply plan", "request_id", p.RequestID, "error", err)
			writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error())
		}
		return
	}

	s.metrics.plan("applied")
	writeJSON(w, http.StatusOK, map[string]string{"request_id": p.RequestID})
}

func (s *Server) listVariables(w http.ResponseWriter, r *http.Request) {
	limit := defaultVariablesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v)
			return
		}
		limit = n
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid offset", v)
			return
		}
		offset = n
	}

	keys, err := s.variableKeys(r)
	if err != nil {
		s.logger.Error("failed to list variables", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}

	resp := scheduler.VariablesResponse{Variables: []scheduler.Variable{}, TotalEntries: len(keys)}
	for i := offset; i < len(keys) && i < offset+limit; i++ {
		resp.Variables = append(resp.Variables, scheduler.Variable{Key: keys[i]})
	}
	writeJSON(w, http.StatusOK, resp)
}

// variableKeys lists every key the variable endpoint resolves, sorted.
func (s *Server) variableKeys(r *http.Request) ([]string, error) {
	envs, err := s.store.ListEnvironments(r.Context())
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(r.Context(), "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var keys []string
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for _, env := range envs {
		add(scheduler.EnvironmentKey(env.Name))
	}
	for _, snap := range snaps {
		add(scheduler.SnapshotPayloadKey(snap.Name, snap.Identifier()))
		add(scheduler.SnapshotVersionIndexKey(snap.Name, snap.Version))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Server) getVariable(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	ctx := r.Context()

	var value any
	var err error
	if id, ok := scheduler.ParseSnapshotPayloadKey(key); ok {
		value, err = s.store.GetSnapshot(ctx, id.Name, id.Identifier)
	} else if name, version, ok := scheduler.ParseSnapshotVersionIndexKey(key); ok {
		value, err = s.store.GetSnapshotIdentifiersForVersion(ctx, name, version)
	} else if name, ok := strings.CutPrefix(key, scheduler.EnvironmentPrefix); ok && name != "" {
		value, err = s.store.GetEnvironment(ctx, name)
	} else {
		err = core.ErrNotFound
	}

	if errors.Is(err, core.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Variable not found", "Variable with key '"+key+"' not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read variable", "key", key, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scheduler.VariableResponse{Key: key, Value: string(data)})
}

func (s *Server) getDagRun(w http.ResponseWriter, r *http.Request) {
	dagID, runID := chi.URLParam(r, "dagID"), chi.URLParam(r, "runID")

	st, err := s.store.GetDagRunState(r.Context(), dagID, runID)
	if errors.Is(err, core.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "DAGRun not found", "DAGRun with DAG ID: '"+dagID+"' and DagRun ID: '"+runID+"' not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read dag run", "dag_id", dagID, "run_id", runID, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"dag_id":     dagID,
		"dag_run_id": runID,
		"state":      st,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeJSON(w, status, problem{Title: title, Detail: detail, Status: status})
}
