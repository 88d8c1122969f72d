package core

import "encoding/json"

// NotificationTarget names where plan progress is reported.
type NotificationTarget struct {
	// Type is one of "console", "slack_webhook", "smtp"
	Type       string   `json:"type"`
	URL        string   `json:"url,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	NotifyOn   []string `json:"notify_on,omitempty"`
}

// User is a person requesting or approving a plan.
type User struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Plan is the unit of work submitted to a scheduler. Its JSON encoding is
// the plan application request body.
type Plan struct {
	NewSnapshots            []*Snapshot          `json:"new_snapshots"`
	Environment             *Environment         `json:"environment"`
	NoGaps                  bool                 `json:"no_gaps"`
	SkipBackfill            bool                 `json:"skip_backfill"`
	NotificationTargets     []NotificationTarget `json:"notification_targets"`
	RequestID               string               `json:"request_id"`
	Restatements            []string             `json:"restatements"`
	BackfillConcurrentTasks int                  `json:"backfill_concurrent_tasks"`
	DDLConcurrentTasks      int                  `json:"ddl_concurrent_tasks"`
	Users                   []User               `json:"users"`
	IsDev                   bool                 `json:"is_dev"`
}

// MarshalJSON encodes the plan with empty lists instead of nulls.
func (p Plan) MarshalJSON() ([]byte, error) {
	type alias Plan
	a := alias(p)
	a.NewSnapshots = nonNil(a.NewSnapshots)
	a.NotificationTargets = nonNil(a.NotificationTargets)
	a.Restatements = nonNil(a.Restatements)
	a.Users = nonNil(a.Users)
	return json.Marshal(a)
}

// SnapshotsByName indexes the plan's new snapshots.
func (p *Plan) SnapshotsByName() map[string]*Snapshot {
	out := make(map[string]*Snapshot, len(p.NewSnapshots))
	for _, s := range p.NewSnapshots {
		out[s.Name] = s
	}
	return out
}

// PlanApplicationDagPrefix prefixes the run group of every plan application.
const PlanApplicationDagPrefix = "sqlmesh_plan_application__"

// DagID returns the run group under which the scheduler applies the plan.
// The run itself is identified by the environment's plan id.
func (p *Plan) DagID() string {
	return PlanApplicationDagPrefix + p.Environment.Name + "__" + p.RequestID
}

// Dag run states reported by the scheduler.
const (
	DagRunQueued  = "queued"
	DagRunRunning = "running"
	DagRunSuccess = "success"
	DagRunFailed  = "failed"
)

// DagRunFinished reports whether state is terminal.
func DagRunFinished(state string) bool {
	return state == DagRunSuccess || state == DagRunFailed
}
