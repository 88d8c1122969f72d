package core

import "encoding/json"

// Environment is a named binding of model names to snapshot table infos.
type Environment struct {
	Name           string      `json:"name"`
	Snapshots      []TableInfo `json:"snapshots"`
	StartAt        string      `json:"start_at"`
	EndAt          string      `json:"end_at"`
	PlanID         string      `json:"plan_id"`
	PreviousPlanID *string     `json:"previous_plan_id"`
}

// MarshalJSON encodes the environment with an empty snapshot list instead of null.
func (e Environment) MarshalJSON() ([]byte, error) {
	type alias Environment
	a := alias(e)
	a.Snapshots = nonNil(a.Snapshots)
	return json.Marshal(a)
}

// Snapshot returns the table info bound to name.
func (e *Environment) Snapshot(name string) (TableInfo, bool) {
	if e == nil {
		return TableInfo{}, false
	}
	for _, s := range e.Snapshots {
		if s.Name == name {
			return s, true
		}
	}
	return TableInfo{}, false
}

// SnapshotIDs returns the addresses of every referenced snapshot.
func (e *Environment) SnapshotIDs() []SnapshotID {
	ids := make([]SnapshotID, len(e.Snapshots))
	for i, s := range e.Snapshots {
		ids[i] = s.ID()
	}
	return ids
}

// DefaultEnvironment is the production environment name.
const DefaultEnvironment = "prod"
