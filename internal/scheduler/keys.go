package scheduler

import (
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Variable key prefixes under which the scheduler stores state.
const (
	EnvironmentPrefix          = "sqlmesh__environment__"
	SnapshotPayloadPrefix      = "sqlmesh__snapshot_payload__"
	SnapshotVersionIndexPrefix = "sqlmesh__snapshot_version_index__"
)

// EnvironmentKey is the variable key of an environment.
func EnvironmentKey(name string) string {
	return EnvironmentPrefix + name
}

// SnapshotPayloadKey is the variable key of a snapshot.
func SnapshotPayloadKey(name, identifier string) string {
	return SnapshotPayloadPrefix + name + "__" + identifier
}

// SnapshotVersionIndexKey is the variable key listing the identifiers that
// share a version.
func SnapshotVersionIndexKey(name, version string) string {
	return SnapshotVersionIndexPrefix + name + "__" + version
}

// ParseSnapshotPayloadKey recovers the snapshot address from a payload key.
// Identifiers never contain the separator, so the name is everything before
// its last occurrence.
func ParseSnapshotPayloadKey(key string) (core.SnapshotID, bool) {
	rest, ok := strings.CutPrefix(key, SnapshotPayloadPrefix)
	if !ok {
		return core.SnapshotID{}, false
	}
	return splitNameSuffix(rest)
}

// ParseSnapshotVersionIndexKey recovers (name, version) from an index key.
func ParseSnapshotVersionIndexKey(key string) (name, version string, ok bool) {
	rest, ok := strings.CutPrefix(key, SnapshotVersionIndexPrefix)
	if !ok {
		return "", "", false
	}
	id, ok := splitNameSuffix(rest)
	return id.Name, id.Identifier, ok
}

func splitNameSuffix(s string) (core.SnapshotID, bool) {
	i := strings.LastIndex(s, "__")
	if i <= 0 || i+2 == len(s) {
		return core.SnapshotID{}, false
	}
	return core.SnapshotID{Name: s[:i], Identifier: s[i+2:]}, true
}
