package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

// Hash returns a short stable digest of the given parts.
// Parts are NUL-separated so ("ab", "c") and ("a", "bc") differ.
func Hash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

// Fingerprint is the content identity of a model.
type Fingerprint struct {
	DataHash     string `json:"data_hash"`
	MetadataHash string `json:"metadata_hash"`
	ParentHash   string `json:"parent_hash"`
}

// Identifier combines every component into a single token.
func (f Fingerprint) Identifier() string {
	return Hash(f.DataHash, f.MetadataHash, f.ParentHash)
}

// ToVersion derives the default version token. Metadata does not take part,
// so metadata-only changes keep the physical table.
func (f Fingerprint) ToVersion() string {
	return Hash(f.DataHash, f.ParentHash)
}

// ChangeCategory classifies a directly modified model.
type ChangeCategory string

// Change category constants.
const (
	ChangeBreaking    ChangeCategory = "breaking"
	ChangeNonBreaking ChangeCategory = "non-breaking"
)

// SnapshotID addresses one snapshot.
type SnapshotID struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

func (id SnapshotID) String() string { return id.Name + "@" + id.Identifier }

// DataVersion is a (fingerprint, version) pair kept in version histories.
type DataVersion struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Version     string      `json:"version"`
}

// Interval is a half-open [start, end) range in epoch milliseconds.
type Interval [2]int64

// Start returns the inclusive lower bound.
func (i Interval) Start() int64 { return i[0] }

// End returns the exclusive upper bound.
func (i Interval) End() int64 { return i[1] }

// Snapshot binds a model definition to one fingerprint and version.
type Snapshot struct {
	Name             string                   `json:"name"`
	Fingerprint      Fingerprint              `json:"fingerprint"`
	PhysicalSchema   string                   `json:"physical_schema"`
	Model            *Model                   `json:"model"`
	Parents          []SnapshotID             `json:"parents"`
	Audits           []Audit                  `json:"audits"`
	Intervals        []Interval               `json:"intervals"`
	DevIntervals     []Interval               `json:"dev_intervals"`
	CreatedTS        int64                    `json:"created_ts"`
	UpdatedTS        int64                    `json:"updated_ts"`
	TTL              string                   `json:"ttl"`
	Version          string                   `json:"version"`
	PreviousVersions []DataVersion            `json:"previous_versions"`
	IndirectVersions map[string][]DataVersion `json:"indirect_versions"`
}

// MarshalJSON encodes the snapshot with empty collections instead of nulls.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	a := alias(s)
	a.Parents = nonNil(a.Parents)
	a.Audits = nonNil(a.Audits)
	a.Intervals = nonNil(a.Intervals)
	a.DevIntervals = nonNil(a.DevIntervals)
	a.PreviousVersions = nonNil(a.PreviousVersions)
	if a.IndirectVersions == nil {
		a.IndirectVersions = map[string][]DataVersion{}
	}
	return json.Marshal(a)
}

// Identifier returns the fingerprint-derived identifier.
func (s *Snapshot) Identifier() string { return s.Fingerprint.Identifier() }

// ID returns the snapshot's address.
func (s *Snapshot) ID() SnapshotID {
	return SnapshotID{Name: s.Name, Identifier: s.Identifier()}
}

// DataVersion returns the snapshot's (fingerprint, version) pair.
func (s *Snapshot) DataVersion() DataVersion {
	return DataVersion{Fingerprint: s.Fingerprint, Version: s.Version}
}

// AllVersions returns previous versions followed by this snapshot's version.
func (s *Snapshot) AllVersions() []DataVersion {
	out := make([]DataVersion, 0, len(s.PreviousVersions)+1)
	out = append(out, s.PreviousVersions...)
	return append(out, s.DataVersion())
}

// TableInfo returns the table-level view used by environments.
func (s *Snapshot) TableInfo() TableInfo {
	info := TableInfo{
		Name:             s.Name,
		Fingerprint:      s.Fingerprint,
		PhysicalSchema:   s.PhysicalSchema,
		Version:          s.Version,
		PreviousVersions: append([]DataVersion(nil), s.PreviousVersions...),
		Parents:          append([]SnapshotID(nil), s.Parents...),
		IsMaterialized:   true,
	}
	if s.Model != nil {
		info.IsMaterialized = s.Model.Kind.IsMaterialized()
		info.IsEmbeddedKind = s.Model.Kind.IsEmbedded()
	}
	return info
}

// TableInfo is the subset of a snapshot that environments reference.
type TableInfo struct {
	Fingerprint      Fingerprint   `json:"fingerprint"`
	Name             string        `json:"name"`
	PhysicalSchema   string        `json:"physical_schema"`
	PreviousVersions []DataVersion `json:"previous_versions"`
	Version          string        `json:"version"`
	Parents          []SnapshotID  `json:"parents"`
	IsMaterialized   bool          `json:"is_materialized"`
	IsEmbeddedKind   bool          `json:"is_embedded_kind"`
}

// MarshalJSON encodes the table info with empty lists instead of nulls.
func (t TableInfo) MarshalJSON() ([]byte, error) {
	type alias TableInfo
	a := alias(t)
	a.PreviousVersions = nonNil(a.PreviousVersions)
	a.Parents = nonNil(a.Parents)
	return json.Marshal(a)
}

// Identifier returns the fingerprint-derived identifier.
func (t TableInfo) Identifier() string { return t.Fingerprint.Identifier() }

// ID returns the snapshot address of the table info.
func (t TableInfo) ID() SnapshotID {
	return SnapshotID{Name: t.Name, Identifier: t.Identifier()}
}

var unsafeTableChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TableName is the physical table backing this version.
func (t TableInfo) TableName() string {
	name := unsafeTableChars.ReplaceAllString(strings.ReplaceAll(t.Name, ".", "__"), "_")
	return t.PhysicalSchema + "." + name + "__" + t.Version
}
