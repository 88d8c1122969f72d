// Package snapshot computes model fingerprints and versions and maintains
// the interval bookkeeping of snapshots.
//
// A fingerprint has three components. The data hash covers everything that
// changes the rows a model produces, the metadata hash covers everything
// else, and the parent hash covers the versions of its direct dependencies.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/leapstack-labs/leapmesh/pkg/sqlparse"
)

var canonical sqlparse.Analyzer = sqlparse.Default{}

// Fingerprint computes the fingerprint of m. parentVersions maps dependency
// names to their versions; dependencies without a version are left out of
// the parent hash.
func Fingerprint(m *core.Model, parentVersions map[string]string) core.Fingerprint {
	return core.Fingerprint{
		DataHash:     core.Hash(dataParts(m, true)...),
		MetadataHash: core.Hash(metadataParts(m)...),
		ParentHash:   ParentHash(m, parentVersions),
	}
}

// ParentHash hashes the sorted name:version pairs of m's direct dependencies.
func ParentHash(m *core.Model, parentVersions map[string]string) string {
	var parts []string
	for _, dep := range m.Dependencies() {
		if v, ok := parentVersions[dep]; ok {
			parts = append(parts, dep+":"+v)
		}
	}
	sort.Strings(parts)
	return core.Hash(parts...)
}

// dataParts lists the data hash inputs. The query is left out when
// withQuery is false so that other changes can be told apart.
func dataParts(m *core.Model, withQuery bool) []string {
	var parts []string
	if withQuery {
		parts = append(parts, canonical.Canonicalize(m.Query))
	}
	parts = list(parts, "expressions", canonicalAll(m.Expressions))
	parts = list(parts, "pre", canonicalAll(m.Pre))
	parts = list(parts, "post", canonicalAll(m.Post))

	names := make([]string, 0, len(m.Macros))
	for name := range m.Macros {
		names = append(names, name)
	}
	sort.Strings(names)
	macros := make([]string, len(names))
	for i, name := range names {
		macros[i] = name + "=" + canonical.Canonicalize(m.Macros[name])
	}
	parts = list(parts, "macros", macros)
	parts = append(parts, "variables", encodeVariables(m.Variables))

	parts = append(parts, m.Dialect, string(m.Kind.Name))
	if tc := m.Kind.TimeColumn; tc != nil {
		parts = append(parts, tc.Column, tc.Format)
	}
	if m.Kind.Name == core.KindSeed {
		parts = append(parts, m.Kind.Path, strconv.Itoa(m.Kind.BatchSize), m.SeedHash)
	}
	parts = list(parts, "columns", columnParts(m.Columns))
	parts = list(parts, "partitioned_by", m.PartitionedBy)
	return append(parts, m.StorageFormat)
}

func metadataParts(m *core.Model) []string {
	parts := []string{string(m.Kind.Name), m.Cron, m.Owner, m.Description, m.Start}
	parts = list(parts, "columns", columnParts(m.Columns))
	parts = list(parts, "tags", m.Tags)
	return list(parts, "audits", m.Audits)
}

// list appends a labeled, length-prefixed list so adjacent lists cannot
// run into each other.
func list(parts []string, label string, items []string) []string {
	parts = append(parts, label, strconv.Itoa(len(items)))
	return append(parts, items...)
}

func canonicalAll(stmts []string) []string {
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = canonical.Canonicalize(s)
	}
	return out
}

func columnParts(cols core.Columns) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name + " " + c.Type
	}
	return out
}

// encodeVariables uses the JSON encoding so that values hash the same
// before and after a trip through the definition cache.
func encodeVariables(vars map[string]any) string {
	if len(vars) == 0 {
		return ""
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return fmt.Sprint(vars)
	}
	return string(data)
}
