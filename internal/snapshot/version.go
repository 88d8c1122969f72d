package snapshot

import (
	"maps"
	"slices"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Categorize classifies a direct change from previous to current. The change
// is non-breaking when the new query only adds projections and nothing else
// about the data definition changed.
func Categorize(previous, current *core.Model) core.ChangeCategory {
	if core.Hash(dataParts(previous, false)...) != core.Hash(dataParts(current, false)...) {
		return core.ChangeBreaking
	}

	prevText, curText := previous.Query, current.Query
	if previous.RenderedQuery != "" && current.RenderedQuery != "" {
		prevText, curText = previous.RenderedQuery, current.RenderedQuery
	}
	prevQ, err := canonical.Analyze(prevText)
	if err != nil {
		return core.ChangeBreaking
	}
	curQ, err := canonical.Analyze(curText)
	if err != nil {
		return core.ChangeBreaking
	}
	if canonical.Canonicalize(prevQ.Frame()) != canonical.Canonicalize(curQ.Frame()) {
		return core.ChangeBreaking
	}

	old := canonicalAll(prevQ.SelectList())
	added := canonicalAll(curQ.SelectList())
	if !isSubsequence(old, added) {
		return core.ChangeBreaking
	}
	return core.ChangeNonBreaking
}

// isSubsequence reports whether every item of sub appears in seq in order.
func isSubsequence(sub, seq []string) bool {
	i := 0
	for _, s := range seq {
		if i < len(sub) && sub[i] == s {
			i++
		}
	}
	return i == len(sub)
}

// ChangeKind says which fingerprint components differ from the previous
// snapshot.
type ChangeKind string

// Change kinds.
const (
	ChangeNew      ChangeKind = "new"
	ChangeDirect   ChangeKind = "direct"
	ChangeIndirect ChangeKind = "indirect"
	ChangeMetadata ChangeKind = "metadata"
	ChangeNone     ChangeKind = "none"
)

// ParentChange is a dependency that received a new version in the same plan.
type ParentChange struct {
	Name     string
	Category core.ChangeCategory
	Version  core.DataVersion
}

// Change is the versioning decision for one snapshot.
type Change struct {
	Kind ChangeKind
	// Category is set for direct and indirect changes
	Category core.ChangeCategory
}

// NewVersion sets the version of current, which replaces prev (nil for a
// new model), and carries over its version history. changedParents lists the
// dependencies of current that got a new version in the same plan.
func NewVersion(prev, current *core.Snapshot, changedParents []ParentChange) Change {
	if prev == nil {
		current.Version = current.Fingerprint.ToVersion()
		return Change{Kind: ChangeNew}
	}

	current.PreviousVersions = prev.AllVersions()
	current.IndirectVersions = cloneIndirect(prev.IndirectVersions)

	pf, cf := prev.Fingerprint, current.Fingerprint
	switch {
	case pf == cf:
		current.Version = prev.Version
		current.PreviousVersions = slices.Clone(prev.PreviousVersions)
		return Change{Kind: ChangeNone}

	case pf.DataHash != cf.DataHash:
		current.Version = cf.ToVersion()
		category := core.ChangeBreaking
		if prev.Model != nil && current.Model != nil {
			category = Categorize(prev.Model, current.Model)
		}
		return Change{Kind: ChangeDirect, Category: category}

	case pf.ParentHash != cf.ParentHash:
		for _, p := range changedParents {
			if p.Category == core.ChangeBreaking {
				current.Version = cf.ToVersion()
				return Change{Kind: ChangeIndirect, Category: core.ChangeBreaking}
			}
		}
		current.Version = prev.Version
		if current.IndirectVersions == nil {
			current.IndirectVersions = make(map[string][]core.DataVersion)
		}
		for _, p := range changedParents {
			current.IndirectVersions[p.Name] = append(current.IndirectVersions[p.Name], p.Version)
		}
		return Change{Kind: ChangeIndirect, Category: core.ChangeNonBreaking}

	default:
		current.Version = prev.Version
		return Change{Kind: ChangeMetadata}
	}
}

func cloneIndirect(in map[string][]core.DataVersion) map[string][]core.DataVersion {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = slices.Clone(v)
	}
	return out
}
