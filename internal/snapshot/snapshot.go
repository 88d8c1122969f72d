package snapshot

import (
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Options configures a snapshot built by FromModel.
type Options struct {
	PhysicalSchema string
	TTL            string
	// Parents are the snapshots of the model's direct dependencies
	Parents []*core.Snapshot
	// Audits are the audit definitions the model attaches
	Audits []core.Audit
	Now    time.Time
}

// FromModel builds an unversioned snapshot of m. Call NewVersion to set its
// version.
func FromModel(m *core.Model, opts Options) *core.Snapshot {
	parentVersions := make(map[string]string, len(opts.Parents))
	parents := make([]core.SnapshotID, 0, len(opts.Parents))
	for _, p := range opts.Parents {
		parentVersions[p.Name] = p.Version
		parents = append(parents, p.ID())
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := now.UnixMilli()

	return &core.Snapshot{
		Name:             m.Name,
		Fingerprint:      Fingerprint(m, parentVersions),
		PhysicalSchema:   opts.PhysicalSchema,
		Model:            m,
		Parents:          parents,
		Audits:           opts.Audits,
		CreatedTS:        ts,
		UpdatedTS:        ts,
		TTL:              opts.TTL,
		IndirectVersions: map[string][]core.DataVersion{},
	}
}
