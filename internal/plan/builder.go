// Package plan turns a loaded project into a plan: the snapshots that must
// be created and the environment that binds every model to a snapshot.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapmesh/internal/loader"
	"github.com/leapstack-labs/leapmesh/internal/snapshot"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// StateReader reads environments and snapshots. Both return an error
// matching core.ErrNotFound when nothing is stored under the key.
type StateReader interface {
	GetEnvironment(ctx context.Context, name string) (*core.Environment, error)
	GetSnapshot(ctx context.Context, name, identifier string) (*core.Snapshot, error)
}

// Applier submits a plan for execution.
type Applier interface {
	SubmitPlan(ctx context.Context, p *core.Plan) error
}

// ChangeRemoved marks a model that the target environment binds but the
// project no longer defines.
const ChangeRemoved snapshot.ChangeKind = "removed"

// ModelChange describes what the plan does to one model.
type ModelChange struct {
	Name     string              `json:"name"`
	Kind     snapshot.ChangeKind `json:"kind"`
	Category core.ChangeCategory `json:"category,omitempty"`
	Version  string              `json:"version,omitempty"`
}

// Result is a built plan and the per-model changes behind it. Changes are
// relative to the target environment, or to prod for models the target
// environment does not bind yet.
type Result struct {
	Plan    *core.Plan
	Changes []ModelChange
	// Created is set when the target environment does not exist yet
	Created bool
}

// HasChanges reports whether applying the plan would change the environment.
func (r *Result) HasChanges() bool {
	if r.Created && len(r.Plan.Environment.Snapshots) > 0 {
		return true
	}
	for _, c := range r.Changes {
		if c.Kind != snapshot.ChangeNone {
			return true
		}
	}
	return false
}

// Options configures a plan.
type Options struct {
	// Environment is the target environment (default prod)
	Environment    string
	PhysicalSchema string
	TTL            string
	// Start and End bound the plan window as YYYY-MM-DD dates
	Start string
	End   string

	NoGaps                  bool
	SkipBackfill            bool
	Restatements            []string
	BackfillConcurrentTasks int
	DDLConcurrentTasks      int
	NotificationTargets     []core.NotificationTarget
	Users                   []core.User
	// RequestID is generated when empty
	RequestID string
}

// Builder builds plans against the state held by a StateReader.
type Builder struct {
	state  StateReader
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a Builder reading from state.
func NewBuilder(state StateReader, opts ...Option) *Builder {
	b := &Builder{
		state:  state,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build computes fingerprints in dependency order, reuses snapshots the
// state already holds and versions the rest against the snapshots bound to
// the target environment.
func (b *Builder) Build(ctx context.Context, project *loader.LoadedProject, opts Options) (*Result, error) {
	if opts.Environment == "" {
		opts.Environment = core.DefaultEnvironment
	}
	if err := validateRestatements(project, opts.Restatements); err != nil {
		return nil, err
	}

	env, err := b.state.GetEnvironment(ctx, opts.Environment)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("failed to read environment %s: %w", opts.Environment, err)
	}

	// models the target environment does not bind are versioned against prod
	var base *core.Environment
	if opts.Environment != core.DefaultEnvironment {
		base, err = b.state.GetEnvironment(ctx, core.DefaultEnvironment)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("failed to read environment %s: %w", core.DefaultEnvironment, err)
		}
	}

	order, err := project.Graph.Sorted()
	if err != nil {
		return nil, err
	}

	now := b.now()
	built := make(map[string]*core.Snapshot, len(order))
	bumped := make(map[string]core.ChangeCategory)
	result := &Result{Created: env == nil}
	var infos []core.TableInfo
	var newSnapshots []*core.Snapshot

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := project.Models.Get(name)
		if !ok || m.Kind.IsExternal() {
			continue
		}

		var parents []*core.Snapshot
		var changedParents []snapshot.ParentChange
		for _, dep := range m.Dependencies() {
			p, ok := built[dep]
			if !ok {
				continue
			}
			parents = append(parents, p)
			if category, ok := bumped[dep]; ok {
				changedParents = append(changedParents, snapshot.ParentChange{Name: dep, Category: category, Version: p.DataVersion()})
			}
		}

		audits, err := modelAudits(project, m)
		if err != nil {
			return nil, err
		}
		s := snapshot.FromModel(m, snapshot.Options{
			PhysicalSchema: opts.PhysicalSchema,
			TTL:            opts.TTL,
			Parents:        parents,
			Audits:         audits,
			Now:            now,
		})

		change, stored, err := b.version(ctx, env, base, s, changedParents)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			s = stored
		} else {
			newSnapshots = append(newSnapshots, s)
		}

		switch {
		case change.Kind == snapshot.ChangeNew:
			bumped[name] = core.ChangeBreaking
		case change.Kind == snapshot.ChangeDirect:
			bumped[name] = change.Category
		case change.Kind == snapshot.ChangeIndirect && change.Category == core.ChangeBreaking:
			bumped[name] = core.ChangeBreaking
		}

		built[name] = s
		infos = append(infos, s.TableInfo())
		result.Changes = append(result.Changes, ModelChange{
			Name:     name,
			Kind:     change.Kind,
			Category: change.Category,
			Version:  s.Version,
		})
	}

	if env != nil {
		for _, info := range env.Snapshots {
			if _, ok := built[info.Name]; !ok {
				result.Changes = append(result.Changes, ModelChange{Name: info.Name, Kind: ChangeRemoved, Version: info.Version})
			}
		}
	}

	start, end := opts.Start, opts.End
	if end == "" {
		end = now.UTC().Format(time.DateOnly)
	}
	if start == "" {
		start = now.UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	}

	environment := &core.Environment{
		Name:      opts.Environment,
		Snapshots: infos,
		StartAt:   start,
		EndAt:     end,
		PlanID:    uuid.NewString(),
	}
	if env != nil {
		prev := env.PlanID
		environment.PreviousPlanID = &prev
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	result.Plan = &core.Plan{
		NewSnapshots:            newSnapshots,
		Environment:             environment,
		NoGaps:                  opts.NoGaps,
		SkipBackfill:            opts.SkipBackfill,
		NotificationTargets:     opts.NotificationTargets,
		RequestID:               requestID,
		Restatements:            opts.Restatements,
		BackfillConcurrentTasks: max(opts.BackfillConcurrentTasks, 1),
		DDLConcurrentTasks:      max(opts.DDLConcurrentTasks, 1),
		Users:                   opts.Users,
		IsDev:                   opts.Environment != core.DefaultEnvironment,
	}

	b.logger.Info("plan built",
		"environment", opts.Environment,
		"new_snapshots", len(newSnapshots),
		"models", len(infos),
		"plan_id", environment.PlanID)
	return result, nil
}

// version decides the version of s against the snapshot env binds to the
// same name, falling back to base. It returns the stored snapshot when the
// state already holds one with the same identifier.
func (b *Builder) version(ctx context.Context, env, base *core.Environment, s *core.Snapshot, changedParents []snapshot.ParentChange) (snapshot.Change, *core.Snapshot, error) {
	from := env
	info, bound := env.Snapshot(s.Name)
	if !bound {
		from = base
		info, bound = base.Snapshot(s.Name)
	}

	stored, err := b.state.GetSnapshot(ctx, s.Name, s.Identifier())
	switch {
	case err == nil:
		if !bound {
			return snapshot.Change{Kind: snapshot.ChangeNew}, stored, nil
		}
		if info.Identifier() == s.Identifier() {
			return snapshot.Change{Kind: snapshot.ChangeNone}, stored, nil
		}
		// built by a plan for another environment; classify it without
		// touching the stored version
		prev, err := b.previous(ctx, from, info)
		if err != nil {
			return snapshot.Change{}, nil, err
		}
		scratch := *stored
		return snapshot.NewVersion(prev, &scratch, changedParents), stored, nil
	case !errors.Is(err, core.ErrNotFound):
		return snapshot.Change{}, nil, fmt.Errorf("failed to read snapshot %s: %w", s.ID(), err)
	}

	if !bound {
		return snapshot.NewVersion(nil, s, changedParents), nil, nil
	}
	prev, err := b.previous(ctx, from, info)
	if err != nil {
		return snapshot.Change{}, nil, err
	}
	return snapshot.NewVersion(prev, s, changedParents), nil, nil
}

func (b *Builder) previous(ctx context.Context, env *core.Environment, info core.TableInfo) (*core.Snapshot, error) {
	prev, err := b.state.GetSnapshot(ctx, info.Name, info.Identifier())
	if err != nil {
		return nil, fmt.Errorf("environment %s references snapshot %s: %w", env.Name, info.ID(), err)
	}
	return prev, nil
}

func modelAudits(project *loader.LoadedProject, m *core.Model) ([]core.Audit, error) {
	if len(m.Audits) == 0 {
		return nil, nil
	}
	out := make([]core.Audit, 0, len(m.Audits))
	for _, name := range m.Audits {
		a, ok := project.Audits.Get(name)
		if !ok {
			return nil, &core.ConfigError{Path: m.Path, Message: fmt.Sprintf("model %s references unknown audit %q", m.Name, name)}
		}
		out = append(out, *a)
	}
	return out, nil
}

func validateRestatements(project *loader.LoadedProject, names []string) error {
	for _, name := range names {
		if !project.Models.Has(name) {
			return &core.ConfigError{Message: fmt.Sprintf("cannot restate unknown model %q", name)}
		}
	}
	return nil
}
