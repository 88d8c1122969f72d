package scheduler

import (
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

type applySettings struct {
	backfillConcurrentTasks int
	ddlConcurrentTasks      int
	noGaps                  bool
	skipBackfill            bool
	restatements            []string
	notificationTargets     []core.NotificationTarget
	users                   []core.User
	isDev                   bool
	timestamp               time.Time
}

// ApplyOption sets a plan parameter for ApplyPlan.
type ApplyOption func(*applySettings)

// Concurrency limits the tasks the scheduler runs in parallel. Values below
// one are ignored.
func Concurrency(backfill, ddl int) ApplyOption {
	return func(s *applySettings) {
		s.backfillConcurrentTasks = max(backfill, 1)
		s.ddlConcurrentTasks = max(ddl, 1)
	}
}

// NoGaps rejects plans that would leave gaps in processed intervals.
func NoGaps(v bool) ApplyOption {
	return func(s *applySettings) { s.noGaps = v }
}

// SkipBackfill binds the environment without processing intervals.
func SkipBackfill(v bool) ApplyOption {
	return func(s *applySettings) { s.skipBackfill = v }
}

// Restatements names the models whose intervals are reprocessed.
func Restatements(names ...string) ApplyOption {
	return func(s *applySettings) { s.restatements = append(s.restatements, names...) }
}

// NotificationTargets sets where progress is reported.
func NotificationTargets(targets ...core.NotificationTarget) ApplyOption {
	return func(s *applySettings) { s.notificationTargets = append(s.notificationTargets, targets...) }
}

// Users sets the users attached to the plan.
func Users(users ...core.User) ApplyOption {
	return func(s *applySettings) { s.users = append(s.users, users...) }
}

// IsDev marks the plan as targeting a development environment.
func IsDev(v bool) ApplyOption {
	return func(s *applySettings) { s.isDev = v }
}

// Timestamp is logged with the submission. It is not sent.
func Timestamp(t time.Time) ApplyOption {
	return func(s *applySettings) { s.timestamp = t }
}
