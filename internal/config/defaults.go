package config

import (
	"time"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Default configuration values.
const (
	DefaultDialect        = "duckdb"
	DefaultCron           = "@daily"
	DefaultPhysicalSchema = "sqlmesh"
	DefaultSnapshotTTL    = "in 1 week"
	DefaultCacheDir       = ".cache"
	DefaultStatePath      = ".leapmesh/state.db"
	DefaultSchedulerURL   = "http://localhost:8080/"
	DefaultTimeout        = 30 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// defaults is the lowest configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"dialect":                             DefaultDialect,
		"cron":                                DefaultCron,
		"physical_schema":                     DefaultPhysicalSchema,
		"snapshot_ttl":                        DefaultSnapshotTTL,
		"cache.dir":                           DefaultCacheDir,
		"state.path":                          DefaultStatePath,
		"scheduler.url":                       DefaultSchedulerURL,
		"scheduler.timeout":                   DefaultTimeout.String(),
		"scheduler.backfill_concurrent_tasks": 1,
		"scheduler.ddl_concurrent_tasks":      1,
		"log.level":                           DefaultLogLevel,
		"log.format":                          DefaultLogFormat,
	}
}

// ApplyDefaults fills zero values of a config built without Load.
func ApplyDefaults(c *core.ProjectConfig) {
	if c == nil {
		return
	}
	if c.Dialect == "" {
		c.Dialect = DefaultDialect
	}
	if c.Cron == "" {
		c.Cron = DefaultCron
	}
	if c.PhysicalSchema == "" {
		c.PhysicalSchema = DefaultPhysicalSchema
	}
	if c.SnapshotTTL == "" {
		c.SnapshotTTL = DefaultSnapshotTTL
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.Scheduler.URL == "" {
		c.Scheduler.URL = DefaultSchedulerURL
	}
	if c.Scheduler.Timeout == 0 {
		c.Scheduler.Timeout = DefaultTimeout
	}
	if c.Scheduler.BackfillConcurrentTasks == 0 {
		c.Scheduler.BackfillConcurrentTasks = 1
	}
	if c.Scheduler.DDLConcurrentTasks == 0 {
		c.Scheduler.DDLConcurrentTasks = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
