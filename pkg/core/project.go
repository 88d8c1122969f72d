package core

import "time"

// ProjectConfig holds project-level configuration.
type ProjectConfig struct {
	ProjectName    string                    `koanf:"project_name" json:"project_name"`
	DefaultCatalog string                    `koanf:"default_catalog" json:"default_catalog"`
	Dialect        string                    `koanf:"dialect" json:"dialect"`
	Cron           string                    `koanf:"cron" json:"cron"`
	Ignore         []string                  `koanf:"ignore" json:"ignore"`
	Variables      map[string]any            `koanf:"variables" json:"variables"`
	Gateway        string                    `koanf:"gateway" json:"gateway"`
	Gateways       map[string]*GatewayConfig `koanf:"gateways" json:"gateways"`
	PhysicalSchema string                    `koanf:"physical_schema" json:"physical_schema"`
	SnapshotTTL    string                    `koanf:"snapshot_ttl" json:"snapshot_ttl"`
	Cache          CacheConfig               `koanf:"cache" json:"cache"`
	Scheduler      SchedulerConfig           `koanf:"scheduler" json:"scheduler"`
	State          StateConfig               `koanf:"state" json:"state"`
	Log            LogConfig                 `koanf:"log" json:"-"`
}

// GatewayConfig is a named connection profile.
type GatewayConfig struct {
	DefaultCatalog string         `koanf:"default_catalog" json:"default_catalog"`
	Variables      map[string]any `koanf:"variables" json:"variables"`
}

// CacheConfig controls the definition cache.
type CacheConfig struct {
	// Dir is relative to the project root unless absolute
	Dir      string `koanf:"dir" json:"dir"`
	Disabled bool   `koanf:"disabled" json:"disabled"`
}

// SchedulerConfig holds the connection to the external scheduler.
type SchedulerConfig struct {
	URL      string        `koanf:"url" json:"url"`
	Username string        `koanf:"username" json:"-"`
	Password string        `koanf:"password" json:"-"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout"`

	BackfillConcurrentTasks int `koanf:"backfill_concurrent_tasks" json:"backfill_concurrent_tasks"`
	DDLConcurrentTasks      int `koanf:"ddl_concurrent_tasks" json:"ddl_concurrent_tasks"`
}

// StateConfig locates the local state database.
type StateConfig struct {
	Path string `koanf:"path" json:"path"`
}

// LogConfig selects the CLI log handler.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level  string `koanf:"level"`
	// Format is text or json
	Format string `koanf:"format"`
}
