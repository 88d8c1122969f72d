// Package core defines the shared language of the leapmesh system.
//
// This package contains:
//   - Domain entities (Model, Kind, Audit, Metric)
//   - Versioning entities (Fingerprint, Snapshot, Environment, Plan)
//   - Configuration types (ProjectConfig, GatewayConfig, SchedulerConfig)
//   - The error taxonomy shared by loading, schema and transport layers
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
