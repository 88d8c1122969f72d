// Package config loads and resolves project configuration.
// Layers are merged with koanf: defaults, the global config directory, the
// project's leapmesh.yaml, LEAPMESH_ environment variables and CLI flags.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sort"

	starctx "github.com/leapstack-labs/leapmesh/internal/starlark"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Gateway is the resolved connection profile of a scope.
type Gateway struct {
	Name   string
	Config *core.GatewayConfig
}

// ResolveGateway looks up the configured gateway. An unknown gateway logs a
// warning and resolves to nil. An empty name resolves to nil silently.
func ResolveGateway(cfg *core.ProjectConfig, name string, logger *slog.Logger) *Gateway {
	if name == "" {
		name = cfg.Gateway
	}
	if name == "" {
		return nil
	}
	gw, ok := cfg.Gateways[name]
	if !ok || gw == nil {
		if logger != nil {
			logger.Warn("gateway not found, using project defaults",
				"gateway", name,
				"available", GatewayNames(cfg))
		}
		return nil
	}
	return &Gateway{Name: name, Config: gw}
}

// GatewayNames returns the configured gateway names, sorted.
func GatewayNames(cfg *core.ProjectConfig) []string {
	names := make([]string, 0, len(cfg.Gateways))
	for name := range cfg.Gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variables merges gateway variables over project variables.
func Variables(cfg *core.ProjectConfig, gw *Gateway) map[string]any {
	vars := maps.Clone(cfg.Variables)
	if vars == nil {
		vars = make(map[string]any)
	}
	if gw != nil && gw.Config != nil {
		maps.Copy(vars, gw.Config.Variables)
	}
	return vars
}

// DefaultCatalog returns the gateway's catalog, falling back to the project's.
func DefaultCatalog(cfg *core.ProjectConfig, gw *Gateway) string {
	if gw != nil && gw.Config != nil && gw.Config.DefaultCatalog != "" {
		return gw.Config.DefaultCatalog
	}
	return cfg.DefaultCatalog
}

// TargetInfo describes the build target exposed to templates.
func TargetInfo(cfg *core.ProjectConfig, gw *Gateway) *starctx.TargetInfo {
	t := &starctx.TargetInfo{
		Dialect: cfg.Dialect,
		Catalog: DefaultCatalog(cfg, gw),
	}
	if gw != nil {
		t.Gateway = gw.Name
	}
	return t
}

// Fingerprint is the sha256 of the config's canonical JSON encoding.
// Credentials are tagged json:"-" and do not take part.
func Fingerprint(cfg *core.ProjectConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
