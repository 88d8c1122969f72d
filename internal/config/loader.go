package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/spf13/pflag"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapmesh.yaml"
	ConfigFileNameAlt = "leapmesh.yml"
)

// EnvPrefix prefixes environment overrides. A double underscore nests:
// LEAPMESH_SCHEDULER__URL sets scheduler.url.
const EnvPrefix = "LEAPMESH_"

// HomeEnv overrides the global configuration directory.
const HomeEnv = "LEAPMESH_HOME"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// Options configures Load.
type Options struct {
	// Flags are applied last; only flags marked Changed take effect
	Flags *pflag.FlagSet
	// GlobalDir overrides GlobalDir()
	GlobalDir string
}

// Load resolves the configuration of the project rooted at root.
// Precedence (highest to lowest): flags > env vars > project file > global file > defaults.
func Load(root string, opts Options) (*core.ProjectConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	globalDir := opts.GlobalDir
	if globalDir == "" {
		globalDir = GlobalDir()
	}
	files := append(ConfigFiles(globalDir), ConfigFiles(root)...)
	for _, path := range files {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, &core.ConfigError{Path: path, Message: "invalid config file", Err: err}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return flagKey(f.Name), posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg core.ProjectConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	ApplyDefaults(&cfg)
	cfg.Variables = lowerKeys(cfg.Variables)
	for _, gw := range cfg.Gateways {
		if gw != nil {
			gw.Variables = lowerKeys(gw.Variables)
		}
	}
	return &cfg, nil
}

// envKey maps LEAPMESH_SCHEDULER__URL to scheduler.url.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// flagKey maps kebab-case flag names to config keys. Flags naming a nested
// key use a dot-free prefix, e.g. --scheduler-url sets scheduler.url.
func flagKey(name string) string {
	for _, section := range []string{"scheduler", "cache", "state", "log"} {
		if rest, ok := strings.CutPrefix(name, section+"-"); ok {
			return section + "." + strings.ReplaceAll(rest, "-", "_")
		}
	}
	return strings.ReplaceAll(name, "-", "_")
}

// ConfigFiles returns the existing config files in dir.
func ConfigFiles(dir string) []string {
	if dir == "" {
		return nil
	}
	var out []string
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

// GlobalDir returns $LEAPMESH_HOME, or ~/.leapmesh.
func GlobalDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".leapmesh")
}

// FindProjectRoot walks up from startDir looking for a directory holding a
// config file. Returns "" if none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if len(ConfigFiles(dir)) > 0 {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ResolvePath resolves p against root unless it is absolute.
func ResolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func lowerKeys(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
