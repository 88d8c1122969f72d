package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"gopkg.in/yaml.v3"
)

// externalModelYAML is one entry of an external models manifest:
//
//	- name: raw.events
//	  columns:
//	    event_id: INT
//	    ds: DATE
type externalModelYAML struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Owner       string      `yaml:"owner"`
	Dialect     string      `yaml:"dialect"`
	Columns     columnsYAML `yaml:"columns"`
}

// externalManifests returns external_models.yaml and external_models/*.yaml
// that exist under root.
func externalManifests(root string) ([]string, error) {
	var paths []string
	if info, err := os.Stat(filepath.Join(root, ExternalModelsFile)); err == nil && !info.IsDir() {
		paths = append(paths, filepath.Join(root, ExternalModelsFile))
	}
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(root, ExternalModelsDir, pattern))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		paths = append(paths, matches...)
	}
	return paths, nil
}

// loadExternalModels adds the models declared in the scope's manifests.
// A missing manifest is not an error.
func (l *Loader) loadExternalModels(env *scopeEnv, models *core.UniqueMap[*core.Model], tr *tracker) error {
	paths, err := externalManifests(env.root)
	if err != nil {
		return &core.ConfigError{Path: env.root, Message: "failed to scan external models", Err: err}
	}

	for _, path := range paths {
		tr.track(path)
		entries, err := readExternalManifest(path)
		if err != nil {
			return &core.ConfigError{Path: path, Message: "invalid external models manifest", Err: err}
		}
		for _, e := range entries {
			if e.Name == "" {
				return &core.ConfigError{Path: path, Message: "external model without a name"}
			}
			m := &core.Model{
				Name:        strings.ToLower(e.Name),
				Kind:        core.Kind{Name: core.KindExternal},
				Dialect:     firstNonEmpty(e.Dialect, env.config.Dialect),
				Cron:        env.config.Cron,
				Owner:       e.Owner,
				Description: e.Description,
				Columns:     core.Columns(e.Columns),
				SourceType:  core.SourceSQL,
				Path:        path,
			}
			if err := models.Set(m.Name, m); err != nil {
				return &core.ConfigError{Path: path, Err: err}
			}
		}
	}
	return nil
}

func readExternalManifest(path string) ([]externalModelYAML, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: manifest path is fixed by the project layout
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var entries []externalModelYAML
	if err := dec.Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	return entries, nil
}
