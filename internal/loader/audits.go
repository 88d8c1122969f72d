package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

var auditFields = map[string]bool{
	"name": true, "dialect": true, "blocking": true, "skip": true, "defaults": true,
}

type auditHeader struct {
	Name     string            `yaml:"name"`
	Dialect  string            `yaml:"dialect"`
	Blocking *bool             `yaml:"blocking"`
	Skip     bool              `yaml:"skip"`
	Defaults map[string]string `yaml:"defaults"`
}

// loadAudits parses audits/**/*.sql. A file holds one or more audits, each
// introduced by a frontmatter block naming it. A file without frontmatter
// is a single audit named after the file.
func (l *Loader) loadAudits(env *scopeEnv, tr *tracker) (*core.UniqueMap[*core.Audit], error) {
	audits := core.NewUniqueMap[*core.Audit]("audits")
	dir := filepath.Join(env.root, AuditsDir)
	paths, err := discover(dir, ".sql", env)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		tr.track(path)
		parsed, err := parseAuditFile(env, dir, path)
		if err != nil {
			return nil, &core.ConfigError{Path: path, Message: "failed to load audits", Err: err}
		}
		for _, a := range parsed {
			if err := audits.Set(a.Name, a); err != nil {
				return nil, &core.ConfigError{Path: path, Err: err}
			}
		}
	}
	return audits, nil
}

func parseAuditFile(env *scopeEnv, dir, path string) ([]*core.Audit, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from walking the audits directory
	if err != nil {
		return nil, err
	}
	rel := env.rel(path)

	sections := splitSections(string(content))
	var out []*core.Audit
	for _, s := range sections {
		if s.Header == "" {
			if strings.TrimSpace(s.Body) == "" {
				continue
			}
			if len(sections) > 1 {
				return nil, fmt.Errorf("line %d: text before the first audit definition", s.BodyLine)
			}
			out = append(out, &core.Audit{
				Name:     defaultName(dir, path),
				Dialect:  env.config.Dialect,
				Query:    statementBody(s.Body),
				Blocking: true,
				Path:     path,
			})
			continue
		}

		var h auditHeader
		if err := decodeStrict(rel, s.Header, s.HeaderLine, auditFields, &h); err != nil {
			return nil, err
		}
		if h.Name == "" {
			return nil, &FrontmatterParseError{File: rel, Line: s.HeaderLine, Message: "audit name is required"}
		}
		a := &core.Audit{
			Name:     strings.ToLower(h.Name),
			Dialect:  firstNonEmpty(h.Dialect, env.config.Dialect),
			Query:    statementBody(s.Body),
			Blocking: h.Blocking == nil || *h.Blocking,
			Skip:     h.Skip,
			Defaults: h.Defaults,
			Path:     path,
		}
		if a.Query == "" {
			return nil, fmt.Errorf("line %d: audit %s has no query", s.BodyLine, a.Name)
		}
		out = append(out, a)
	}
	return out, nil
}

// statementBody trims whitespace and a trailing semicolon.
func statementBody(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// defaultName derives a dotted name from the path under dir.
func defaultName(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
	return strings.ToLower(strings.ReplaceAll(rel, "/", "."))
}
