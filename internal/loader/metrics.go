package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"github.com/leapstack-labs/leapmesh/pkg/sqlparse"
)

var metricFields = map[string]bool{
	"name": true, "owner": true, "description": true, "dialect": true,
}

type metricHeader struct {
	Name        string `yaml:"name"`
	Owner       string `yaml:"owner"`
	Description string `yaml:"description"`
	Dialect     string `yaml:"dialect"`
}

// loadMetrics parses metrics/**/*.sql. Each metric is a frontmatter block
// followed by its expression:
//
//	/*---
//	name: revenue_per_order
//	---*/
//	total_revenue / order_count
func (l *Loader) loadMetrics(env *scopeEnv, tr *tracker) (*core.UniqueMap[*core.Metric], error) {
	metrics := core.NewUniqueMap[*core.Metric]("metrics")
	paths, err := discover(filepath.Join(env.root, MetricsDir), ".sql", env)
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		tr.track(path)
		parsed, err := parseMetricFile(env, path)
		if err != nil {
			return nil, &core.ConfigError{Path: path, Message: "failed to parse metric definitions", Err: err}
		}
		for _, m := range parsed {
			if err := metrics.Set(m.Name, m); err != nil {
				return nil, &core.ConfigError{Path: path, Err: err}
			}
		}
	}
	return metrics, nil
}

func parseMetricFile(env *scopeEnv, path string) ([]*core.Metric, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from walking the metrics directory
	if err != nil {
		return nil, err
	}
	rel := env.rel(path)

	var out []*core.Metric
	for _, s := range splitSections(string(content)) {
		if s.Header == "" {
			if strings.TrimSpace(s.Body) != "" {
				return nil, fmt.Errorf("line %d: expression outside a metric definition", s.BodyLine)
			}
			continue
		}
		var h metricHeader
		if err := decodeStrict(rel, s.Header, s.HeaderLine, metricFields, &h); err != nil {
			return nil, err
		}
		if h.Name == "" {
			return nil, &FrontmatterParseError{File: rel, Line: s.HeaderLine, Message: "metric name is required"}
		}
		m := &core.Metric{
			Name:        strings.ToLower(h.Name),
			Expression:  statementBody(s.Body),
			Owner:       h.Owner,
			Description: h.Description,
			Dialect:     firstNonEmpty(h.Dialect, env.config.Dialect),
			Path:        path,
		}
		if m.Expression == "" {
			return nil, fmt.Errorf("line %d: metric %s has no expression", s.BodyLine, m.Name)
		}
		out = append(out, m)
	}
	return out, nil
}

// MetricCycleError reports metrics that reference each other.
type MetricCycleError struct {
	Metrics []string
}

func (e *MetricCycleError) Error() string {
	return "metric reference cycle: " + strings.Join(e.Metrics, " -> ")
}

// ExpandMetrics sets Expanded on every metric, substituting references to
// other metrics with their parenthesized expansion.
func ExpandMetrics(metrics *core.UniqueMap[*core.Metric]) error {
	done := make(map[string]bool, metrics.Len())
	var stack []string

	var expand func(m *core.Metric) error
	expand = func(m *core.Metric) error {
		if done[m.Name] {
			return nil
		}
		for i, name := range stack {
			if name == m.Name {
				cycle := append(append([]string(nil), stack[i:]...), m.Name)
				return &MetricCycleError{Metrics: cycle}
			}
		}
		stack = append(stack, m.Name)
		defer func() { stack = stack[:len(stack)-1] }()

		tokens := sqlparse.Tokenize(m.Expression)
		var b strings.Builder
		last := 0
		for i, tok := range tokens {
			ref, ok := metricRef(tokens, i, metrics)
			if !ok || ref == m {
				continue
			}
			if err := expand(ref); err != nil {
				return err
			}
			b.WriteString(m.Expression[last:tok.Pos.Offset])
			b.WriteString("(" + ref.Expanded + ")")
			last = tok.End
		}
		b.WriteString(m.Expression[last:])
		m.Expanded = b.String()
		done[m.Name] = true
		return nil
	}

	for _, m := range metrics.Values() {
		if err := expand(m); err != nil {
			return &core.ConfigError{Path: m.Path, Message: "invalid metric " + m.Name, Err: err}
		}
	}
	return nil
}

// metricRef reports whether tokens[i] is a bare reference to another metric:
// an unquoted identifier that is neither qualified nor called.
func metricRef(tokens []sqlparse.Token, i int, metrics *core.UniqueMap[*core.Metric]) (*core.Metric, bool) {
	tok := tokens[i]
	if tok.Type != sqlparse.TOKEN_IDENT || tok.Quoted {
		return nil, false
	}
	if i > 0 && tokens[i-1].Type == sqlparse.TOKEN_DOT {
		return nil, false
	}
	if i+1 < len(tokens) && (tokens[i+1].Type == sqlparse.TOKEN_DOT || tokens[i+1].Type == sqlparse.TOKEN_LPAREN) {
		return nil, false
	}
	return metrics.Get(strings.ToLower(tok.Literal))
}
