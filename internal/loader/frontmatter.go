package loader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmesh/pkg/core"
	"gopkg.in/yaml.v3"
)

// headerPattern matches /*--- ... ---*/ blocks.
var headerPattern = regexp.MustCompile(`(?s)/\*---[ \t]*\n(.*?)\s*---\*/`)

// section is one frontmatter block and the text following it up to the next
// block (or the end of the file).
type section struct {
	// Header is the YAML between the delimiters
	Header string
	// HeaderLine is the file line of the first YAML line
	HeaderLine int
	// Body is the text after the block
	Body string
	// BodyLine is the file line where Body starts
	BodyLine int
}

// splitSections splits content on frontmatter blocks. Text before the first
// block is returned as a section without a header.
func splitSections(content string) []section {
	matches := headerPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []section{{Body: content, BodyLine: 1}}
	}

	var out []section
	if lead := content[:matches[0][0]]; strings.TrimSpace(lead) != "" {
		out = append(out, section{Body: lead, BodyLine: 1})
	}
	for i, m := range matches {
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		out = append(out, section{
			Header:     content[m[2]:m[3]],
			HeaderLine: lineAt(content, m[2]),
			Body:       content[m[1]:end],
			BodyLine:   lineAt(content, m[1]),
		})
	}
	return out
}

// extractModelHeader returns the leading frontmatter of a model file and the
// SQL after it. A block that is not at the start of the file is left in the SQL.
func extractModelHeader(content string) (header string, headerLine int, body string, bodyLine int) {
	m := headerPattern.FindStringSubmatchIndex(content)
	if m == nil || strings.TrimSpace(content[:m[0]]) != "" {
		return "", 0, content, 1
	}
	return content[m[2]:m[3]], lineAt(content, m[2]), content[m[1]:], lineAt(content, m[1])
}

func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

// decodeStrict decodes a YAML mapping into out, rejecting keys not in known.
// Reported lines are relative to the file, starting at firstLine.
func decodeStrict(file, src string, firstLine int, known map[string]bool, out any) error {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		return &FrontmatterParseError{File: file, Line: firstLine, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return &FrontmatterParseError{File: file, Line: firstLine + root.Line - 1, Message: "frontmatter must be a mapping"}
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if !known[key.Value] {
			return &UnknownFieldError{File: file, Field: key.Value, Line: firstLine + key.Line - 1}
		}
	}
	if err := root.Decode(out); err != nil {
		return &FrontmatterParseError{File: file, Line: firstLine, Message: fmt.Sprintf("failed to parse frontmatter: %v", err)}
	}
	return nil
}

var modelFields = map[string]bool{
	"name": true, "kind": true, "dialect": true, "cron": true, "owner": true,
	"description": true, "start": true, "tags": true, "storage_format": true,
	"partitioned_by": true, "columns": true, "depends_on": true, "pre": true,
	"post": true, "audits": true,
}

// modelHeader is the frontmatter of a model file.
type modelHeader struct {
	Name          string      `yaml:"name"`
	Kind          kindYAML    `yaml:"kind"`
	Dialect       string      `yaml:"dialect"`
	Cron          string      `yaml:"cron"`
	Owner         string      `yaml:"owner"`
	Description   string      `yaml:"description"`
	Start         string      `yaml:"start"`
	Tags          []string    `yaml:"tags"`
	StorageFormat string      `yaml:"storage_format"`
	PartitionedBy []string    `yaml:"partitioned_by"`
	Columns       columnsYAML `yaml:"columns"`
	DependsOn     []string    `yaml:"depends_on"`
	Pre           []string    `yaml:"pre"`
	Post          []string    `yaml:"post"`
	Audits        []string    `yaml:"audits"`
}

// parseModelHeader decodes model frontmatter. An empty header yields zero values.
func parseModelHeader(file, src string, firstLine int) (*modelHeader, error) {
	h := &modelHeader{}
	if strings.TrimSpace(src) == "" {
		return h, nil
	}
	if err := decodeStrict(file, src, firstLine, modelFields, h); err != nil {
		return nil, err
	}
	return h, nil
}

// kindYAML accepts either a bare kind name or a mapping with its payload:
//
//	kind: full
//	kind:
//	  name: incremental_by_time_range
//	  time_column: ds
type kindYAML struct {
	core.Kind
}

func (k *kindYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		name, err := core.ParseKindName(node.Value)
		if err != nil {
			return err
		}
		k.Kind = core.Kind{Name: name}
		return nil
	}

	var raw struct {
		Name       string `yaml:"name"`
		TimeColumn string `yaml:"time_column"`
		Format     string `yaml:"format"`
		Path       string `yaml:"path"`
		BatchSize  int    `yaml:"batch_size"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	name, err := core.ParseKindName(raw.Name)
	if err != nil {
		return err
	}
	k.Kind = core.Kind{Name: name, Path: raw.Path, BatchSize: raw.BatchSize}
	if raw.TimeColumn != "" {
		k.TimeColumn = &core.TimeColumn{Column: raw.TimeColumn, Format: raw.Format}
	}
	return nil
}

// columnsYAML decodes a mapping of column name to type, keeping key order.
type columnsYAML core.Columns

func (c *columnsYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: columns must be a mapping of name to type", node.Line)
	}
	cols := columnsYAML{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		cols = append(cols, core.Column{Name: node.Content[i].Value, Type: node.Content[i+1].Value})
	}
	*c = cols
	return nil
}

// FrontmatterParseError represents a frontmatter parsing error.
type FrontmatterParseError struct {
	File    string
	Line    int
	Message string
}

func (e *FrontmatterParseError) Error() string {
	if e.File != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
		}
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	return e.Message
}

// UnknownFieldError represents an error for unknown frontmatter fields.
type UnknownFieldError struct {
	File  string
	Field string
	Line  int
}

func (e *UnknownFieldError) Error() string {
	msg := fmt.Sprintf("unknown field %q in frontmatter", e.Field)
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, msg)
}
