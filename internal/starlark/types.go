// Package starlark provides the Starlark execution context used to render
// model templates and to define models natively.
package starlark

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// TargetInfo describes where models are built.
// Exposed as the "target" global in Starlark execution.
type TargetInfo struct {
	Dialect string // "duckdb", "postgres", "snowflake"
	Catalog string // Default catalog
	Gateway string // Active gateway name, if any
}

// ThisInfo contains current model information.
// Exposed as the "this" global in Starlark execution.
type ThisInfo struct {
	Name   string // Fully-qualified model name
	Schema string // Everything before the last dot
	Table  string // Last name part
}

// NewThisInfo splits a fully-qualified model name.
func NewThisInfo(name string) *ThisInfo {
	this := &ThisInfo{Name: name, Table: name}
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			this.Schema, this.Table = name[:i], name[i+1:]
			break
		}
	}
	return this
}

// ToStarlark converts TargetInfo to a Starlark struct value.
func (t *TargetInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("target"), starlark.StringDict{
		"dialect": starlark.String(t.Dialect),
		"catalog": starlark.String(t.Catalog),
		"gateway": starlark.String(t.Gateway),
	})
}

// ToStarlark converts ThisInfo to a Starlark struct value.
func (t *ThisInfo) ToStarlark() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("this"), starlark.StringDict{
		"name":   starlark.String(t.Name),
		"schema": starlark.String(t.Schema),
		"table":  starlark.String(t.Table),
	})
}

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, int, int64, float64, bool, []string, []any, map[string]any
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case starlark.Indexable: // list, tuple
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result[i] = gv
		}
		return result, nil

	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	default:
		return val.String(), nil
	}
}
