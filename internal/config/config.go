// Package config reads method parameters from parameter files and
// command-line assignments and turns them into cty values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// ErrInvalidParams is returned for unreadable or malformed parameters.
var ErrInvalidParams = errors.New("config: invalid parameters")

// Format is a parameter file format.
type Format int

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto Format = iota
	FormatTOML
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatTOML:
		return "toml"
	case FormatYAML:
		return "yaml"
	case FormatAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// FormatFromPath detects the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return FormatAuto, fmt.Errorf("%w: cannot tell the format of %q, use .toml, .yaml or .yml", ErrInvalidParams, path)
	}
}

// LoadParamsFile reads parameters for method from a TOML or YAML file.
// Top-level scalar keys are parameters shared by every method. A top-level
// table holds the parameters of the method it is named after and overrides
// the shared keys; tables of other methods are skipped, so one file can
// hold the parameters of several methods.
func LoadParamsFile(path, method string) (map[string]cty.Value, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	return ParseParams(data, format, method)
}

// ParseParams decodes parameters in the given format. See LoadParamsFile.
func ParseParams(data []byte, format Format, method string) (map[string]cty.Value, error) {
	raw := make(map[string]any)
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("%w: toml: %w", ErrInvalidParams, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrInvalidParams, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidParams, format)
	}

	params := make(map[string]cty.Value, len(raw))
	for name, v := range raw {
		if _, isSection := v.(map[string]any); isSection {
			continue
		}
		cv, err := toCtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q: %w", ErrInvalidParams, name, err)
		}
		params[name] = cv
	}

	section, ok := raw[method].(map[string]any)
	if !ok {
		return params, nil
	}
	for name, v := range section {
		cv, err := toCtyValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q of %q: %w", ErrInvalidParams, name, method, err)
		}
		params[name] = cv
	}
	return params, nil
}

// toCtyValue converts a decoded scalar. Parameters are primitives, so
// tables and lists are rejected.
func toCtyValue(v any) (cty.Value, error) {
	switch v := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value of type %T", v)
	}
}

// ParseAssignment parses a "name=value" command-line parameter. The value
// is read as an HCL literal (42, 0.5, true, null, "text"); anything that is
// not a literal is taken as a plain string, so metric=cosine works without
// quoting.
func ParseAssignment(s string) (string, cty.Value, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", cty.NilVal, fmt.Errorf("%w: %q is not of the form name=value", ErrInvalidParams, s)
	}
	value = strings.TrimSpace(value)

	expr, diags := hclsyntax.ParseExpression([]byte(value), name, hcl.InitialPos)
	if diags.HasErrors() {
		return name, cty.StringVal(value), nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() || !v.Type().IsPrimitiveType() && v.Type() != cty.DynamicPseudoType {
		return name, cty.StringVal(value), nil
	}
	return name, v, nil
}

// ParseAssignments parses several "name=value" parameters. Later values
// override earlier ones.
func ParseAssignments(assignments []string) (map[string]cty.Value, error) {
	params := make(map[string]cty.Value, len(assignments))
	for _, a := range assignments {
		name, v, err := ParseAssignment(a)
		if err != nil {
			return nil, err
		}
		params[name] = v
	}
	return params, nil
}

// Merge returns the union of the maps; later maps win.
func Merge(maps ...map[string]cty.Value) map[string]cty.Value {
	out := make(map[string]cty.Value)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
