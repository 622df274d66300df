package plugin

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Manifest is the declarative half of a plugin: its metadata and the
// signature of every method it offers.
type Manifest struct {
	Name             string
	Version          string
	Website          string
	Package          string
	Description      string
	ShortDescription string
	Methods          []*MethodSpec
}

// MethodSpec is the declared signature of one method.
type MethodSpec struct {
	ID          string
	Name        string
	Description string
	Inputs      []*PortSpec
	Parameters  []*ParameterSpec
	Outputs     []*PortSpec
}

// PortSpec declares a named input or output.
type PortSpec struct {
	Name        string
	Type        SemanticType
	Description string
}

// ParameterSpec declares a primitive parameter.
type ParameterSpec struct {
	Name        string
	Type        SemanticType
	Description string
	// Default is nil for required parameters. A null value marks an
	// optional parameter that has no value unless one is given.
	Default *cty.Value
	Range   *Range
	Choices []cty.Value
}

// Required reports whether the caller must supply the parameter.
func (p *ParameterSpec) Required() bool { return p.Default == nil }

// DefaultString renders the default for help output: "required" when
// there is none, "null" for an optional parameter without a value.
func (p *ParameterSpec) DefaultString() string {
	if p.Default == nil {
		return "required"
	}
	return formatValue(*p.Default)
}

// Range bounds a numeric parameter. A nil bound is unbounded.
type Range struct {
	Min, Max       *float64
	InclusiveStart bool
	InclusiveEnd   bool
}

// Contains reports whether v lies within the range.
func (r *Range) Contains(v float64) bool {
	if r.Min != nil && (v < *r.Min || (!r.InclusiveStart && v == *r.Min)) {
		return false
	}
	if r.Max != nil && (v > *r.Max || (!r.InclusiveEnd && v == *r.Max)) {
		return false
	}
	return true
}

func (r *Range) String() string {
	lo, hi := "(", ")"
	if r.InclusiveStart {
		lo = "["
	}
	if r.InclusiveEnd {
		hi = "]"
	}
	bound := func(b *float64) string {
		if b == nil {
			return "None"
		}
		return fmt.Sprint(*b)
	}
	return lo + bound(r.Min) + ", " + bound(r.Max) + hi
}

// Method returns the spec of the method with the given ID.
func (m *Manifest) Method(id string) (*MethodSpec, bool) {
	for _, spec := range m.Methods {
		if spec.ID == id {
			return spec, true
		}
	}
	return nil, false
}

// Parameter returns the spec of the named parameter.
func (s *MethodSpec) Parameter(name string) (*ParameterSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

type manifestFile struct {
	Plugin *pluginBlock `hcl:"plugin,block"`
}

type pluginBlock struct {
	Name             string         `hcl:"name,label"`
	Version          string         `hcl:"version"`
	Website          string         `hcl:"website,optional"`
	Package          string         `hcl:"package,optional"`
	Description      string         `hcl:"description,optional"`
	ShortDescription string         `hcl:"short_description,optional"`
	Methods          []*methodBlock `hcl:"method,block"`
}

type methodBlock struct {
	ID          string            `hcl:"id,label"`
	Name        string            `hcl:"name"`
	Description string            `hcl:"description,optional"`
	Inputs      []*portBlock      `hcl:"input,block"`
	Parameters  []*parameterBlock `hcl:"parameter,block"`
	Outputs     []*portBlock      `hcl:"output,block"`
}

type portBlock struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
}

// parameterBlock keeps its body raw so that an absent default (required)
// can be told apart from `default = null` (optional, no value).
type parameterBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

var parameterBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type", Required: true},
		{Name: "description"},
		{Name: "default"},
		{Name: "range"},
		{Name: "inclusive_start"},
		{Name: "inclusive_end"},
		{Name: "choices"},
	},
}

// ParseManifest decodes an HCL plugin manifest. Every problem found in the
// file is reported, not only the first.
func ParseManifest(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrManifest, diags)
	}

	var root manifestFile
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrManifest, diags)
	}
	if root.Plugin == nil {
		return nil, fmt.Errorf("%w: %s has no plugin block", ErrManifest, filename)
	}

	pb := root.Plugin
	m := &Manifest{
		Name:             pb.Name,
		Version:          pb.Version,
		Website:          pb.Website,
		Package:          pb.Package,
		Description:      pb.Description,
		ShortDescription: pb.ShortDescription,
	}

	for _, mb := range pb.Methods {
		spec := &MethodSpec{ID: mb.ID, Name: mb.Name, Description: mb.Description}
		for _, in := range mb.Inputs {
			port, portDiags := decodePort(in)
			diags = append(diags, portDiags...)
			spec.Inputs = append(spec.Inputs, port)
		}
		for _, out := range mb.Outputs {
			port, portDiags := decodePort(out)
			diags = append(diags, portDiags...)
			spec.Outputs = append(spec.Outputs, port)
		}
		for _, pblock := range mb.Parameters {
			param, paramDiags := decodeParameter(pblock)
			diags = append(diags, paramDiags...)
			spec.Parameters = append(spec.Parameters, param)
		}
		m.Methods = append(m.Methods, spec)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrManifest, diags)
	}
	return m, nil
}

func decodePort(b *portBlock) (*PortSpec, hcl.Diagnostics) {
	t, diags := semanticTypeFromExpr(b.Type)
	return &PortSpec{Name: b.Name, Type: t, Description: b.Description}, diags
}

func decodeParameter(b *parameterBlock) (*ParameterSpec, hcl.Diagnostics) {
	p := &ParameterSpec{Name: b.Name}
	content, diags := b.Body.Content(parameterBodySchema)
	if diags.HasErrors() {
		return p, diags
	}

	var typeDiags hcl.Diagnostics
	p.Type, typeDiags = semanticTypeFromExpr(content.Attributes["type"].Expr)
	diags = append(diags, typeDiags...)
	if typeDiags.HasErrors() {
		return p, diags
	}
	if !p.Type.IsPrimitive() {
		return p, append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Artifact type used as a parameter",
			Detail:   fmt.Sprintf("Parameter '%s' has artifact type %s; artifacts must be declared as inputs.", p.Name, p.Type),
			Subject:  content.Attributes["type"].Expr.Range().Ptr(),
		})
	}

	if attr, ok := content.Attributes["description"]; ok {
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &p.Description)...)
	}

	if attr, ok := content.Attributes["default"]; ok {
		// Defaults must be literals, so no evaluation context.
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			p.Default = &val
		}
	}

	if attr, ok := content.Attributes["range"]; ok {
		r, rangeDiags := decodeRange(attr)
		diags = append(diags, rangeDiags...)
		p.Range = r
	}
	if p.Range != nil {
		p.Range.InclusiveStart = true
		if attr, ok := content.Attributes["inclusive_start"]; ok {
			diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &p.Range.InclusiveStart)...)
		}
		if attr, ok := content.Attributes["inclusive_end"]; ok {
			diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &p.Range.InclusiveEnd)...)
		}
	}

	if attr, ok := content.Attributes["choices"]; ok {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			if !val.CanIterateElements() {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Invalid choices",
					Detail:   "The 'choices' attribute must be a list of values.",
					Subject:  attr.Expr.Range().Ptr(),
				})
			} else {
				for it := val.ElementIterator(); it.Next(); {
					_, v := it.Element()
					p.Choices = append(p.Choices, v)
				}
			}
		}
	}
	return p, diags
}

// decodeRange reads `range = [min, max]` where either bound may be null.
func decodeRange(attr *hcl.Attribute) (*Range, hcl.Diagnostics) {
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	invalid := hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Invalid range",
		Detail:   "The 'range' attribute must be a pair [min, max] of numbers or nulls.",
		Subject:  attr.Expr.Range().Ptr(),
	}}
	if !val.CanIterateElements() || val.LengthInt() != 2 {
		return nil, invalid
	}

	var bounds [2]*float64
	for i := 0; i < 2; i++ {
		b := val.Index(cty.NumberIntVal(int64(i)))
		if b.IsNull() {
			continue
		}
		num, err := convert.Convert(b, cty.Number)
		if err != nil {
			return nil, invalid
		}
		f, _ := num.AsBigFloat().Float64()
		bounds[i] = &f
	}
	return &Range{Min: bounds[0], Max: bounds[1]}, nil
}

// conformValue converts v to the parameter's type and checks integrality,
// range and choices. Null values pass through unchanged.
func (p *ParameterSpec) conformValue(v cty.Value) (cty.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("value for %q is not known", p.Name)
	}
	cv, err := convert.Convert(v, p.Type.ctyType())
	if err != nil {
		return cty.NilVal, fmt.Errorf("value for %q is not a %s: %w", p.Name, p.Type, err)
	}

	if p.Type == Int || p.Type == Float {
		bf := cv.AsBigFloat()
		if p.Type == Int && !bf.IsInt() {
			return cty.NilVal, fmt.Errorf("value %s for %q is not an integer", bf.Text('g', -1), p.Name)
		}
		if p.Range != nil {
			f, _ := bf.Float64()
			if !p.Range.Contains(f) {
				return cty.NilVal, fmt.Errorf("value %s for %q is outside %s", bf.Text('g', -1), p.Name, p.Range)
			}
		}
	}

	if len(p.Choices) > 0 {
		for _, c := range p.Choices {
			cc, err := convert.Convert(c, cv.Type())
			if err == nil && !cc.IsNull() && cc.Equals(cv).True() {
				return cv, nil
			}
		}
		return cty.NilVal, fmt.Errorf("value %s for %q is not one of the allowed choices", formatValue(cv), p.Name)
	}
	return cv, nil
}

func formatValue(v cty.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.Type() == cty.String:
		return fmt.Sprintf("%q", v.AsString())
	case v.Type() == cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case v.Type() == cty.Bool:
		return fmt.Sprint(v.True())
	}
	return v.GoString()
}
