package plugin

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/azhang30/q2-tsne/artifact"
)

// SemanticType names the kind of data an input, parameter or output
// carries. Artifact types travel between methods; primitive types are
// parameters and scalar outputs.
type SemanticType string

const (
	DistanceMatrix SemanticType = "DistanceMatrix"
	PCoAResults    SemanticType = "PCoAResults"
	Int            SemanticType = "Int"
	Float          SemanticType = "Float"
	Bool           SemanticType = "Bool"
	Str            SemanticType = "Str"
)

var artifactTypes = map[SemanticType]reflect.Type{
	DistanceMatrix: reflect.TypeOf((*artifact.DistanceMatrix)(nil)),
	PCoAResults:    reflect.TypeOf((*artifact.OrdinationResults)(nil)),
}

var primitiveTypes = map[SemanticType]cty.Type{
	Int:   cty.Number,
	Float: cty.Number,
	Bool:  cty.Bool,
	Str:   cty.String,
}

// IsArtifact reports whether t is an artifact type.
func (t SemanticType) IsArtifact() bool {
	_, ok := artifactTypes[t]
	return ok
}

// IsPrimitive reports whether t is a primitive type.
func (t SemanticType) IsPrimitive() bool {
	_, ok := primitiveTypes[t]
	return ok
}

func (t SemanticType) valid() bool { return t.IsArtifact() || t.IsPrimitive() }

// ctyType returns the value type of a primitive.
func (t SemanticType) ctyType() cty.Type { return primitiveTypes[t] }

// semanticTypeFromExpr reads a bare type keyword such as `Float`.
func semanticTypeFromExpr(expr hcl.Expression) (SemanticType, hcl.Diagnostics) {
	keyword := hcl.ExprAsKeyword(expr)
	if keyword == "" {
		return "", hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid type specification",
			Detail:   "The 'type' attribute must be a bare type keyword such as DistanceMatrix or Float.",
			Subject:  expr.Range().Ptr(),
		}}
	}
	t := SemanticType(keyword)
	if !t.valid() {
		return "", hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Unsupported type",
			Detail:   fmt.Sprintf("The keyword '%s' is not a known semantic type.", keyword),
			Subject:  expr.Range().Ptr(),
		}}
	}
	return t, nil
}

// checkGoType reports whether a Go field of type rt can carry values of t.
// Primitive fields may be pointers, where nil stands for "no value".
func checkGoType(t SemanticType, rt reflect.Type) error {
	if want, ok := artifactTypes[t]; ok {
		if rt != want {
			return fmt.Errorf("semantic type %s needs Go type %s, field has %s", t, want, rt)
		}
		return nil
	}

	base := rt
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	implied, err := gocty.ImpliedType(reflect.Zero(base).Interface())
	if err != nil {
		return fmt.Errorf("could not imply cty type from Go type %s: %w", rt, err)
	}
	if !implied.Equals(t.ctyType()) {
		return fmt.Errorf("semantic type %s is %s, Go type %s is %s",
			t, t.ctyType().FriendlyName(), rt, implied.FriendlyName())
	}
	switch t {
	case Int:
		switch base.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return fmt.Errorf("semantic type Int needs an integer Go type, field has %s", rt)
		}
	case Float:
		if base.Kind() != reflect.Float32 && base.Kind() != reflect.Float64 {
			return fmt.Errorf("semantic type Float needs a floating-point Go type, field has %s", rt)
		}
	}
	return nil
}
