package plugin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/azhang30/q2-tsne/internal/ctxlog"
)

// fieldTag is the struct tag that binds a Go field to a declared name.
const fieldTag = "plugin"

// boundFunc is a registered Go function with its argument and result
// struct types erased.
type boundFunc struct {
	argsType   reflect.Type
	resultType reflect.Type
	call       func(ctx context.Context, args any) (any, error)
}

// Builder collects the Go functions that implement a manifest's methods.
// It is not safe for concurrent use; Build produces the immutable Plugin.
type Builder struct {
	manifest *Manifest
	funcs    map[string]*boundFunc
	errs     []error
}

// NewBuilder starts a plugin for the given manifest.
func NewBuilder(m *Manifest) *Builder {
	return &Builder{manifest: m, funcs: make(map[string]*boundFunc)}
}

// RegisterFunction binds fn to the manifest method id. A and R are structs
// whose exported fields carry `plugin:"<name>"` tags: the fields of A
// receive the inputs and parameters, the fields of R hold the outputs.
// Problems are reported by Build.
func RegisterFunction[A, R any](b *Builder, id string, fn func(context.Context, *A) (*R, error)) {
	argsType := reflect.TypeFor[A]()
	resultType := reflect.TypeFor[R]()
	switch {
	case fn == nil:
		b.errs = append(b.errs, fmt.Errorf("method %q: nil function", id))
		return
	case argsType.Kind() != reflect.Struct || resultType.Kind() != reflect.Struct:
		b.errs = append(b.errs, fmt.Errorf("method %q: arguments and results must be structs, got %s and %s", id, argsType, resultType))
		return
	}
	if _, dup := b.funcs[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("method %q: function registered twice", id))
		return
	}
	b.funcs[id] = &boundFunc{
		argsType:   argsType,
		resultType: resultType,
		call: func(ctx context.Context, args any) (any, error) {
			return fn(ctx, args.(*A))
		},
	}
}

// Build checks that the registered functions and the manifest agree and
// returns the assembled plugin. All violations are reported together.
func (b *Builder) Build(ctx context.Context) (*Plugin, error) {
	logger := ctxlog.FromContext(ctx)
	errs := slices.Clone(b.errs)

	p := &Plugin{manifest: b.manifest, methods: make(map[string]*Method, len(b.manifest.Methods))}
	for _, spec := range b.manifest.Methods {
		if _, dup := p.methods[spec.ID]; dup {
			errs = append(errs, fmt.Errorf("method %q: declared twice in manifest", spec.ID))
			continue
		}
		fn, ok := b.funcs[spec.ID]
		if !ok {
			errs = append(errs, fmt.Errorf("method %q: declared in manifest but no function is registered", spec.ID))
			continue
		}
		m, methodErrs := bindMethod(spec, fn)
		errs = append(errs, methodErrs...)
		if len(methodErrs) == 0 {
			p.methods[spec.ID] = m
			p.order = append(p.order, spec.ID)
		}
	}
	for id := range b.funcs {
		if _, ok := b.manifest.Method(id); !ok {
			errs = append(errs, fmt.Errorf("method %q: function registered but not declared in manifest", id))
		}
	}

	if len(errs) > 0 {
		slices.SortStableFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
		return nil, fmt.Errorf("%w for plugin %q: %w", ErrRegistration, b.manifest.Name, errors.Join(errs...))
	}
	logger.Debug("Plugin built.", "plugin", b.manifest.Name, "version", b.manifest.Version, "methods", len(p.order))
	return p, nil
}

// taggedFields maps tag names to field indices of a struct type.
func taggedFields(t reflect.Type) (map[string]int, []error) {
	fields := make(map[string]int)
	var errs []error
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get(fieldTag), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if _, dup := fields[name]; dup {
			errs = append(errs, fmt.Errorf("%s: tag %q used by more than one field", t, name))
			continue
		}
		fields[name] = i
	}
	return fields, errs
}

// bindMethod checks one method's parity between spec and Go types.
func bindMethod(spec *MethodSpec, fn *boundFunc) (*Method, []error) {
	m := &Method{Spec: spec, fn: fn}
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("method %q: "+format, append([]any{spec.ID}, args...)...))
	}

	argFields, tagErrs := taggedFields(fn.argsType)
	errs = append(errs, tagErrs...)
	resultFields, tagErrs := taggedFields(fn.resultType)
	errs = append(errs, tagErrs...)
	m.argFields, m.resultFields = argFields, resultFields

	declared := make(map[string]struct{})
	declare := func(kind, name string) bool {
		if _, dup := declared[kind+name]; dup {
			fail("%s %q declared twice", kind, name)
			return false
		}
		declared[kind+name] = struct{}{}
		return true
	}

	// Inputs and parameters share the argument namespace.
	for _, in := range spec.Inputs {
		if !declare("argument", in.Name) {
			continue
		}
		idx, ok := argFields[in.Name]
		if !ok {
			fail("manifest declares input %q which is not found in %s", in.Name, fn.argsType)
			continue
		}
		if !in.Type.IsArtifact() {
			fail("input %q has primitive type %s; primitives must be declared as parameters", in.Name, in.Type)
			continue
		}
		if err := checkGoType(in.Type, fn.argsType.Field(idx).Type); err != nil {
			fail("input %q: %v", in.Name, err)
		}
	}
	for _, param := range spec.Parameters {
		if !declare("argument", param.Name) {
			continue
		}
		idx, ok := argFields[param.Name]
		if !ok {
			fail("manifest declares parameter %q which is not found in %s", param.Name, fn.argsType)
			continue
		}
		field := fn.argsType.Field(idx)
		if err := checkGoType(param.Type, field.Type); err != nil {
			fail("parameter %q: %v", param.Name, err)
			continue
		}
		if err := checkDefault(param, field.Type); err != nil {
			fail("parameter %q: %v", param.Name, err)
		}
	}
	for name := range argFields {
		if _, ok := declared["argument"+name]; !ok {
			fail("%s has field for %q which is not declared in manifest", fn.argsType, name)
		}
	}

	for _, out := range spec.Outputs {
		if !declare("output", out.Name) {
			continue
		}
		idx, ok := resultFields[out.Name]
		if !ok {
			fail("manifest declares output %q which is not found in %s", out.Name, fn.resultType)
			continue
		}
		if err := checkGoType(out.Type, fn.resultType.Field(idx).Type); err != nil {
			fail("output %q: %v", out.Name, err)
		}
	}
	for name := range resultFields {
		if _, ok := declared["output"+name]; !ok {
			fail("%s has field for %q which is not declared in manifest", fn.resultType, name)
		}
	}
	return m, errs
}

// checkDefault verifies that a declared default is a valid value for the
// parameter and can be stored in its Go field.
func checkDefault(param *ParameterSpec, rt reflect.Type) error {
	if param.Default == nil {
		return nil
	}
	if param.Default.IsNull() {
		if rt.Kind() != reflect.Pointer {
			return fmt.Errorf("default is null but Go type %s cannot hold a missing value", rt)
		}
		return nil
	}
	v, err := param.conformValue(*param.Default)
	if err != nil {
		return fmt.Errorf("invalid default: %w", err)
	}
	target := reflect.New(rt)
	if err := gocty.FromCtyValue(v, target.Interface()); err != nil {
		return fmt.Errorf("default does not fit Go type %s: %w", rt, err)
	}
	return nil
}
