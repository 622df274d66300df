package plugin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/azhang30/q2-tsne/internal/ctxlog"
	"github.com/azhang30/q2-tsne/internal/metrics"
)

// Plugin is a built, validated set of methods. It is read-only and safe
// for concurrent use.
type Plugin struct {
	manifest *Manifest
	methods  map[string]*Method
	order    []string
}

// Method is a manifest method bound to its Go function.
type Method struct {
	Spec *MethodSpec

	fn           *boundFunc
	argFields    map[string]int
	resultFields map[string]int
}

// Invocation holds the arguments of one method call. Inputs are artifact
// values keyed by input name; Params are primitive values keyed by
// parameter name. Omitted parameters take their declared defaults.
type Invocation struct {
	Inputs map[string]any
	Params map[string]cty.Value
}

// Outputs maps output names to the values a method produced. Artifact
// outputs are pointers to artifact types; primitive outputs are Go scalars.
type Outputs map[string]any

// Name returns the plugin name.
func (p *Plugin) Name() string { return p.manifest.Name }

// Version returns the plugin version.
func (p *Plugin) Version() string { return p.manifest.Version }

// Manifest returns the manifest the plugin was built from.
func (p *Plugin) Manifest() *Manifest { return p.manifest }

// Methods returns the method specs in manifest order.
func (p *Plugin) Methods() []*MethodSpec {
	specs := make([]*MethodSpec, 0, len(p.order))
	for _, id := range p.order {
		specs = append(specs, p.methods[id].Spec)
	}
	return specs
}

// Method returns the spec of a registered method.
func (p *Plugin) Method(id string) (*MethodSpec, bool) {
	m, ok := p.methods[id]
	if !ok {
		return nil, false
	}
	return m.Spec, true
}

// Invoke runs a method. Parameters are converted to the declared types and
// checked against their ranges and choices before the function is called.
func (p *Plugin) Invoke(ctx context.Context, id string, inv Invocation) (Outputs, error) {
	m, ok := p.methods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in plugin %q", ErrUnknownMethod, id, p.manifest.Name)
	}

	ctx = ctxlog.With(ctx, "method", id, "invocation", uuid.NewString())
	logger := ctxlog.FromContext(ctx)

	start := time.Now()
	out, err := m.invoke(ctx, inv)
	elapsed := time.Since(start)

	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	metrics.ObserveInvocation(id, status, elapsed)

	if err != nil {
		logger.Error("Method failed.", "duration", elapsed, "error", err)
		return nil, err
	}
	logger.Info("Method completed.", "duration", elapsed, "outputs", len(out))
	return out, nil
}

func (m *Method) invoke(ctx context.Context, inv Invocation) (Outputs, error) {
	args := reflect.New(m.fn.argsType)
	if err := m.bindArgs(args.Elem(), inv); err != nil {
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("Invoking method.", "inputs", len(inv.Inputs), "params", len(inv.Params))
	res, err := m.fn.call(ctx, args.Interface())
	if err != nil {
		return nil, fmt.Errorf("method %q: %w", m.Spec.ID, err)
	}
	return m.collectOutputs(res)
}

// bindArgs fills the argument struct. Every problem is reported.
func (m *Method) bindArgs(args reflect.Value, inv Invocation) error {
	var errs []error

	for name := range inv.Inputs {
		if !slices.ContainsFunc(m.Spec.Inputs, func(in *PortSpec) bool { return in.Name == name }) {
			errs = append(errs, fmt.Errorf("unknown input %q", name))
		}
	}
	for name := range inv.Params {
		if _, ok := m.Spec.Parameter(name); !ok {
			errs = append(errs, fmt.Errorf("unknown parameter %q", name))
		}
	}

	for _, in := range m.Spec.Inputs {
		v, ok := inv.Inputs[in.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("missing required input %q", in.Name))
			continue
		}
		field := args.Field(m.argFields[in.Name])
		rv := reflect.ValueOf(v)
		switch {
		case !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()):
			errs = append(errs, fmt.Errorf("input %q is nil", in.Name))
		case !rv.Type().AssignableTo(field.Type()):
			errs = append(errs, fmt.Errorf("input %q must be %s, got %T", in.Name, in.Type, v))
		default:
			field.Set(rv)
		}
	}

	for _, param := range m.Spec.Parameters {
		v, ok := inv.Params[param.Name]
		if !ok {
			if param.Required() {
				errs = append(errs, fmt.Errorf("missing required parameter %q", param.Name))
				continue
			}
			v = *param.Default
		}
		cv, err := param.conformValue(v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cv.IsNull() && param.Required() {
			errs = append(errs, fmt.Errorf("parameter %q is required and cannot be null", param.Name))
			continue
		}
		field := args.Field(m.argFields[param.Name])
		if err := gocty.FromCtyValue(cv, field.Addr().Interface()); err != nil {
			errs = append(errs, fmt.Errorf("parameter %q: %w", param.Name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w for method %q: %w", ErrInvalidArgument, m.Spec.ID, errors.Join(errs...))
	}
	return nil
}

func (m *Method) collectOutputs(res any) (Outputs, error) {
	rv := reflect.ValueOf(res)
	if rv.IsNil() {
		return nil, fmt.Errorf("method %q returned no results", m.Spec.ID)
	}
	rv = rv.Elem()

	out := make(Outputs, len(m.Spec.Outputs))
	for _, spec := range m.Spec.Outputs {
		field := rv.Field(m.resultFields[spec.Name])
		if field.Kind() == reflect.Pointer && field.IsNil() {
			return nil, fmt.Errorf("method %q left output %q unset", m.Spec.ID, spec.Name)
		}
		out[spec.Name] = field.Interface()
	}
	return out, nil
}

// CheckTypeFlow verifies that every input type of every method is either
// produced as an output by some method or listed as external, meaning it
// is imported from outside the plugin.
func CheckTypeFlow(p *Plugin, external ...SemanticType) error {
	available := make(map[SemanticType]bool)
	for _, t := range external {
		available[t] = true
	}
	for _, spec := range p.Methods() {
		for _, out := range spec.Outputs {
			available[out.Type] = true
		}
	}

	var errs []error
	for _, spec := range p.Methods() {
		for _, in := range spec.Inputs {
			if !available[in.Type] {
				errs = append(errs, fmt.Errorf("method %q: input %q of type %s is never produced", spec.ID, in.Name, in.Type))
			}
		}
	}
	return errors.Join(errs...)
}
