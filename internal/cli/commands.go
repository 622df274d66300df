package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"

	"github.com/azhang30/q2-tsne/internal/config"
	"github.com/azhang30/q2-tsne/internal/ctxlog"
	"github.com/azhang30/q2-tsne/internal/metrics"
	"github.com/azhang30/q2-tsne/plugin"
)

func newMethodsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the methods of the plugin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadPlugin(cmd, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %s\n\n", p.Name(), p.Version(), p.Manifest().ShortDescription)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, m := range p.Methods() {
				fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Name)
			}
			return tw.Flush()
		},
	}
}

func newDescribeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe METHOD",
		Short: "Show the inputs, parameters and outputs of a method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPlugin(cmd, opts)
			if err != nil {
				return err
			}
			spec, err := lookupMethod(p, args[0])
			if err != nil {
				return err
			}
			return describe(cmd.OutOrStdout(), spec)
		},
	}
}

func describe(w io.Writer, spec *plugin.MethodSpec) error {
	fmt.Fprintf(w, "%s: %s\n", spec.ID, spec.Name)
	if spec.Description != "" {
		fmt.Fprintf(w, "  %s\n", spec.Description)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nInputs:")
	for _, in := range spec.Inputs {
		fmt.Fprintf(tw, "  %s\t%s\t\t%s\n", in.Name, in.Type, in.Description)
	}
	fmt.Fprintln(tw, "\nParameters:")
	for _, param := range spec.Parameters {
		constraint := ""
		switch {
		case param.Range != nil:
			constraint = "range " + param.Range.String()
		case len(param.Choices) > 0:
			var choices []string
			for _, c := range param.Choices {
				if c.Type() == cty.String {
					choices = append(choices, c.AsString())
				}
			}
			constraint = "one of " + strings.Join(choices, ", ")
		}
		fmt.Fprintf(tw, "  %s\t%s\tdefault %s\t%s\n", param.Name, param.Type, param.DefaultString(), constraint)
		if param.Description != "" {
			fmt.Fprintf(tw, "  \t\t\t%s\n", param.Description)
		}
	}
	fmt.Fprintln(tw, "\nOutputs:")
	for _, out := range spec.Outputs {
		fmt.Fprintf(tw, "  %s\t%s\t\t%s\n", out.Name, out.Type, out.Description)
	}
	return tw.Flush()
}

type runOptions struct {
	inputs      []string
	params      []string
	paramsFile  string
	outputs     []string
	metricsFile string
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run METHOD",
		Short: "Run a method",
		Long: `Run a method on artifact files.

Artifact outputs without an --output path and primitive outputs are written
to standard output.`,
		Example: `  q2-tsne run tsne --input X=dm.tsv --param perplexity=10 --output pcoa=tsne.txt
  q2-tsne run joint_probabilities --input distances=dm.tsv --params-file params.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if ro.metricsFile != "" {
				defer func() {
					if werr := metrics.WriteTextfile(ro.metricsFile); werr != nil {
						err = errors.Join(err, fmt.Errorf("writing metrics: %w", werr))
					}
				}()
			}
			return runMethod(cmd, opts, ro, args[0])
		},
	}
	f := cmd.Flags()
	f.StringArrayVarP(&ro.inputs, "input", "i", nil, "Input artifact as name=path (repeatable).")
	f.StringArrayVarP(&ro.params, "param", "p", nil, "Parameter as name=value (repeatable); overrides --params-file.")
	f.StringVar(&ro.paramsFile, "params-file", "", "TOML or YAML file with parameter values.")
	f.StringArrayVarP(&ro.outputs, "output", "o", nil, "Output path as name=path (repeatable).")
	f.StringVar(&ro.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run.")
	return cmd
}

func runMethod(cmd *cobra.Command, opts *rootOptions, ro *runOptions, id string) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	p, err := loadPlugin(cmd, opts)
	if err != nil {
		return err
	}
	spec, err := lookupMethod(p, id)
	if err != nil {
		return err
	}

	inputPaths, err := parsePaths("input", ro.inputs)
	if err != nil {
		return err
	}
	outputPaths, err := parsePaths("output", ro.outputs)
	if err != nil {
		return err
	}
	for name := range outputPaths {
		if !hasOutput(spec, name) {
			return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("method %q has no output %q", id, name)}
		}
	}

	inputs := make(map[string]any, len(inputPaths))
	for name, path := range inputPaths {
		t, ok := inputType(spec, name)
		if !ok {
			return &ExitError{Code: ExitUsage, Message: fmt.Sprintf("method %q has no input %q", id, name)}
		}
		v, err := readArtifactFile(t, path)
		if err != nil {
			return fmt.Errorf("reading input %q: %w", name, err)
		}
		logger.Debug("Input loaded.", "input", name, "path", path, "type", t)
		inputs[name] = v
	}

	var fileParams map[string]cty.Value
	if ro.paramsFile != "" {
		fileParams, err = config.LoadParamsFile(ro.paramsFile, id)
		if err != nil {
			return err
		}
	}
	flagParams, err := config.ParseAssignments(ro.params)
	if err != nil {
		return err
	}

	outputs, err := p.Invoke(ctx, id, plugin.Invocation{
		Inputs: inputs,
		Params: config.Merge(fileParams, flagParams),
	})
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	for _, out := range spec.Outputs {
		v := outputs[out.Name]
		if path, ok := outputPaths[out.Name]; ok {
			if err := writeArtifactFile(path, v); err != nil {
				return fmt.Errorf("writing output %q: %w", out.Name, err)
			}
			logger.Info("Output written.", "output", out.Name, "path", path)
			continue
		}
		if out.Type.IsArtifact() {
			fmt.Fprintf(stdout, "# %s\n", out.Name)
			if err := writeArtifact(stdout, v); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\n", out.Name, formatPrimitive(v))
	}
	return nil
}

// parsePaths splits name=path flags.
func parsePaths(kind string, flags []string) (map[string]string, error) {
	paths := make(map[string]string, len(flags))
	for _, f := range flags {
		name, path, ok := strings.Cut(f, "=")
		if !ok || name == "" || path == "" {
			return nil, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid --%s %q: want name=path", kind, f)}
		}
		if _, dup := paths[name]; dup {
			return nil, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("--%s %q given twice", kind, name)}
		}
		paths[name] = path
	}
	return paths, nil
}

func inputType(spec *plugin.MethodSpec, name string) (plugin.SemanticType, bool) {
	for _, in := range spec.Inputs {
		if in.Name == name {
			return in.Type, true
		}
	}
	return "", false
}

func hasOutput(spec *plugin.MethodSpec, name string) bool {
	for _, out := range spec.Outputs {
		if out.Name == name {
			return true
		}
	}
	return false
}

func readArtifactFile(t plugin.SemanticType, path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readArtifact(t, f)
}

func writeArtifactFile(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if isArtifact(v) {
		return writeArtifact(f, v)
	}
	_, err = fmt.Fprintln(f, formatPrimitive(v))
	return err
}
