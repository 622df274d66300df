// Package cli implements the q2-tsne command line: listing and describing
// plugin methods and running them on artifact files.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/azhang30/q2-tsne/artifact"
	"github.com/azhang30/q2-tsne/internal/config"
	"github.com/azhang30/q2-tsne/internal/ctxlog"
	"github.com/azhang30/q2-tsne/internal/logging"
	"github.com/azhang30/q2-tsne/plugin"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes.
const (
	ExitFailure = 1
	ExitUsage   = 2
)

type rootOptions struct {
	logLevel   string
	logFormat  string
	entryPoint string
}

// NewRootCommand builds the command tree. Command output goes to outW,
// logs and errors to errW.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "q2-tsne",
		Short: "t-SNE methods for distance matrices",
		Long: `q2-tsne runs the methods of the tsne plugin on plain-text artifacts.

Artifacts:
  DistanceMatrix  tab-separated square matrix with a header row of sample ids
  PCoAResults     ordination results with Eigvals, Proportion explained and
                  Site sections`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(opts.logLevel, opts.logFormat, errW)
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: err.Error()}
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(ctxlog.WithLogger(ctx, logger))
			logger.Debug("Logger configured.", "level", opts.logLevel, "format", opts.logFormat)
			return nil
		},
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	})

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	root.PersistentFlags().StringVar(&opts.entryPoint, "plugin", "q2-tsne", "Entry point of the plugin to load.")

	root.AddCommand(
		newMethodsCommand(opts),
		newDescribeCommand(opts),
		newRunCommand(opts),
	)
	return root
}

// Execute runs the command line with args and maps failures to ExitError.
func Execute(ctx context.Context, args []string, outW, errW io.Writer) error {
	root := NewRootCommand(outW, errW)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr
	case errors.Is(err, plugin.ErrUnknownMethod),
		errors.Is(err, plugin.ErrUnknownEntryPoint),
		errors.Is(err, plugin.ErrInvalidArgument),
		errors.Is(err, config.ErrInvalidParams),
		errors.Is(err, artifact.ErrFormat):
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	default:
		return &ExitError{Code: ExitFailure, Message: err.Error()}
	}
}

func loadPlugin(cmd *cobra.Command, opts *rootOptions) (*plugin.Plugin, error) {
	return plugin.LoadEntryPoint(cmd.Context(), opts.entryPoint)
}

func lookupMethod(p *plugin.Plugin, id string) (*plugin.MethodSpec, error) {
	spec, ok := p.Method(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q in plugin %q", plugin.ErrUnknownMethod, id, p.Name())
	}
	return spec, nil
}
