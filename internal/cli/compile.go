package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/query"
)

// CompileResult describes a compiled query.
type CompileResult struct {
	Hash     string    `json:"hash"`
	Identity string    `json:"identity"`
	Query    ir.Object `json:"query"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "compile <query-json>",
		Short: "Check a query and print its hash",
		Long: `Check a query against the operator allow-list and print its hash.

Subscriptions whose queries have the same hash share one evaluation per
matching pass.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, identity, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&identity, "as", "", "identity the query runs as")

	return cmd
}

func runCompile(opts *RootOptions, identity, rawQuery string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	q, err := ir.DecodeObject([]byte(rawQuery))
	if err != nil {
		_ = formatter.Error(ErrCodeQueryInvalid, "query must be a JSON object", err.Error())
		return WrapExitError(ExitCommandError, "invalid query", err)
	}

	pred, err := query.Compile(q, identity)
	if err != nil {
		_ = formatter.Error(ErrCodeQueryInvalid, errs.Detail(err), nil)
		return WrapExitError(ExitFailure, "query rejected", err)
	}

	result := CompileResult{Hash: pred.Hash(), Identity: pred.Identity(), Query: pred.Query()}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	canonical, err := ir.MarshalCanonical(result.Query)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render query", err)
	}
	fmt.Fprintf(formatter.Writer, "hash:  %s\nquery: %s\n", result.Hash, canonical)
	return nil
}
