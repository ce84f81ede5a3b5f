package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/graffiti/internal/broker"
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Database string
	Identity string
	Limit    int
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <query-json>",
		Short: "Run a one-shot query against a store",
		Long: `Run a one-shot query against a graffiti object store.

Prints the live objects the given identity can see, newest first. Access
lists and context rules apply exactly as they do for live subscriptions.

Example:
  graffiti find --db ./graffiti.db '{"kind": "note"}'
  graffiti find --db ./graffiti.db --as alice --limit 10 '{"_to": "alice"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Identity, "as", "", "identity to query as (empty for anonymous)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum number of objects")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runFind(opts *FindOptions, rawQuery string, cmd *cobra.Command) error {
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

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, "failed to open database", err.Error())
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b := broker.New(st, registry.New())
	docs, err := b.Find(ctx, opts.Identity, q, opts.Limit)
	if err != nil {
		code := ErrCodeStore
		if errs.IsValidation(err) {
			code = ErrCodeQueryInvalid
		}
		_ = formatter.Error(code, errs.Detail(err), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	formatter.VerboseLog("%d object(s) visible to %q", len(docs), opts.Identity)

	objects := make([]ir.Object, len(docs))
	for i, doc := range docs {
		objects[i] = doc.Object
	}

	if formatter.Format == "json" {
		return formatter.Success(objects)
	}
	for _, obj := range objects {
		line, err := ir.MarshalCanonical(obj)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to render object", err)
		}
		fmt.Fprintln(formatter.Writer, string(line))
	}
	return nil
}
