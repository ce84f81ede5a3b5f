package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/graffiti/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Field  string `json:"field,omitempty"`
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file",
		Long: `Validate a graffiti config file without starting the server.

Checks the file against the config schema and the merged result against
cross-field rules. With no argument the --config file is checked.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if path == "" {
		return outputValidateError(formatter, ErrCodeNotFound, "no config file given", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
	}

	cfg, err := config.Load(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		result := ValidationResult{Valid: false, Reason: err.Error()}
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			result.Field = cfgErr.Field
			result.Reason = cfgErr.Message
			if cfgErr.Pos.IsValid() {
				result.Line = cfgErr.Pos.Line()
			}
		}
		return outputValidateError(formatter, ErrCodeConfigInvalid, err.Error(), result)
	}

	formatter.VerboseLog("Validated %s", path)
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	return formatter.Success(fmt.Sprintf("%s is valid", path))
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Validation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
