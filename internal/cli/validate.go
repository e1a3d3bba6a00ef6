package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/swirl/internal/config"
)

// ValidationIssue is one configuration error.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Nodes       int               `json:"nodes,omitempty"`
	Errors      []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config.cue>",
		Short: "Validate a node configuration",
		Long: `Validate a CUE node configuration against the embedded schema and the
pipeline's own checks, reporting every error with its position.

Exit codes:
  0 - The configuration is valid
  1 - The configuration has errors
  2 - Command error (file not found)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "configuration not found", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return outputValidationErrors(formatter, validationIssues(err))
	}

	result := ValidationResult{Valid: true, Fingerprint: cfg.Fingerprint, Nodes: cfg.Roster.Len()}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Configuration valid (%d nodes, fingerprint %s)\n", result.Nodes, result.Fingerprint)
	return nil
}

// validationIssues flattens the joined errors returned by config.Load.
func validationIssues(err error) []ValidationIssue {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []ValidationIssue
		for _, e := range joined.Unwrap() {
			out = append(out, validationIssues(e)...)
		}
		return out
	}
	var ce *config.Error
	if !errors.As(err, &ce) {
		return []ValidationIssue{{Message: err.Error()}}
	}
	issue := ValidationIssue{Path: ce.Path, Message: ce.Message}
	if ce.Pos.IsValid() {
		issue.File = ce.Pos.Filename()
		issue.Line = ce.Pos.Line()
		issue.Column = ce.Pos.Column()
	}
	return []ValidationIssue{issue}
}

func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	if formatter.JSON() {
		result := ValidationResult{Valid: false, Errors: issues}
		if err := formatter.Failure(ErrCodeConfig, issues[0].Message, result, nil); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", issue.File, issue.Line, issue.Column)
		}
		if issue.Path != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Path, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s\n\n", issue.Message)
		}
	}
	return failed
}
