package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationIssue is one problem found in a fixture or scenario file.
type ValidationIssue struct {
	Code    string `json:"code"`
	File    string `json:"file,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Fixtures  int               `json:"fixtures"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <fixtures-dir> <scenarios-dir>",
		Short: "Validate fixtures and scenarios without running them",
		Long: `Check every fixture against the fixture schema and every scenario
for structure, then check that each scenario's fixture exists and that
scenario names and fixed run ids are unique.

Nothing touches a chain. Faster than test for development feedback.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, fixturesDir, scenariosDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if lerr := checkDir(fixturesDir, "fixtures"); lerr != nil {
		return outputValidateError(formatter, lerr.Code, lerr.Message, nil)
	}
	if lerr := checkDir(scenariosDir, "scenarios"); lerr != nil {
		return outputValidateError(formatter, lerr.Code, lerr.Message, nil)
	}

	fixtures, fixtureErrs := LoadFixtures(fixturesDir, LoadModeCollectAll)
	formatter.VerboseLog("Loaded %d fixture(s) from %s", len(fixtures), fixturesDir)

	files, scenarioErrs := LoadScenarios(scenariosDir, "", LoadModeCollectAll)
	formatter.VerboseLog("Loaded %d scenario(s) from %s", len(files), scenariosDir)

	var errs []error
	errs = append(errs, fixtureErrs...)
	errs = append(errs, scenarioErrs...)
	if len(fixtureErrs) == 0 {
		// Missing references are only meaningful once every fixture loaded.
		errs = append(errs, checkFixtureRefs(files, fixtures)...)
	}
	if len(files) == 0 && len(scenarioErrs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no scenarios found in %s", scenariosDir)})
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, toIssues(errs))
	}
	return outputValidateSuccess(formatter, len(fixtures), len(files))
}

func toIssues(errs []error) []ValidationIssue {
	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) {
			issues = append(issues, ValidationIssue{Code: le.Code, File: le.Path, Message: le.Message})
			continue
		}
		issues = append(issues, ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()})
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, fixtures, scenarios int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Fixtures: fixtures, Scenarios: scenarios})
	}

	fmt.Fprintf(formatter.Writer, "✓ %d fixture(s) and %d scenario(s) valid\n", fixtures, scenarios)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	message := fmt.Sprintf("validation failed with %d error(s)", len(issues))
	if formatter.Format == "json" {
		if err := formatter.Report(ValidationResult{Valid: false, Errors: issues}, issues[0].Code, issues[0].Message); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.File != "" {
			fmt.Fprintln(formatter.Writer, issue.File)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}

	return NewExitError(ExitFailure, message)
}
