package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/scenario"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>...",
	Short: "Check scenario files without playing them",
	Long: `Check one or more scenario files for structural problems.

This command checks:
  - YAML syntax and unknown fields
  - Every step has exactly one action with its required fields
  - Scope parents, unsubscribe ids, and destroyed scopes are declared
  - Forwarding handlers do not form a cycle

The exit code is 1 if any file is invalid.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

var validateJSON bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output validation results as JSON")
}

// ValidationOutput is the JSON form of one file's validation result.
type ValidationOutput struct {
	Valid    bool     `json:"valid"`
	FilePath string   `json:"file_path"`
	Name     string   `json:"name,omitempty"`
	Steps    int      `json:"steps,omitempty"`
	Scopes   int      `json:"scopes,omitempty"`
	End      string   `json:"end,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// silentError signals that validation failed but output was already provided.
// Used to set exit code 1 without Cobra printing a duplicate error message.
type silentError struct{}

func (e *silentError) Error() string {
	return "validation failed"
}

func runValidate(cmd *cobra.Command, args []string) error {
	results := make([]ValidationOutput, 0, len(args))
	invalid := 0
	for _, path := range args {
		res := validateFile(path)
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if validateJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else {
		printValidation(out, results)
	}

	if invalid > 0 {
		cmd.SilenceErrors = true
		return &silentError{}
	}
	return nil
}

func validateFile(path string) ValidationOutput {
	res := ValidationOutput{FilePath: path}

	sc, err := scenario.Load(path)
	if err != nil {
		res.Errors = flattenErrors(err)
		return res
	}

	res.Valid = true
	res.Name = sc.Name
	res.Steps = len(sc.Steps)
	res.Scopes = len(sc.Scopes)
	res.End = sc.End().String()
	return res
}

// flattenErrors splits a joined error into its messages.
func flattenErrors(err error) []string {
	var multi interface{ Unwrap() []error }
	if errors.As(err, &multi) {
		var msgs []string
		for _, e := range multi.Unwrap() {
			msgs = append(msgs, flattenErrors(e)...)
		}
		return msgs
	}
	return []string{err.Error()}
}

func printValidation(out io.Writer, results []ValidationOutput) {
	for _, res := range results {
		if res.Valid {
			fmt.Fprintf(out, "ok    %s (%s: %d steps, %d scopes, last step at %s)\n",
				res.FilePath, res.Name, res.Steps, res.Scopes, res.End)
			continue
		}
		fmt.Fprintf(out, "FAIL  %s\n", res.FilePath)
		for _, msg := range res.Errors {
			fmt.Fprintf(out, "      - %s\n", msg)
		}
	}
}
