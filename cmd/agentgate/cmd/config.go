package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate agentgate configuration",
}

var configValidateFile string

func init() {
	rootCmd.AddCommand(configCmd)

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the server's current default configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			var out map[string]interface{}
			if err := client().do("GET", "/api/v1/config", nil, &out); err != nil {
				return runFailedErr(err)
			}
			printJSON(out)
			return nil
		},
	}
	configCmd.AddCommand(getCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Dry-run a work order body against the server's admission invariants",
		RunE:  runConfigValidate,
	}
	validateCmd.Flags().StringVar(&configValidateFile, "file", "", "path to a JSON work-order body, or - for stdin (required)")
	_ = validateCmd.MarkFlagRequired("file")
	configCmd.AddCommand(validateCmd)
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	var raw []byte
	var err error
	if configValidateFile == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(configValidateFile)
	}
	if err != nil {
		return validationErr(fmt.Errorf("reading %s: %w", configValidateFile, err))
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return validationErr(fmt.Errorf("parsing %s as JSON: %w", configValidateFile, err))
	}

	var out map[string]interface{}
	if err := client().do("POST", "/api/v1/config/validate", body, &out); err != nil {
		return validationErr(err)
	}
	printJSON(out)
	return nil
}
