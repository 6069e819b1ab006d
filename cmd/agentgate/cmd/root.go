package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	apiAddr   string

	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "agentgate",
	Short: "A contained builder with a verification gate for AI coding agents",
	Long: `agentgate runs a build -> snapshot -> verify -> feedback convergence
loop around an AI coding agent: it provisions an isolated workspace, lets the
agent attempt the task, snapshots the result, runs it through a configurable
gate pipeline, and feeds gate failures back to the agent until the work
converges or its budget is exhausted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command and returns the process exit code
// (spec.md §6: 0 success, 1 run failed, 2 validation error).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			fmt.Fprintln(rootCmd.ErrOrStderr(), ec.Error())
			return ec.ExitCode()
		}
		fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

// SetVersion injects build-time version info, set from main().
func SetVersion(version, commit, date string) {
	appVersion, appCommit, appDate = version, commit, date
}

// exitCoder lets a command's RunE carry a specific process exit code
// (spec.md §6's distinction between a validation error and a run failure).
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) ExitCode() int { return e.code }

func runFailedErr(err error) error      { return &codedError{err: err, code: 1} }
func validationErr(err error) error     { return &codedError{err: err, code: 2} }

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .agentgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", "http://localhost:8080", "agentgate API server address, used by work-order/config subcommands")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("api_addr", rootCmd.PersistentFlags().Lookup("api-addr"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".agentgate")
		viper.AddConfigPath("$HOME/.config/agentgate")
	}

	viper.SetEnvPrefix("AGENTGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}
