package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/logger"
)

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A nil launcher drives a local
// Chromium through Rod.
func newRootCmd(launcher driver.Launcher) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Run scripted browser tasks with human-like pacing",
		Long: `stepflow drives a browser through the steps of a YAML task document:
clicks, typing, waits, loops and retries, with randomized delays and curved
mouse motion so the session looks hand-driven.

Example:
  stepflow run tasks/checkout.yaml --var email=test@example.com`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default: stepflow.yaml in . or $HOME)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error, disabled")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit structured logs as JSON")
	rootCmd.PersistentFlags().StringToString("var", nil, "Task variable as name=value (repeatable)")

	rootCmd.AddCommand(newRunCmd(v, launcher))
	rootCmd.AddCommand(newValidateCmd(v))
	return rootCmd
}

// loadConfig layers flags over STEPFLOW_* environment variables over the
// optional config file
func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stepflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger(v *viper.Viper, cmd *cobra.Command) logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(v.GetString("log-level")),
		Output:     cmd.ErrOrStderr(),
		JSON:       v.GetBool("log-json"),
		TimeFormat: "15:04:05",
	})
}

// taskVars converts --var pairs into task variables
func taskVars(cmd *cobra.Command) (map[string]any, error) {
	pairs, err := cmd.Flags().GetStringToString("var")
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(pairs))
	for k, val := range pairs {
		vars[k] = val
	}
	return vars, nil
}
