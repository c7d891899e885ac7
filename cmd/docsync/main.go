package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zeusync/docsync/internal/config"
)

const (
	FlagConfig   = "config"
	FlagEnvFile  = "env-file"
	FlagLogLevel = "log-level"
	FlagToken    = "token"
)

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:           "docsync",
	Short:         "Collaborative document editing sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(FlagConfig, "", "(optional) YAML config file")
	rootCmd.PersistentFlags().String(FlagEnvFile, ".env", "(optional) env file loaded before DOCSYNC_* variables")
	rootCmd.PersistentFlags().String(FlagLogLevel, "", "(optional) debug, info, warn or error")
	rootCmd.PersistentFlags().String(FlagToken, "", "(optional) bearer token for the document service")
}

// loadConfig builds the config from file, env and flags, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	path, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return cfg, err
	}
	if path != "" {
		if cfg, err = config.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	envFile, err := cmd.Flags().GetString(FlagEnvFile)
	if err != nil {
		return cfg, err
	}
	if err = cfg.ApplyEnv(envFile); err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed(FlagLogLevel) {
		cfg.Log.Level, _ = cmd.Flags().GetString(FlagLogLevel)
	}
	if cmd.Flags().Changed(FlagToken) {
		cfg.Token, _ = cmd.Flags().GetString(FlagToken)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "docsync:", err)
		os.Exit(1)
	}
}
