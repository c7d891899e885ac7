package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/docsync/internal/injector"
)

const (
	FlagAddr       = "addr"
	FlagRelayToken = "relay-token"
)

// GetRelayCmd returns the development relay command.
func GetRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run an in-memory document service for local editing sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(FlagAddr) {
				cfg.Relay.Addr, _ = cmd.Flags().GetString(FlagAddr)
			}
			if cmd.Flags().Changed(FlagRelayToken) {
				cfg.Relay.Token, _ = cmd.Flags().GetString(FlagRelayToken)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := injector.InitializeRelay(cfg)
			defer func() { _ = server.Logger().Sync() }()
			return server.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String(FlagAddr, ":8081", "(optional) listen address")
	cmd.Flags().String(FlagRelayToken, "", "(optional) token required to delete documents")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetRelayCmd())
}
