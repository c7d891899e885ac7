package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zeusync/docsync/internal/core/persistence"
	"github.com/zeusync/docsync/internal/core/protocol"
	"github.com/zeusync/docsync/internal/injector"
)

// GetShowCmd returns the command printing the saved copy of a document.
func GetShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved copy of a document without opening a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed(FlagDoc) {
				raw, _ := cmd.Flags().GetString(FlagDoc)
				id, err := protocol.ParseDocumentID(raw)
				if err != nil {
					return err
				}
				cfg.Session.DocumentID = int64(id)
			}
			if cmd.Flags().Changed(FlagHTTPURL) {
				cfg.Persistence.BaseURL, _ = cmd.Flags().GetString(FlagHTTPURL)
			}
			if err = cfg.Validate(); err != nil {
				return err
			}

			logger := injector.ProvideLogger(cfg)
			defer func() { _ = logger.Sync() }()
			client := injector.ProvidePersistence(cfg, logger)
			return showDocument(context.Background(), client, cfg.DocumentID(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(FlagDoc, "", "document id")
	cmd.Flags().String(FlagHTTPURL, "", "(optional) document service base url")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetShowCmd())
}

func showDocument(ctx context.Context, client *persistence.Client, id protocol.DocumentID, out io.Writer) error {
	doc, err := client.Load(ctx, id)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "# %s\n%s", doc.Title, doc.Content.Text())
	return err
}
