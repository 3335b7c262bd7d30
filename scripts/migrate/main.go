package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/db"
)

func main() {
	cfg := config.LoadConfig()

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Create the chat keyspace and tables",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := db.EnsureKeyspace(cfg.Scylla); err != nil {
				return err
			}
			session, err := db.NewSession(cfg.Scylla, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			if err := session.Migrate(); err != nil {
				return err
			}
			logger.Info("schema ready", zap.Strings("tables", db.Tables))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&cfg.Scylla.Hosts, "hosts", cfg.Scylla.Hosts, "scylla contact points")
	cmd.Flags().StringVar(&cfg.Scylla.Keyspace, "keyspace", cfg.Scylla.Keyspace, "keyspace to create")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
