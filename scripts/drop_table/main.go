package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/config"
	"github.com/mahaj/campus-chat/pkg/db"
)

func main() {
	cfg := config.LoadConfig()
	var yes bool

	cmd := &cobra.Command{
		Use:          "drop_table TABLE...",
		Short:        "Drop chat tables",
		Long:         "Drops the named chat tables. Known tables: direct_messages, user_conversations, conversation_counters.",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to drop tables without --yes")
			}
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			session, err := db.NewSession(cfg.Scylla, logger)
			if err != nil {
				return err
			}
			defer session.Close()

			for _, table := range args {
				logger.Info("dropping table", zap.String("table", table))
				if err := session.Drop(table); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
