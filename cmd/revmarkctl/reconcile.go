package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/revmark-backend/internal/app"
	"github.com/ignatzorin/revmark-backend/internal/config"
	"github.com/ignatzorin/revmark-backend/internal/logger"
)

func reconcileCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Однократно сверить зависшие pending платежи со шлюзом",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.InitForEnv(cfg.Env)

			if olderThan <= 0 {
				olderThan = cfg.ReconcileAfter
			}

			application, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			report, err := application.Escrow.Reconcile(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "возраст pending платежа, после которого он сверяется (по умолчанию RECONCILE_AFTER)")

	return cmd
}
