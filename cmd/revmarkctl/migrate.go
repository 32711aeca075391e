package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/revmark-backend/internal/config"
	"github.com/ignatzorin/revmark-backend/internal/db"
	"github.com/ignatzorin/revmark-backend/internal/logger"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить новые миграции из MIGRATIONS_PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.InitForEnv(cfg.Env)

			conn, err := db.NewPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			applied, err := db.RunMigrations(cmd.Context(), conn, cfg.MigrationsPath)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "новых миграций нет")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "применена %s\n", name)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Показать состояние миграций",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			conn, err := db.NewPostgres(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close()

			states, err := db.MigrationStatus(cmd.Context(), conn, cfg.MigrationsPath)
			if err != nil {
				return err
			}
			for _, st := range states {
				mark := "pending"
				if st.Applied {
					mark = "applied"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", mark, st.Name)
			}
			return nil
		},
	})

	return cmd
}
