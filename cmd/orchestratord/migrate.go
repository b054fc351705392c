package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator-core/pkg/config"
	"github.com/cuemby/orchestrator-core/pkg/storage/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Apply or inspect database schema migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if err := goose.SetBaseFS(migrations.FS); err != nil {
			return fmt.Errorf("set migrations fs: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}

		switch args[0] {
		case "up":
			return goose.Up(db, ".")
		case "down":
			return goose.Down(db, ".")
		case "status":
			return goose.Status(db, ".")
		default:
			return fmt.Errorf("unknown migrate subcommand %q (want up, down, or status)", args[0])
		}
	},
}
