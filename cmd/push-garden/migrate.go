package main

import (
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	m, err := migrate.New("file://"+cfg.Database.MigrationsPath, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("Database is up to date")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	fmt.Println("Migrations applied")
	return nil
}
