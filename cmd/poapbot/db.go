package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/poapbot/internal/config"
	"github.com/zulandar/poapbot/internal/db"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the bot tables",
		Long:  "Migrates all tables and seeds the mint channels listed in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "poapbot.yaml", "path to poapbot config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Migrated %d tables in %s database\n", len(db.AllModels()), cfg.Database.Driver)
	seeded := len(cfg.Mint.DiscordChannels) + len(cfg.Mint.Slack.Channels)
	if seeded > 0 {
		fmt.Fprintf(out, "Seeded %d mint channels\n", seeded)
	}
	sqlDB, err := gormDB.DB()
	if err == nil {
		sqlDB.Close()
	}
	return nil
}

// loadConfig reads an optional .env file and then the YAML config.
func loadConfig(configPath string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openDB connects, migrates and seeds the mint channels.
func openDB(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	if err := db.SeedMintChannels(gormDB, cfg.Mint); err != nil {
		return nil, err
	}
	return gormDB, nil
}
