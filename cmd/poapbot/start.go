package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/poapbot/internal/bot"
	"github.com/zulandar/poapbot/internal/bot/discord"
	slacksink "github.com/zulandar/poapbot/internal/bot/slack"
	"github.com/zulandar/poapbot/internal/config"
	"github.com/zulandar/poapbot/internal/mint"
	"github.com/zulandar/poapbot/internal/ops"
)

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the bot",
		Long:  "Connects to Discord, restores scheduled announcements and serves commands until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "poapbot.yaml", "path to poapbot config file")
	return cmd
}

func runStart(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}

	adapter, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.Token, Logger: logger})
	if err != nil {
		return err
	}

	sinks, err := mintSinks(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		DB:        gormDB,
		Config:    cfg,
		Adapter:   adapter,
		MintSinks: sinks,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Ops.Port > 0 {
		go func() {
			err := ops.Start(ctx, ops.StartOpts{
				Sessions: daemon.Engine(),
				Events:   daemon.Events(),
				Jobs:     daemon.Scheduler(),
				Port:     cfg.Ops.Port,
				Logger:   logger,
			})
			if err != nil {
				logger.Error("ops server stopped", "error", err)
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "poapbot %s starting (db: %s)\n", Version, cfg.Database.Driver)
	return daemon.Run(ctx)
}

// mintSinks builds the notification sinks for platforms other than Discord.
func mintSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]mint.Sink, error) {
	if !cfg.Mint.Enabled || cfg.Mint.Slack.BotToken == "" {
		return nil, nil
	}
	n, err := slacksink.NewNotifier(slacksink.NotifierOpts{BotToken: cfg.Mint.Slack.BotToken})
	if err != nil {
		return nil, err
	}
	if err := n.Verify(ctx); err != nil {
		return nil, err
	}
	logger.Info("slack mint sink ready", "bot_user", n.BotUserID(), "channels", len(cfg.Mint.Slack.Channels))
	return map[string]mint.Sink{mint.PlatformSlack: n}, nil
}
