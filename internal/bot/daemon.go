package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/poapbot/internal/config"
	"github.com/zulandar/poapbot/internal/event"
	"github.com/zulandar/poapbot/internal/mint"
	"github.com/zulandar/poapbot/internal/poap"
	"github.com/zulandar/poapbot/internal/schedule"
	"github.com/zulandar/poapbot/internal/setup"
	"gorm.io/gorm"
)

// shutdownGrace bounds the farewell messages and running announcements
// after the daemon context is cancelled.
const shutdownGrace = 10 * time.Second

// TokenSubscriber delivers minted token IDs.
type TokenSubscriber interface {
	Run(ctx context.Context, handle mint.TokenHandler) error
}

// Daemon wires the chat adapter to the setup engine, the event store, the
// announcement scheduler and the mint fan-out.
type Daemon struct {
	adapter Adapter
	events  *event.Service
	engine  *setup.Engine
	sched   *schedule.Scheduler
	mint    *mint.Service
	sub     TokenSubscriber
	router  *Router
	log     *slog.Logger
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	DB      *gorm.DB
	Config  *config.Config
	Adapter Adapter
	// MintSinks adds notification sinks for other platforms (e.g. Slack).
	MintSinks map[string]mint.Sink
	// Subscriber overrides the NATS subscriber built from config.
	Subscriber TokenSubscriber
	// Fetcher overrides the HTTP attachment fetcher.
	Fetcher setup.AttachmentFetcher
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewDaemon builds every component. Nothing connects until Run.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	perms, ok := opts.Adapter.(PermissionChecker)
	if !ok {
		return nil, fmt.Errorf("bot: adapter cannot check permissions")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Config

	events, err := event.NewService(opts.DB)
	if err != nil {
		return nil, err
	}
	side, err := NewSideChannels(opts.Adapter)
	if err != nil {
		return nil, err
	}
	notifier, err := NewNotifier(opts.Adapter)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(schedule.Opts{Announcer: notifier, Events: events, Logger: logger, Now: now})
	if err != nil {
		return nil, fmt.Errorf("bot: build scheduler: %w", err)
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewAttachmentFetcher(nil, 0)
	}
	engine, err := setup.NewEngine(setup.EngineOpts{
		Channels:  side,
		Messenger: side,
		Events:    events,
		Scheduler: sched,
		Fetcher:   fetcher,
		Settings:  setup.SettingsFromConfig(cfg.Setup),
		Logger:    logger,
		Now:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: build setup engine: %w", err)
	}

	d := &Daemon{
		adapter: opts.Adapter,
		events:  events,
		engine:  engine,
		sched:   sched,
		log:     logger.With("component", "daemon"),
	}

	var toggler MintToggler
	if cfg.Mint.Enabled {
		if err := d.buildMint(opts, notifier, logger, now); err != nil {
			return nil, err
		}
		toggler = d.mint
	}

	dir, _ := opts.Adapter.(GuildDirectory)
	commands, err := NewCommandHandler(CommandHandlerOpts{
		Prefix:      cfg.Discord.Prefix,
		Setup:       engine,
		Events:      events,
		Mint:        toggler,
		Permissions: perms,
		Directory:   dir,
		DateLayout:  engine.Settings().DateLayout,
		Now:         now,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: build command handler: %w", err)
	}
	d.router, err = NewRouter(RouterOpts{
		Adapter:      opts.Adapter,
		SideChannels: side,
		Commands:     commands,
		Claims:       events,
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: build router: %w", err)
	}
	return d, nil
}

func (d *Daemon) buildMint(opts DaemonOpts, notifier *Notifier, logger *slog.Logger, now func() time.Time) error {
	mc := opts.Config.Mint
	client, err := poap.NewClient(poap.ClientOpts{BaseURL: mc.PoapAPIURL, APIKey: mc.APIKey})
	if err != nil {
		return fmt.Errorf("bot: build poap client: %w", err)
	}
	cacheOpts := mint.CacheOpts{
		DB:     opts.DB,
		TTL:    time.Duration(mc.CacheTTLSec) * time.Second,
		Logger: logger,
		Now:    now,
	}
	tokens, err := mint.NewTokenCache(client, cacheOpts)
	if err != nil {
		return err
	}
	accounts, err := mint.NewAccountCache(client, cacheOpts)
	if err != nil {
		return err
	}

	sinks := map[string]mint.Sink{mint.PlatformDiscord: notifier}
	for platform, sink := range opts.MintSinks {
		sinks[platform] = sink
	}
	d.mint, err = mint.NewService(mint.ServiceOpts{
		DB:       opts.DB,
		Tokens:   tokens,
		Accounts: accounts,
		Sinks:    sinks,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	d.sub = opts.Subscriber
	if d.sub == nil {
		d.sub, err = mint.NewSubscriber(mint.SubscriberOpts{URL: mc.NATSURL, Subject: mc.Subject, Logger: logger})
		if err != nil {
			return err
		}
	}
	return nil
}

// Engine returns the setup engine.
func (d *Daemon) Engine() *setup.Engine { return d.engine }

// Events returns the event store.
func (d *Daemon) Events() *event.Service { return d.events }

// Scheduler returns the announcement scheduler.
func (d *Daemon) Scheduler() *schedule.Scheduler { return d.sched }

// Run connects the adapter and pumps inbound messages until ctx is
// cancelled. On shutdown every open setup session is ended.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("bot: connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}
	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	if n, err := d.sched.Restore(ctx); err != nil {
		d.log.Error("bot: restore schedule", "error", err)
	} else {
		d.log.Info("bot: schedule restored", "jobs", n)
	}
	d.sched.Start(ctx)
	go d.engine.RunReaper(ctx)

	if d.mint != nil {
		go func() {
			err := d.sub.Run(ctx, func(ctx context.Context, tokenID string) {
				sent, err := d.mint.HandleToken(ctx, tokenID)
				if err != nil {
					d.log.Error("bot: mint", "token", tokenID, "error", err)
					return
				}
				d.log.Info("bot: mint notified", "token", tokenID, "channels", sent)
			})
			if err != nil {
				d.log.Error("bot: mint subscriber stopped", "error", err)
			}
		}()
	}

	d.log.Info("bot: online")
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case msg, ok := <-inbound:
			if !ok {
				d.log.Warn("bot: inbound channel closed")
				d.shutdown()
				return nil
			}
			d.router.Handle(ctx, msg)
		}
	}
}

func (d *Daemon) shutdown() {
	d.log.Info("bot: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	d.engine.Shutdown(ctx)
	d.sched.Stop(ctx)
	if err := d.adapter.Close(); err != nil {
		d.log.Warn("bot: close adapter", "error", err)
	}
	d.log.Info("bot: stopped")
}
