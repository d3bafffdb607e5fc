// Package mint fans out minted-token notifications to subscribed chat
// channels.
package mint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulandar/poapbot/internal/models"
	"github.com/zulandar/poapbot/internal/poap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Platform names used for subscriptions and sinks.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Notice is one minted token ready to be rendered.
type Notice struct {
	Token   poap.Token
	Account poap.Account
}

// Sink delivers notices to channels of one platform.
type Sink interface {
	Notify(ctx context.Context, channelID string, n Notice) error
}

// Service resolves minted tokens and sends them to every subscribed channel.
type Service struct {
	db       *gorm.DB
	tokens   TokenSource
	accounts AccountSource
	sinks    map[string]Sink
	log      *slog.Logger
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	DB       *gorm.DB
	Tokens   TokenSource
	Accounts AccountSource
	Sinks    map[string]Sink // key: platform
	Logger   *slog.Logger
}

// NewService creates a mint Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("mint: db is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("mint: token source is required")
	}
	if opts.Accounts == nil {
		return nil, fmt.Errorf("mint: account source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sinks := make(map[string]Sink, len(opts.Sinks))
	for k, v := range opts.Sinks {
		if v != nil {
			sinks[k] = v
		}
	}
	return &Service{
		db:       opts.DB,
		tokens:   opts.Tokens,
		accounts: opts.Accounts,
		sinks:    sinks,
		log:      logger.With("component", "mint"),
	}, nil
}

// HandleToken resolves tokenID and notifies every subscribed channel. It
// returns the number of channels notified. Per-channel failures are logged
// and do not stop the fan-out.
func (s *Service) HandleToken(ctx context.Context, tokenID string) (int, error) {
	tok, err := s.tokens.Token(ctx, tokenID)
	if err != nil {
		return 0, fmt.Errorf("mint: resolve token %s: %w", tokenID, err)
	}
	acct, err := s.accounts.Account(ctx, tok.Owner)
	if err != nil {
		s.log.Warn("mint: resolve account", "address", tok.Owner, "error", err)
		acct = poap.Account{Address: tok.Owner}
	}

	channels, err := s.Channels(ctx)
	if err != nil {
		return 0, err
	}

	n := Notice{Token: tok, Account: acct}
	sent := 0
	for _, ch := range channels {
		sink, ok := s.sinks[ch.Platform]
		if !ok {
			s.log.Debug("mint: no sink for platform", "platform", ch.Platform, "channel", ch.ChannelID)
			continue
		}
		if err := sink.Notify(ctx, ch.ChannelID, n); err != nil {
			s.log.Error("mint: notify", "platform", ch.Platform, "channel", ch.ChannelID, "token", tokenID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Subscribe adds a channel to the fan-out. It reports false when the
// channel was already subscribed.
func (s *Service) Subscribe(ctx context.Context, platform, guildID, channelID string) (bool, error) {
	row := models.MintChannel{Platform: platform, GuildID: guildID, ChannelID: channelID}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "channel_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("mint: subscribe %s/%s: %w", platform, channelID, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Unsubscribe removes a channel from the fan-out. It reports false when the
// channel was not subscribed.
func (s *Service) Unsubscribe(ctx context.Context, platform, channelID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("platform = ? AND channel_id = ?", platform, channelID).
		Delete(&models.MintChannel{})
	if result.Error != nil {
		return false, fmt.Errorf("mint: unsubscribe %s/%s: %w", platform, channelID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Channels returns every subscribed channel.
func (s *Service) Channels(ctx context.Context) ([]models.MintChannel, error) {
	var chs []models.MintChannel
	if err := s.db.WithContext(ctx).Order("id").Find(&chs).Error; err != nil {
		return nil, fmt.Errorf("mint: list channels: %w", err)
	}
	return chs, nil
}
