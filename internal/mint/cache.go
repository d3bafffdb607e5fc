package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/poapbot/internal/models"
	"github.com/zulandar/poapbot/internal/poap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenSource fetches tokens from the POAP API.
type TokenSource interface {
	Token(ctx context.Context, tokenID string) (poap.Token, error)
}

// AccountSource resolves owner accounts.
type AccountSource interface {
	Account(ctx context.Context, address string) (poap.Account, error)
}

// CacheOpts holds parameters shared by the token and account caches.
type CacheOpts struct {
	DB     *gorm.DB
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time // optional; defaults to time.Now
}

func (o CacheOpts) validate() error {
	if o.DB == nil {
		return fmt.Errorf("mint: cache: db is required")
	}
	if o.TTL <= 0 {
		return fmt.Errorf("mint: cache: ttl must be positive")
	}
	return nil
}

func (o CacheOpts) withDefaults() CacheOpts {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// TokenCache serves tokens from the database while they are fresher than
// the TTL and refreshes them from the source otherwise. A stale entry is
// served when the source fails.
type TokenCache struct {
	CacheOpts
	src TokenSource
}

// NewTokenCache creates a TokenCache in front of src.
func NewTokenCache(src TokenSource, opts CacheOpts) (*TokenCache, error) {
	if src == nil {
		return nil, fmt.Errorf("mint: token cache: source is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &TokenCache{CacheOpts: opts.withDefaults(), src: src}, nil
}

// Token implements TokenSource.
func (c *TokenCache) Token(ctx context.Context, tokenID string) (poap.Token, error) {
	var row models.CachedToken
	err := c.DB.WithContext(ctx).First(&row, "token_id = ?", tokenID).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return poap.Token{}, fmt.Errorf("mint: read cached token %s: %w", tokenID, err)
	}

	if found && c.Now().Sub(row.FetchedAt) < c.TTL {
		var tok poap.Token
		if err := json.Unmarshal([]byte(row.Payload), &tok); err == nil {
			return tok, nil
		}
	}

	tok, err := c.src.Token(ctx, tokenID)
	if err != nil {
		if found {
			var stale poap.Token
			if jerr := json.Unmarshal([]byte(row.Payload), &stale); jerr == nil {
				c.Logger.Warn("mint: serving stale token", "token", tokenID, "error", err)
				return stale, nil
			}
		}
		return poap.Token{}, err
	}

	payload, err := json.Marshal(tok)
	if err != nil {
		return poap.Token{}, fmt.Errorf("mint: encode token %s: %w", tokenID, err)
	}
	row = models.CachedToken{TokenID: tokenID, Payload: string(payload), FetchedAt: c.Now().UTC()}
	if err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		c.Logger.Warn("mint: store cached token", "token", tokenID, "error", err)
	}
	return tok, nil
}

// AccountCache is the account counterpart of TokenCache.
type AccountCache struct {
	CacheOpts
	src AccountSource
}

// NewAccountCache creates an AccountCache in front of src.
func NewAccountCache(src AccountSource, opts CacheOpts) (*AccountCache, error) {
	if src == nil {
		return nil, fmt.Errorf("mint: account cache: source is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &AccountCache{CacheOpts: opts.withDefaults(), src: src}, nil
}

// Account implements AccountSource.
func (c *AccountCache) Account(ctx context.Context, address string) (poap.Account, error) {
	var row models.CachedAccount
	err := c.DB.WithContext(ctx).First(&row, "address = ?", address).Error
	found := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return poap.Account{}, fmt.Errorf("mint: read cached account %s: %w", address, err)
	}
	if found && c.Now().Sub(row.FetchedAt) < c.TTL {
		return poap.Account{Address: row.Address, ENS: row.ENS}, nil
	}

	acct, err := c.src.Account(ctx, address)
	if err != nil {
		if found {
			c.Logger.Warn("mint: serving stale account", "address", address, "error", err)
			return poap.Account{Address: row.Address, ENS: row.ENS}, nil
		}
		return poap.Account{}, err
	}

	row = models.CachedAccount{Address: address, ENS: acct.ENS, FetchedAt: c.Now().UTC()}
	if err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		c.Logger.Warn("mint: store cached account", "address", address, "error", err)
	}
	return acct, nil
}
