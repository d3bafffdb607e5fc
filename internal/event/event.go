// Package event persists configured POAP events and their claim codes.
package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when no event matches a lookup.
	ErrNotFound = errors.New("event: not found")
	// ErrPassTaken is returned when another event already uses the pass.
	ErrPassTaken = errors.New("event: pass already in use")
	// ErrNoCodesLeft is returned when every code of a live event is claimed.
	ErrNoCodesLeft = errors.New("event: no codes left")
)

// Input is a finalized, validated event ready to be stored. It is produced
// once by the setup conversation and never modified afterwards.
type Input struct {
	GuildID         string
	ChannelID       string
	CreatedBy       string
	Start           time.Time
	End             time.Time
	StartMessage    string
	EndMessage      string
	ResponseMessage string
	Reaction        string
	Pass            string
	Codes           []string
	CreatedAt       time.Time
}

// Saved is the stored form of an Input plus code accounting. CodesStored
// can be lower than CodesRequested when codes collided with existing ones.
type Saved struct {
	Event          models.Event
	CodesRequested int
	CodesStored    int
}

// Service reads and writes events through GORM.
type Service struct {
	db *gorm.DB
}

// NewService creates an event Service.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("event: db is required")
	}
	return &Service{db: db}, nil
}

// SaveEvent stores the event and as many of its codes as are not already
// present. Duplicates inside the input and codes that already exist for
// any event are skipped and reflected in CodesStored. The pass may be
// reused once every earlier event holding it has ended by in.CreatedAt
// (or now when unset); otherwise ErrPassTaken is returned.
func (s *Service) SaveEvent(ctx context.Context, in Input, createdByName string) (Saved, error) {
	ev := models.Event{
		GuildID:         in.GuildID,
		ChannelID:       in.ChannelID,
		CreatedBy:       in.CreatedBy,
		CreatedByName:   createdByName,
		StartDate:       in.Start.UTC(),
		EndDate:         in.End.UTC(),
		StartMessage:    in.StartMessage,
		EndMessage:      in.EndMessage,
		ResponseMessage: in.ResponseMessage,
		Reaction:        in.Reaction,
		Pass:            strings.ToLower(in.Pass),
	}
	if !in.CreatedAt.IsZero() {
		ev.CreatedAt = in.CreatedAt
	}

	asOf := in.CreatedAt
	if asOf.IsZero() {
		asOf = time.Now()
	}

	saved := Saved{CodesRequested: len(in.Codes)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holders int64
		if err := tx.Model(&models.Event{}).
			Where("pass = ? AND end_date > ?", ev.Pass, asOf.UTC()).
			Count(&holders).Error; err != nil {
			return fmt.Errorf("check pass: %w", err)
		}
		if holders > 0 {
			return ErrPassTaken
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("create event: %w", err)
		}

		seen := make(map[string]bool, len(in.Codes))
		for _, code := range in.Codes {
			if seen[code] {
				continue
			}
			seen[code] = true

			row := models.EventCode{Code: code, EventID: ev.ID}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if result.Error != nil {
				return fmt.Errorf("create code: %w", result.Error)
			}
			if result.RowsAffected == 1 {
				ev.Codes = append(ev.Codes, row)
				saved.CodesStored++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPassTaken) {
			return Saved{}, err
		}
		return Saved{}, fmt.Errorf("event: save: %w", err)
	}
	saved.Event = ev
	return saved, nil
}

// Get returns an event by ID, without codes.
func (s *Service) Get(ctx context.Context, id uint) (*models.Event, error) {
	var ev models.Event
	if err := s.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("event: get %d: %w", id, err)
	}
	return &ev, nil
}

// ListGuild returns all events of a guild, newest start first.
func (s *Service) ListGuild(ctx context.Context, guildID string) ([]models.Event, error) {
	var evs []models.Event
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).
		Order("start_date DESC").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("event: list guild %s: %w", guildID, err)
	}
	return evs, nil
}

// ListGuildActive returns a guild's events that have not ended yet.
func (s *Service) ListGuildActive(ctx context.Context, guildID string, now time.Time) ([]models.Event, error) {
	var evs []models.Event
	if err := s.db.WithContext(ctx).Where("guild_id = ? AND end_date > ?", guildID, now.UTC()).
		Order("start_date").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("event: list guild active %s: %w", guildID, err)
	}
	return evs, nil
}

// ListPending returns every event that has not ended yet, in start order.
func (s *Service) ListPending(ctx context.Context, now time.Time) ([]models.Event, error) {
	var evs []models.Event
	if err := s.db.WithContext(ctx).Where("end_date > ?", now.UTC()).
		Order("start_date").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("event: list pending: %w", err)
	}
	return evs, nil
}

// ListActive returns the events running at now.
func (s *Service) ListActive(ctx context.Context, now time.Time) ([]models.Event, error) {
	var evs []models.Event
	if err := s.db.WithContext(ctx).Where("start_date <= ? AND end_date > ?", now.UTC(), now.UTC()).
		Order("start_date").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("event: list active: %w", err)
	}
	return evs, nil
}

// PassAvailable reports whether no event that is live or upcoming at now
// uses pass. Passes of ended events can be reused.
func (s *Service) PassAvailable(ctx context.Context, pass string, now time.Time) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Event{}).
		Where("pass = ? AND end_date > ?", strings.ToLower(pass), now.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("event: pass available: %w", err)
	}
	return count == 0, nil
}

// CodeStats returns the total and claimed code counts for an event.
func (s *Service) CodeStats(ctx context.Context, eventID uint) (total, claimed int, err error) {
	var t, c int64
	if err := s.db.WithContext(ctx).Model(&models.EventCode{}).
		Where("event_id = ?", eventID).Count(&t).Error; err != nil {
		return 0, 0, fmt.Errorf("event: code stats %d: %w", eventID, err)
	}
	if err := s.db.WithContext(ctx).Model(&models.EventCode{}).
		Where("event_id = ? AND claimed_by <> ''", eventID).Count(&c).Error; err != nil {
		return 0, 0, fmt.Errorf("event: code stats %d: %w", eventID, err)
	}
	return int(t), int(c), nil
}
