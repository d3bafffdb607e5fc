package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/poapbot/internal/models"
	"gorm.io/gorm"
)

// claimAttempts bounds the optimistic retries when two users race for the
// same unclaimed code.
const claimAttempts = 3

// Claim is the result of redeeming a pass.
type Claim struct {
	Event   models.Event
	Code    string
	Already bool // the user had claimed this code before
}

// Claim hands userID a code for the live event whose pass matches. A user
// who already holds a code for the event gets the same code back.
func (s *Service) Claim(ctx context.Context, pass, userID string, now time.Time) (*Claim, error) {
	pass = strings.ToLower(strings.TrimSpace(pass))
	if pass == "" {
		return nil, ErrNotFound
	}

	var ev models.Event
	err := s.db.WithContext(ctx).
		Where("pass = ? AND start_date <= ? AND end_date > ?", pass, now.UTC(), now.UTC()).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("event: claim lookup: %w", err)
	}

	var existing models.EventCode
	err = s.db.WithContext(ctx).Where("event_id = ? AND claimed_by = ?", ev.ID, userID).First(&existing).Error
	if err == nil {
		return &Claim{Event: ev, Code: existing.Code, Already: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("event: claim existing: %w", err)
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		var free models.EventCode
		err := s.db.WithContext(ctx).Where("event_id = ? AND claimed_by = ''", ev.ID).
			Order("created_at, code").First(&free).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCodesLeft
		}
		if err != nil {
			return nil, fmt.Errorf("event: claim free code: %w", err)
		}

		claimedAt := now.UTC()
		result := s.db.WithContext(ctx).Model(&models.EventCode{}).
			Where("code = ? AND claimed_by = ''", free.Code).
			Updates(map[string]interface{}{
				"claimed_by": userID,
				"claimed_at": claimedAt,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("event: claim code: %w", result.Error)
		}
		if result.RowsAffected == 1 {
			return &Claim{Event: ev, Code: free.Code}, nil
		}
	}
	return nil, fmt.Errorf("event: claim: lost %d races for event %d", claimAttempts, ev.ID)
}
