package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"gorm.io/gorm"
)

// ChallengeRepository handles database operations for verification challenges
type ChallengeRepository struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// ReplaceActive consumes any active challenge for (destination, purpose)
// and inserts the new one. Both steps run in one transaction so a
// concurrent verifier can never observe two active rows for the same pair.
func (r *ChallengeRepository) ReplaceActive(ctx context.Context, ch *model.Challenge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Challenge{}).
			Where("destination = ? AND purpose = ? AND NOT consumed", ch.Destination, ch.Purpose).
			Update("consumed", true).Error; err != nil {
			return err
		}
		return tx.Create(ch).Error
	})
}

// FindActive loads the single unconsumed challenge for (destination, purpose).
// Returns (nil, nil) when none exists; expiry is checked by the caller so
// an expired row needs no mutation.
func (r *ChallengeRepository) FindActive(ctx context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error) {
	var ch model.Challenge
	err := r.db.WithContext(ctx).
		Where("destination = ? AND purpose = ? AND NOT consumed", dest, purpose).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// FindLatest returns the most recently issued challenge for
// (destination, purpose) regardless of state. Used for the resend cooldown.
func (r *ChallengeRepository) FindLatest(ctx context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error) {
	var ch model.Challenge
	err := r.db.WithContext(ctx).
		Where("destination = ? AND purpose = ?", dest, purpose).
		Order("last_resend_at DESC").
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// IncrementAttempts adds one wrong attempt to the challenge. The guard on
// the current count serializes concurrent increments so parallel wrong
// guesses cannot under-count and slip past the ceiling. ch is refreshed
// with the winning state.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, ch *model.Challenge) error {
	for retry := 0; retry < 3; retry++ {
		res := r.db.WithContext(ctx).Model(&model.Challenge{}).
			Where("id = ? AND attempt_count = ? AND NOT consumed", ch.ID, ch.AttemptCount).
			Update("attempt_count", gorm.Expr("attempt_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			ch.AttemptCount++
			return nil
		}

		// Lost the race; reload and try again against the fresh count
		var fresh model.Challenge
		if err := r.db.WithContext(ctx).First(&fresh, "id = ?", ch.ID).Error; err != nil {
			return err
		}
		*ch = fresh
		if fresh.Consumed {
			return nil
		}
	}
	return errors.New("attempt counter contention")
}

// Consume marks a challenge as terminally used. The NOT consumed guard
// turns consumption into a race exactly one concurrent caller can win;
// the return value reports whether this caller won it.
func (r *ChallengeRepository) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Challenge{}).
		Where("id = ? AND NOT consumed", id).
		Update("consumed", true)
	return res.RowsAffected == 1, res.Error
}

// MarkVerified records that a reset code matched but finalization is still
// pending. The row stays active so FinalizeReset can re-validate it.
func (r *ChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Challenge{}).
		Where("id = ? AND NOT consumed", id).
		Update("verified_at", now).Error
}

// DeleteStale removes challenge rows that expired before the cutoff
// (housekeeping only; correctness never depends on this running)
func (r *ChallengeRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&model.Challenge{})
	return res.RowsAffected, res.Error
}
