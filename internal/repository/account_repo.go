package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"gorm.io/gorm"
)

// AccountRepository handles database operations for dealer accounts
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new dealer account
func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByID finds an account by UUID
func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByDestination finds an account by email address or phone number.
// Returns (nil, nil) when no account matches; callers fold that into a
// generic response rather than surfacing it.
func (r *AccountRepository) FindByDestination(ctx context.Context, dest string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("email = ? OR phone = ?", dest, dest).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdatePasswordHash rewrites an account's password hash and bumps updated_at
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"password_hash": hash,
			"updated_at":    gorm.Expr("NOW()"),
		}).Error
}
