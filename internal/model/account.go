package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account represents a dealer account in the directory. The verification
// core only reads it at issuance (existence check) and writes it once at
// reset finalization (password hash).
type Account struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DealerName   string    `json:"dealer_name" gorm:"size:100;not null"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Phone        string    `json:"phone" gorm:"uniqueIndex;size:10"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	IsActive     bool      `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// AccountResponse is the safe version of Account for API responses
type AccountResponse struct {
	ID         uuid.UUID `json:"id"`
	DealerName string    `json:"dealer_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToResponse converts Account to safe AccountResponse
func (a *Account) ToResponse() AccountResponse {
	return AccountResponse{
		ID:         a.ID,
		DealerName: a.DealerName,
		Email:      a.Email,
		Phone:      a.Phone,
		IsActive:   a.IsActive,
		CreatedAt:  a.CreatedAt,
	}
}
