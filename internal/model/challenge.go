package model

import (
	"time"

	"github.com/google/uuid"
)

// ChallengePurpose defines what a verification code is used for
type ChallengePurpose string

const (
	PurposeLogin         ChallengePurpose = "login"
	PurposePasswordReset ChallengePurpose = "password_reset"
)

// Valid reports whether the purpose is one of the known values
func (p ChallengePurpose) Valid() bool {
	return p == PurposeLogin || p == PurposePasswordReset
}

// Challenge represents one outstanding verification code tied to a
// destination and purpose. Only the code digest is stored; the plaintext
// code lives exactly as long as the dispatch call.
//
// At most one unconsumed row may exist per (destination, purpose). The
// store enforces this with a partial unique index, and issuing a new
// challenge consumes any prior active one in the same transaction.
type Challenge struct {
	ID            uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Destination   string           `json:"destination" gorm:"size:255;not null;index:idx_challenge_active,unique,where:consumed = false"`
	Purpose       ChallengePurpose `json:"purpose" gorm:"type:challenge_purpose;not null;index:idx_challenge_active,unique,where:consumed = false"`
	CodeHash      string           `json:"-" gorm:"size:64;not null"` // hex HMAC-SHA256, never the plaintext
	IssuedAt      time.Time        `json:"issued_at" gorm:"not null"`
	ExpiresAt     time.Time        `json:"expires_at" gorm:"not null;index"` // fixed at issuance, never extended
	AttemptCount  int              `json:"attempt_count" gorm:"not null;default:0"`
	MaxAttempts   int              `json:"max_attempts" gorm:"not null;default:3"`
	Consumed      bool             `json:"consumed" gorm:"not null;default:false"`
	VerifiedAt    *time.Time       `json:"verified_at"` // set on a correct reset code, before finalization
	LastResendAt  time.Time        `json:"last_resend_at" gorm:"not null"`
	RequestIP     string           `json:"-" gorm:"size:45"`
	RequestUA     string           `json:"-" gorm:"size:255;column:request_user_agent"`
	CreatedAt     time.Time        `json:"created_at"`
}

// IsExpired checks if the challenge has passed its expiry
func (c *Challenge) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// AttemptsLeft returns how many wrong guesses remain before the challenge burns
func (c *Challenge) AttemptsLeft() int {
	left := c.MaxAttempts - c.AttemptCount
	if left < 0 {
		return 0
	}
	return left
}

// IsVerifiedPending reports whether a reset code was matched but the
// password write has not happened yet
func (c *Challenge) IsVerifiedPending() bool {
	return c.VerifiedAt != nil && !c.Consumed
}

// IsActive checks if the challenge can still accept verification attempts
func (c *Challenge) IsActive() bool {
	return !c.Consumed && !c.IsExpired()
}
