package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/pkg/auth"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidSession covers unknown, expired and rotated refresh tokens
var ErrInvalidSession = errors.New("invalid or expired session")

// accountFinder is the slice of the directory the session layer needs
type accountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
}

// SessionService mints access/refresh token pairs after a successful
// login verification. Refresh artifacts live in Redis and are single-use;
// logout blacklists the access token for its remaining lifetime.
type SessionService struct {
	jwtManager *auth.JWTManager
	rdb        *redis.Client
	accounts   accountFinder
	refreshTTL time.Duration
}

func NewSessionService(jwtManager *auth.JWTManager, rdb *redis.Client, accounts accountFinder, refreshTTL time.Duration) *SessionService {
	return &SessionService{
		jwtManager: jwtManager,
		rdb:        rdb,
		accounts:   accounts,
		refreshTTL: refreshTTL,
	}
}

// IssueSession creates an access JWT plus an opaque refresh artifact
func (s *SessionService) IssueSession(ctx context.Context, account *model.Account) (*model.SessionTokens, error) {
	access, err := s.jwtManager.GenerateToken(account.ID, account.Email, account.DealerName)
	if err != nil {
		return nil, err
	}

	refresh := uuid.NewString()
	if err := s.rdb.Set(ctx, "refresh:"+refresh, account.ID.String(), s.refreshTTL).Err(); err != nil {
		return nil, err
	}

	return &model.SessionTokens{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Refresh rotates a refresh artifact into a fresh token pair. The old
// artifact is deleted atomically, so replaying it fails.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*model.SessionTokens, error) {
	raw, err := s.rdb.GetDel(ctx, "refresh:"+refreshToken).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		log.Printf("❌ Session refresh: redis error: %v", err)
		return nil, ErrInternal
	}

	accountID, err := uuid.Parse(raw)
	if err != nil {
		return nil, ErrInvalidSession
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, ErrInvalidSession
	}

	return s.IssueSession(ctx, account)
}

// Logout blacklists the access token until it would have expired anyway
func (s *SessionService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.jwtManager.ValidateToken(accessToken)
	if err != nil {
		return err
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}

	return s.rdb.Set(ctx, "blacklist:"+accessToken, "revoked", remaining).Err()
}
