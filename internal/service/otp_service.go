package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/pkg/destination"
	"github.com/minhvudev/dealerdesk/pkg/otpcode"
	"golang.org/x/crypto/bcrypt"
)

// ChallengeStore persists verification challenges. It is the single point
// of coordination between concurrent issuers and verifiers.
type ChallengeStore interface {
	ReplaceActive(ctx context.Context, ch *model.Challenge) error
	FindActive(ctx context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error)
	FindLatest(ctx context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error)
	IncrementAttempts(ctx context.Context, ch *model.Challenge) error
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// AccountDirectory resolves destinations to dealer accounts and rewrites
// password hashes at reset finalization
type AccountDirectory interface {
	FindByDestination(ctx context.Context, dest string) (*model.Account, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

// CodeSender delivers a plaintext code to a destination. Implementations
// must return an error (not swallow it) on delivery failure.
type CodeSender interface {
	SendCode(ctx context.Context, dest, code string, purpose model.ChallengePurpose) error
}

// SessionIssuer mints bearer tokens once a login verification succeeds
type SessionIssuer interface {
	IssueSession(ctx context.Context, account *model.Account) (*model.SessionTokens, error)
}

// Coarse failure categories. Everything the verifier could distinguish
// internally (missing row, expired, consumed, wrong code on a dead
// challenge) collapses into ErrInvalidOrExpired before reaching a client.
var (
	ErrInvalidOrExpired   = errors.New("invalid or expired code")
	ErrAttemptsExceeded   = errors.New("too many incorrect attempts, request a new code")
	ErrDispatchFailed     = errors.New("could not send the verification code, please try again later")
	ErrInvalidCredentials = errors.New("invalid email/phone or password")
	ErrInternal           = errors.New("something went wrong, please try again later")
)

// ThrottledError reports an issuance inside the cooldown window. Revealing
// the wait is safe: it leaks timing, never account existence.
type ThrottledError struct {
	RetryAfter int // seconds
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("a code was sent recently, retry in %d seconds", e.RetryAfter)
}

// CodeMismatchError reports a wrong guess against a live challenge
type CodeMismatchError struct {
	AttemptsLeft int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("invalid or expired code (%d attempts remaining)", e.AttemptsLeft)
}

// ChallengePolicy bundles the tunable limits of the verification core
type ChallengePolicy struct {
	CodeLength      int
	Expiry          time.Duration
	Cooldown        time.Duration
	MaxAttempts     int
	DispatchTimeout time.Duration
	DebugLogCodes   bool // development-only sink, never persisted
}

// DefaultChallengePolicy returns the production defaults
func DefaultChallengePolicy() ChallengePolicy {
	return ChallengePolicy{
		CodeLength:      6,
		Expiry:          5 * time.Minute,
		Cooldown:        60 * time.Second,
		MaxAttempts:     3,
		DispatchTimeout: 10 * time.Second,
	}
}

// RequestMeta carries request attribution recorded on each challenge
type RequestMeta struct {
	IP        string
	UserAgent string
}

const sentMessage = "If the destination matches a dealer account, a verification code has been sent"

// OTPService implements the verification core: challenge issuance,
// verification, and password-reset finalization
type OTPService struct {
	store       ChallengeStore
	directory   AccountDirectory
	emailSender CodeSender
	smsSender   CodeSender
	sessions    SessionIssuer
	hasher      *otpcode.Hasher
	policy      ChallengePolicy
}

func NewOTPService(
	store ChallengeStore,
	directory AccountDirectory,
	emailSender CodeSender,
	smsSender CodeSender,
	sessions SessionIssuer,
	hasher *otpcode.Hasher,
	policy ChallengePolicy,
) *OTPService {
	return &OTPService{
		store:       store,
		directory:   directory,
		emailSender: emailSender,
		smsSender:   smsSender,
		sessions:    sessions,
		hasher:      hasher,
		policy:      policy,
	}
}

// ==================== Issuance ====================

// RequestChallenge creates and dispatches a new verification code for
// (destination, purpose). Destinations without a matching active account
// get the same success-shaped response with no persisted side effect.
func (s *OTPService) RequestChallenge(ctx context.Context, rawDest string, purpose model.ChallengePurpose, meta RequestMeta) (*model.ChallengeSentResponse, error) {
	dest, kind, err := destination.Normalize(rawDest)
	if err != nil {
		return nil, err
	}

	sent := &model.ChallengeSentResponse{
		Message:     sentMessage,
		Destination: destination.Mask(dest),
		ExpiresIn:   int(s.policy.Expiry.Seconds()),
	}

	account, err := s.directory.FindByDestination(ctx, dest)
	if err != nil {
		log.Printf("❌ Challenge issuance: directory lookup failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrInternal
	}
	if account == nil || !account.IsActive {
		// No row written, identical response shape
		return sent, nil
	}

	latest, err := s.store.FindLatest(ctx, dest, purpose)
	if err != nil {
		log.Printf("❌ Challenge issuance: store lookup failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrInternal
	}
	if latest != nil {
		if wait := s.policy.Cooldown - time.Since(latest.LastResendAt); wait > 0 {
			return nil, &ThrottledError{RetryAfter: int(wait.Seconds()) + 1}
		}
	}

	code, err := otpcode.Generate(s.policy.CodeLength)
	if err != nil {
		return nil, ErrInternal
	}

	now := time.Now()
	ch := &model.Challenge{
		ID:           uuid.New(),
		Destination:  dest,
		Purpose:      purpose,
		CodeHash:     s.hasher.Hash(code),
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.policy.Expiry),
		MaxAttempts:  s.policy.MaxAttempts,
		LastResendAt: now,
		RequestIP:    meta.IP,
		RequestUA:    meta.UserAgent,
	}
	if err := s.store.ReplaceActive(ctx, ch); err != nil {
		log.Printf("❌ Challenge issuance: persist failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrInternal
	}

	if s.policy.DebugLogCodes {
		log.Printf("🔑 [debug] code %s issued to %s (%s)", code, destination.Mask(dest), purpose)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.policy.DispatchTimeout)
	defer cancel()
	if err := s.senderFor(kind).SendCode(dispatchCtx, dest, code, purpose); err != nil {
		// The undelivered row stays put; the next request supersedes it
		// through ReplaceActive, so its code can never be guessed into use
		log.Printf("❌ Code dispatch failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrDispatchFailed
	}

	log.Printf("📨 Verification code sent to %s (%s)", destination.Mask(dest), purpose)
	return sent, nil
}

func (s *OTPService) senderFor(kind destination.Kind) CodeSender {
	if kind == destination.KindPhone {
		return s.smsSender
	}
	return s.emailSender
}

// ==================== Verification ====================

// VerifyChallenge validates a supplied code. A correct login code consumes
// the challenge and mints a session; a correct reset code leaves the
// challenge pending for FinalizeReset.
func (s *OTPService) VerifyChallenge(ctx context.Context, rawDest string, purpose model.ChallengePurpose, code string) (*model.VerifyChallengeResponse, error) {
	dest, _, err := destination.Normalize(rawDest)
	if err != nil {
		return nil, ErrInvalidOrExpired
	}

	ch, err := s.checkActive(ctx, dest, purpose, code)
	if err != nil {
		return nil, err
	}

	switch purpose {
	case model.PurposeLogin:
		won, err := s.store.Consume(ctx, ch.ID)
		if err != nil {
			log.Printf("❌ Challenge consume failed for %s: %v", destination.Mask(dest), err)
			return nil, ErrInternal
		}
		if !won {
			// A concurrent verifier consumed the challenge between our read
			// and this write; only the winner gets a session
			return nil, ErrInvalidOrExpired
		}
		account, err := s.directory.FindByDestination(ctx, dest)
		if err != nil || account == nil {
			log.Printf("❌ Session hand-off: account gone for %s: %v", destination.Mask(dest), err)
			return nil, ErrInvalidOrExpired
		}
		tokens, err := s.sessions.IssueSession(ctx, account)
		if err != nil {
			log.Printf("❌ Session issuance failed for %s: %v", destination.Mask(dest), err)
			return nil, ErrInternal
		}
		log.Printf("✅ Login verified for %s", destination.Mask(dest))
		return &model.VerifyChallengeResponse{
			Message:      "Login verified",
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		}, nil

	case model.PurposePasswordReset:
		// Re-verifying a pending challenge with the correct code is an
		// idempotent success; FinalizeReset re-validates everything anyway
		if ch.VerifiedAt == nil {
			if err := s.store.MarkVerified(ctx, ch.ID); err != nil {
				log.Printf("❌ Challenge verify-mark failed for %s: %v", destination.Mask(dest), err)
				return nil, ErrInternal
			}
		}
		return &model.VerifyChallengeResponse{
			Message: "Code verified, submit your new password to finish the reset",
		}, nil
	}

	return nil, ErrInvalidOrExpired
}

// checkActive runs the full validation pass shared by VerifyChallenge and
// FinalizeReset: active row present, unexpired, under the attempt ceiling,
// hash match. Wrong guesses increment the serialized attempt counter;
// reaching the ceiling burns the challenge for good.
func (s *OTPService) checkActive(ctx context.Context, dest string, purpose model.ChallengePurpose, code string) (*model.Challenge, error) {
	ch, err := s.store.FindActive(ctx, dest, purpose)
	if err != nil {
		log.Printf("❌ Challenge lookup failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrInternal
	}
	if ch == nil {
		// No active row. If the most recent one burned at the attempt
		// ceiling and has not expired yet, keep reporting that; everything
		// else collapses into the generic rejection.
		latest, err := s.store.FindLatest(ctx, dest, purpose)
		if err != nil {
			log.Printf("❌ Challenge lookup failed for %s: %v", destination.Mask(dest), err)
			return nil, ErrInternal
		}
		if latest != nil && latest.Consumed && latest.AttemptCount >= latest.MaxAttempts && !latest.IsExpired() {
			return nil, ErrAttemptsExceeded
		}
		return nil, ErrInvalidOrExpired
	}
	if ch.IsExpired() {
		return nil, ErrInvalidOrExpired
	}

	if ch.AttemptCount >= ch.MaxAttempts {
		if _, err := s.store.Consume(ctx, ch.ID); err != nil {
			log.Printf("❌ Challenge burn failed for %s: %v", destination.Mask(dest), err)
		}
		return nil, ErrAttemptsExceeded
	}

	if !s.hasher.Verify(ch.CodeHash, code) {
		if err := s.store.IncrementAttempts(ctx, ch); err != nil {
			log.Printf("❌ Attempt increment failed for %s: %v", destination.Mask(dest), err)
			return nil, ErrInternal
		}
		if ch.Consumed || ch.AttemptCount >= ch.MaxAttempts {
			if _, err := s.store.Consume(ctx, ch.ID); err != nil {
				log.Printf("❌ Challenge burn failed for %s: %v", destination.Mask(dest), err)
			}
			return nil, ErrAttemptsExceeded
		}
		return nil, &CodeMismatchError{AttemptsLeft: ch.AttemptsLeft()}
	}

	return ch, nil
}

// ==================== Reset finalization ====================

// FinalizeReset re-validates the code in full and rewrites the account
// password. The re-check is what makes finalization exactly-once: a
// consumed, burned or expired challenge can never be replayed into a
// password change.
func (s *OTPService) FinalizeReset(ctx context.Context, rawDest, code, newPassword string) error {
	dest, _, err := destination.Normalize(rawDest)
	if err != nil {
		return ErrInvalidOrExpired
	}

	ch, err := s.checkActive(ctx, dest, model.PurposePasswordReset, code)
	if err != nil {
		return err
	}

	won, err := s.store.Consume(ctx, ch.ID)
	if err != nil {
		log.Printf("❌ Challenge consume failed for %s: %v", destination.Mask(dest), err)
		return ErrInternal
	}
	if !won {
		// Lost the consumption race to a concurrent finalizer; the password
		// was (or is being) rewritten exactly once by the winner
		return ErrInvalidOrExpired
	}

	account, err := s.directory.FindByDestination(ctx, dest)
	if err != nil || account == nil {
		log.Printf("❌ Reset finalization: account gone for %s: %v", destination.Mask(dest), err)
		return ErrInvalidOrExpired
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return ErrInternal
	}
	if err := s.directory.UpdatePasswordHash(ctx, account.ID, string(hashed)); err != nil {
		log.Printf("❌ Password write failed for %s: %v", destination.Mask(dest), err)
		return ErrInternal
	}

	log.Printf("🔒 Password reset completed for %s", destination.Mask(dest))
	return nil
}

// ==================== Login ====================

// Login checks the password and, on success, issues a login-purpose
// challenge to the same destination. The session is only minted once
// VerifyChallenge sees the correct code.
func (s *OTPService) Login(ctx context.Context, rawDest, password string, meta RequestMeta) (*model.ChallengeSentResponse, error) {
	dest, _, err := destination.Normalize(rawDest)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	account, err := s.directory.FindByDestination(ctx, dest)
	if err != nil {
		log.Printf("❌ Login: directory lookup failed for %s: %v", destination.Mask(dest), err)
		return nil, ErrInternal
	}
	if account == nil || !account.IsActive {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.RequestChallenge(ctx, dest, model.PurposeLogin, meta)
}

// ==================== Housekeeping ====================

// SweepExpired deletes challenge rows that expired before the retention
// window. Correctness never depends on it; it only keeps the table small.
func (s *OTPService) SweepExpired(ctx context.Context, retention time.Duration) {
	n, err := s.store.DeleteStale(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Printf("⚠️  Challenge sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("🧹 Swept %d stale challenge rows", n)
	}
}
