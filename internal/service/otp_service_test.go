package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minhvudev/dealerdesk/internal/model"
	"github.com/minhvudev/dealerdesk/pkg/otpcode"
	"golang.org/x/crypto/bcrypt"
)

// ==================== In-memory fakes ====================

type memStore struct {
	rows []*model.Challenge
}

func (m *memStore) ReplaceActive(_ context.Context, ch *model.Challenge) error {
	for _, row := range m.rows {
		if row.Destination == ch.Destination && row.Purpose == ch.Purpose && !row.Consumed {
			row.Consumed = true
		}
	}
	cp := *ch
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memStore) FindActive(_ context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error) {
	for _, row := range m.rows {
		if row.Destination == dest && row.Purpose == purpose && !row.Consumed {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindLatest(_ context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error) {
	var latest *model.Challenge
	for _, row := range m.rows {
		if row.Destination != dest || row.Purpose != purpose {
			continue
		}
		if latest == nil || row.LastResendAt.After(latest.LastResendAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) IncrementAttempts(_ context.Context, ch *model.Challenge) error {
	for _, row := range m.rows {
		if row.ID == ch.ID {
			if row.Consumed {
				*ch = *row
				return nil
			}
			row.AttemptCount++
			ch.AttemptCount = row.AttemptCount
			return nil
		}
	}
	return errors.New("challenge not found")
}

func (m *memStore) Consume(_ context.Context, id uuid.UUID) (bool, error) {
	for _, row := range m.rows {
		if row.ID == id && !row.Consumed {
			row.Consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkVerified(_ context.Context, id uuid.UUID) error {
	for _, row := range m.rows {
		if row.ID == id && !row.Consumed {
			now := time.Now()
			row.VerifiedAt = &now
		}
	}
	return nil
}

func (m *memStore) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []*model.Challenge
	var removed int64
	for _, row := range m.rows {
		if row.ExpiresAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.rows = kept
	return removed, nil
}

// activeFor returns the stored (not copied) active row for direct inspection
func (m *memStore) activeFor(dest string, purpose model.ChallengePurpose) *model.Challenge {
	for _, row := range m.rows {
		if row.Destination == dest && row.Purpose == purpose && !row.Consumed {
			return row
		}
	}
	return nil
}

type memDirectory struct {
	accounts []*model.Account
}

func (m *memDirectory) FindByDestination(_ context.Context, dest string) (*model.Account, error) {
	for _, acc := range m.accounts {
		if acc.Email == dest || acc.Phone == dest {
			return acc, nil
		}
	}
	return nil, nil
}

func (m *memDirectory) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	for _, acc := range m.accounts {
		if acc.ID == id {
			acc.PasswordHash = hash
			return nil
		}
	}
	return errors.New("account not found")
}

type captureSender struct {
	calls    int
	lastDest string
	lastCode string
	fail     error
}

func (c *captureSender) SendCode(_ context.Context, dest, code string, _ model.ChallengePurpose) error {
	c.calls++
	if c.fail != nil {
		return c.fail
	}
	c.lastDest = dest
	c.lastCode = code
	return nil
}

type stubSessions struct {
	issued int
}

func (s *stubSessions) IssueSession(_ context.Context, account *model.Account) (*model.SessionTokens, error) {
	s.issued++
	return &model.SessionTokens{
		AccessToken:  "access-" + account.ID.String(),
		RefreshToken: "refresh-" + account.ID.String(),
	}, nil
}

// ==================== Harness ====================

const (
	testEmail    = "dealer@example.com"
	testPhone    = "0901234567"
	testPassword = "correct-horse"
)

type fixture struct {
	svc   *OTPService
	store *memStore
	dir   *memDirectory
	email *captureSender
	sms   *captureSender
	sess  *stubSessions
}

func newFixture(t *testing.T, policy ChallengePolicy) *fixture {
	t.Helper()

	hashed, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt setup: %v", err)
	}

	f := &fixture{
		store: &memStore{},
		dir: &memDirectory{accounts: []*model.Account{{
			ID:           uuid.New(),
			DealerName:   "Prime Motors",
			Email:        testEmail,
			Phone:        testPhone,
			PasswordHash: string(hashed),
			IsActive:     true,
		}}},
		email: &captureSender{},
		sms:   &captureSender{},
		sess:  &stubSessions{},
	}
	f.svc = NewOTPService(f.store, f.dir, f.email, f.sms, f.sess, otpcode.NewHasher("test-secret"), policy)
	return f
}

func testPolicy() ChallengePolicy {
	p := DefaultChallengePolicy()
	p.Cooldown = 0
	p.DispatchTimeout = time.Second
	return p
}

// ==================== Issuance ====================

func TestRequestChallengeUnknownDestination(t *testing.T) {
	f := newFixture(t, testPolicy())

	resp, err := f.svc.RequestChallenge(context.Background(), "nobody@example.com", model.PurposeLogin, RequestMeta{})
	if err != nil {
		t.Fatalf("RequestChallenge error: %v", err)
	}
	if resp.Message != sentMessage {
		t.Errorf("Message = %q, want the generic sent message", resp.Message)
	}
	if len(f.store.rows) != 0 {
		t.Errorf("unknown destination persisted %d row(s), want 0", len(f.store.rows))
	}
	if f.email.calls != 0 || f.sms.calls != 0 {
		t.Error("unknown destination must not trigger a dispatch")
	}
}

func TestRequestChallengeInactiveAccount(t *testing.T) {
	f := newFixture(t, testPolicy())
	f.dir.accounts[0].IsActive = false

	resp, err := f.svc.RequestChallenge(context.Background(), testEmail, model.PurposeLogin, RequestMeta{})
	if err != nil {
		t.Fatalf("RequestChallenge error: %v", err)
	}
	if resp.Message != sentMessage {
		t.Errorf("Message = %q, want the generic sent message", resp.Message)
	}
	if len(f.store.rows) != 0 || f.email.calls != 0 {
		t.Error("inactive account must be indistinguishable from an unknown destination")
	}
}

func TestRequestChallengeRoutesByKind(t *testing.T) {
	f := newFixture(t, testPolicy())

	if _, err := f.svc.RequestChallenge(context.Background(), testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("email issuance error: %v", err)
	}
	if f.email.calls != 1 || f.sms.calls != 0 {
		t.Errorf("email destination dispatched email=%d sms=%d, want 1/0", f.email.calls, f.sms.calls)
	}
	if len(f.email.lastCode) != 6 {
		t.Errorf("dispatched code %q, want 6 digits", f.email.lastCode)
	}

	if _, err := f.svc.RequestChallenge(context.Background(), testPhone, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("phone issuance error: %v", err)
	}
	if f.sms.calls != 1 {
		t.Errorf("phone destination dispatched sms=%d, want 1", f.sms.calls)
	}

	row := f.store.activeFor(testEmail, model.PurposeLogin)
	if row == nil {
		t.Fatal("no active challenge persisted for the email destination")
	}
	if row.CodeHash == f.email.lastCode {
		t.Error("plaintext code must never be stored")
	}
}

func TestRequestChallengeCooldown(t *testing.T) {
	policy := testPolicy()
	policy.Cooldown = 60 * time.Second
	f := newFixture(t, policy)

	if _, err := f.svc.RequestChallenge(context.Background(), testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("first issuance error: %v", err)
	}

	_, err := f.svc.RequestChallenge(context.Background(), testEmail, model.PurposeLogin, RequestMeta{})
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("second issuance error = %v, want ThrottledError", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > 61 {
		t.Errorf("RetryAfter = %d, want a positive wait within the cooldown", throttled.RetryAfter)
	}
	if f.email.calls != 1 {
		t.Errorf("throttled issuance dispatched %d time(s), want 1", f.email.calls)
	}
}

func TestRequestChallengeSupersedesPrior(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("first issuance error: %v", err)
	}
	oldCode := f.email.lastCode

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("second issuance error: %v", err)
	}
	newCode := f.email.lastCode

	active := 0
	for _, row := range f.store.rows {
		if !row.Consumed {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("%d active rows after reissue, want exactly 1", active)
	}

	if oldCode != newCode {
		if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, oldCode); !errors.Is(err, ErrInvalidOrExpired) {
			if _, ok := err.(*CodeMismatchError); !ok {
				t.Errorf("superseded code verify error = %v, want rejection", err)
			}
		}
	}

	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, newCode); err != nil {
		t.Errorf("latest code verify error = %v, want success", err)
	}
}

func TestRequestChallengeDispatchFailure(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()
	f.email.fail = errors.New("smtp connection refused")

	_, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{})
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("error = %v, want ErrDispatchFailed", err)
	}
	if f.store.activeFor(testEmail, model.PurposeLogin) == nil {
		t.Fatal("undelivered challenge row must stay persisted")
	}

	// The next issuance supersedes the undelivered row
	f.email.fail = nil
	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("retry issuance error: %v", err)
	}
	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, f.email.lastCode); err != nil {
		t.Errorf("verify after retry error = %v, want success", err)
	}
}

// ==================== Verification ====================

func TestVerifyLoginIssuesSessionOnce(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode

	resp, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, code)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("login verification must return a token pair")
	}
	if f.sess.issued != 1 {
		t.Errorf("sessions issued = %d, want 1", f.sess.issued)
	}

	// Replaying the same correct code must fail
	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("replay error = %v, want ErrInvalidOrExpired", err)
	}
	if f.sess.issued != 1 {
		t.Errorf("sessions issued after replay = %d, want 1", f.sess.issued)
	}
}

func TestVerifyWrongCodeBurnsAtCeiling(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}

	for i, wantLeft := range []int{2, 1} {
		_, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, wrong)
		var mismatch *CodeMismatchError
		if !errors.As(err, &mismatch) {
			t.Fatalf("wrong guess %d error = %v, want CodeMismatchError", i+1, err)
		}
		if mismatch.AttemptsLeft != wantLeft {
			t.Errorf("wrong guess %d AttemptsLeft = %d, want %d", i+1, mismatch.AttemptsLeft, wantLeft)
		}
	}

	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, wrong); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("guess at ceiling error = %v, want ErrAttemptsExceeded", err)
	}

	// Even the correct code is dead once the challenge burned; a burned
	// unexpired challenge keeps reporting the ceiling
	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, code); !errors.Is(err, ErrAttemptsExceeded) {
		t.Errorf("correct code after burn error = %v, want ErrAttemptsExceeded", err)
	}
	if f.sess.issued != 0 {
		t.Errorf("sessions issued = %d, want 0", f.sess.issued)
	}
}

func TestVerifyExpiredChallenge(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	row := f.store.activeFor(testEmail, model.PurposeLogin)
	row.ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, f.email.lastCode); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expired verify error = %v, want ErrInvalidOrExpired", err)
	}
	// Expiry is lazy, the row is rejected without being rewritten
	if row.Consumed {
		t.Error("expired challenge must not be mutated on rejection")
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	f := newFixture(t, testPolicy())

	if _, err := f.svc.VerifyChallenge(context.Background(), testEmail, model.PurposeLogin, "123456"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("verify with no challenge error = %v, want ErrInvalidOrExpired", err)
	}
}

// staleActiveStore serves a pinned pre-consumption snapshot from
// FindActive, reproducing a reader that loaded the row before a
// concurrent writer consumed it
type staleActiveStore struct {
	*memStore
	stale *model.Challenge
}

func (s *staleActiveStore) FindActive(ctx context.Context, dest string, purpose model.ChallengePurpose) (*model.Challenge, error) {
	if s.stale != nil {
		cp := *s.stale
		return &cp, nil
	}
	return s.memStore.FindActive(ctx, dest, purpose)
}

func TestVerifyLoginConsumeRaceLoser(t *testing.T) {
	f := newFixture(t, testPolicy())
	store := &staleActiveStore{memStore: f.store}
	svc := NewOTPService(store, f.dir, f.email, f.sms, f.sess, otpcode.NewHasher("test-secret"), testPolicy())
	ctx := context.Background()

	if _, err := svc.RequestChallenge(ctx, testEmail, model.PurposeLogin, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode
	snapshot := *f.store.activeFor(testEmail, model.PurposeLogin)

	if _, err := svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, code); err != nil {
		t.Fatalf("winning verify error: %v", err)
	}
	if f.sess.issued != 1 {
		t.Fatalf("sessions issued = %d, want 1", f.sess.issued)
	}

	// The loser read the row before the winner consumed it, passes
	// validation, but must not win consumption a second time
	store.stale = &snapshot
	if _, err := svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("losing verify error = %v, want ErrInvalidOrExpired", err)
	}
	if f.sess.issued != 1 {
		t.Errorf("sessions issued after lost race = %d, want 1", f.sess.issued)
	}
}

func TestFinalizeResetConsumeRaceLoser(t *testing.T) {
	f := newFixture(t, testPolicy())
	store := &staleActiveStore{memStore: f.store}
	svc := NewOTPService(store, f.dir, f.email, f.sms, f.sess, otpcode.NewHasher("test-secret"), testPolicy())
	ctx := context.Background()

	if _, err := svc.RequestChallenge(ctx, testEmail, model.PurposePasswordReset, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode
	snapshot := *f.store.activeFor(testEmail, model.PurposePasswordReset)

	if err := svc.FinalizeReset(ctx, testEmail, code, "winner-password"); err != nil {
		t.Fatalf("winning finalize error: %v", err)
	}

	store.stale = &snapshot
	if err := svc.FinalizeReset(ctx, testEmail, code, "loser-password"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("losing finalize error = %v, want ErrInvalidOrExpired", err)
	}

	// The password was rewritten exactly once, by the winner
	acc := f.dir.accounts[0]
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("winner-password")) != nil {
		t.Error("password must hold the winning finalization's value")
	}
}

// ==================== Password reset ====================

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposePasswordReset, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode

	resp, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposePasswordReset, code)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if resp.AccessToken != "" {
		t.Error("reset verification must not mint a session")
	}

	row := f.store.activeFor(testEmail, model.PurposePasswordReset)
	if row == nil || row.VerifiedAt == nil {
		t.Fatal("verified reset challenge must stay active with verified_at set")
	}

	// Re-verifying with the correct code is an idempotent success
	if _, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposePasswordReset, code); err != nil {
		t.Fatalf("re-verify error = %v, want idempotent success", err)
	}

	if err := f.svc.FinalizeReset(ctx, testEmail, code, "brand-new-password"); err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	if !row.Consumed {
		t.Error("finalization must consume the challenge")
	}
	acc := f.dir.accounts[0]
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("brand-new-password")) != nil {
		t.Error("account password hash was not rewritten to the new password")
	}

	// Finalization is exactly-once
	if err := f.svc.FinalizeReset(ctx, testEmail, code, "another-password"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Errorf("replayed finalize error = %v, want ErrInvalidOrExpired", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte("brand-new-password")) != nil {
		t.Error("replayed finalize must not change the password again")
	}
}

func TestFinalizeResetWrongCode(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.RequestChallenge(ctx, testEmail, model.PurposePasswordReset, RequestMeta{}); err != nil {
		t.Fatalf("issuance error: %v", err)
	}
	code := f.email.lastCode
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	before := f.dir.accounts[0].PasswordHash

	err := f.svc.FinalizeReset(ctx, testEmail, wrong, "brand-new-password")
	var mismatch *CodeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("finalize with wrong code error = %v, want CodeMismatchError", err)
	}
	if f.dir.accounts[0].PasswordHash != before {
		t.Error("wrong code must not change the password")
	}
}

// ==================== Login ====================

func TestLogin(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	if _, err := f.svc.Login(ctx, testEmail, "wrong-password", RequestMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.svc.Login(ctx, "nobody@example.com", testPassword, RequestMeta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown destination error = %v, want ErrInvalidCredentials", err)
	}
	if len(f.store.rows) != 0 {
		t.Fatal("failed logins must not issue challenges")
	}

	if _, err := f.svc.Login(ctx, testEmail, testPassword, RequestMeta{}); err != nil {
		t.Fatalf("login error: %v", err)
	}
	if f.store.activeFor(testEmail, model.PurposeLogin) == nil {
		t.Fatal("successful password check must issue a login challenge")
	}

	resp, err := f.svc.VerifyChallenge(ctx, testEmail, model.PurposeLogin, f.email.lastCode)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("login verification must return tokens")
	}
}

// ==================== Housekeeping ====================

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, testPolicy())
	ctx := context.Background()

	f.store.rows = append(f.store.rows,
		&model.Challenge{ID: uuid.New(), Destination: testEmail, Purpose: model.PurposeLogin,
			ExpiresAt: time.Now().Add(-48 * time.Hour), Consumed: true},
		&model.Challenge{ID: uuid.New(), Destination: testPhone, Purpose: model.PurposeLogin,
			ExpiresAt: time.Now().Add(time.Minute)},
	)

	f.svc.SweepExpired(ctx, 24*time.Hour)
	if len(f.store.rows) != 1 {
		t.Fatalf("%d rows after sweep, want 1", len(f.store.rows))
	}
	if f.store.rows[0].Destination != testPhone {
		t.Error("sweep removed the wrong row")
	}
}
