package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewJWTManager("unit-test-secret", 15*time.Minute)
	accountID := uuid.New()

	token, err := manager.GenerateToken(accountID, "dealer@example.com", "Prime Motors")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken error: %v", err)
	}
	if claims.AccountID != accountID {
		t.Errorf("AccountID = %s, want %s", claims.AccountID, accountID)
	}
	if claims.Email != "dealer@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "dealer@example.com")
	}
	if claims.DealerName != "Prime Motors" {
		t.Errorf("DealerName = %q, want %q", claims.DealerName, "Prime Motors")
	}
	if claims.Issuer != "dealerdesk" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "dealerdesk")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	manager := NewJWTManager("secret-one", 15*time.Minute)
	other := NewJWTManager("secret-two", 15*time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "dealer@example.com", "Prime Motors")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	if _, err := other.ValidateToken(token); err == nil {
		t.Error("token signed with another secret must not validate")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	manager := NewJWTManager("unit-test-secret", -time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "dealer@example.com", "Prime Motors")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	if _, err := manager.ValidateToken(token); err == nil {
		t.Error("expired token must not validate")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	manager := NewJWTManager("unit-test-secret", 15*time.Minute)
	if _, err := manager.ValidateToken("not.a.token"); err == nil {
		t.Error("malformed token must not validate")
	}
}
