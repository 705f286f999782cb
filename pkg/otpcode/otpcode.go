package otpcode

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
)

// Generate returns a cryptographically random numeric code of the given length
func Generate(length int) (string, error) {
	code := ""
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += fmt.Sprintf("%d", n.Int64())
	}
	return code, nil
}

// Hasher produces one-way digests of codes. Only the digest is ever stored;
// the keyed HMAC keeps stolen rows useless without the server secret.
type Hasher struct {
	secret []byte
}

// NewHasher creates a Hasher with a server-side secret
func NewHasher(secret string) *Hasher {
	return &Hasher{secret: []byte(secret)}
}

// Hash returns the hex-encoded HMAC-SHA256 digest of a code
func (h *Hasher) Hash(code string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether code matches the stored digest. The comparison is
// constant-time so it leaks nothing beyond what the hash itself does.
func (h *Hasher) Verify(storedHash, code string) bool {
	expected := h.Hash(code)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(expected)) == 1
}
