package auth

import (
	"crypto/subtle"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier checks a candidate secret against the configured
// credential. Implementations must be safe for concurrent use.
type PasswordVerifier interface {
	Verify(candidate string) bool
}

// BcryptVerifier verifies candidates against a configured bcrypt digest.
type BcryptVerifier struct {
	digest []byte
}

// NewBcryptVerifier validates the digest up front and returns an error for
// a malformed or truncated one instead of silently degrading at login time.
func NewBcryptVerifier(digest string) (*BcryptVerifier, error) {
	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		return nil, fmt.Errorf("unusable bcrypt digest: %w", err)
	}
	return &BcryptVerifier{digest: []byte(digest)}, nil
}

// Verify reports whether candidate matches the configured digest.
func (v *BcryptVerifier) Verify(candidate string) bool {
	return bcrypt.CompareHashAndPassword(v.digest, []byte(candidate)) == nil
}

// PlainVerifier compares candidates against a plaintext secret in constant
// time. Intended only as a non-production fallback.
type PlainVerifier struct {
	secret []byte
}

// NewPlainVerifier creates a verifier for the given plaintext secret.
func NewPlainVerifier(secret string) *PlainVerifier {
	return &PlainVerifier{secret: []byte(secret)}
}

// Verify reports whether candidate equals the configured secret.
func (v *PlainVerifier) Verify(candidate string) bool {
	return subtle.ConstantTimeCompare(v.secret, []byte(candidate)) == 1
}

// denyAll rejects every candidate. Used when no credential is configured.
type denyAll struct{}

func (denyAll) Verify(string) bool { return false }

// SelectVerifier picks the verifier for the configured credential: a
// well-formed bcrypt hash wins, then a plaintext secret, otherwise every
// attempt fails closed.
func SelectVerifier(hash, plain string, logger *zap.Logger) PasswordVerifier {
	if hash != "" {
		v, err := NewBcryptVerifier(hash)
		if err == nil {
			return v
		}
		logger.Error("configured password hash rejected", zap.Error(err))
	}
	if plain != "" {
		logger.Warn("using plaintext password comparison; configure a bcrypt hash for production")
		return NewPlainVerifier(plain)
	}
	logger.Error("no usable login credential configured; all attempts will be denied")
	return denyAll{}
}
