package utils

import (
	"RetinaTrack/cache"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"
)

// ResetCodes keeps password reset codes in the cache, one per email.
type ResetCodes struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewResetCodes(c cache.Cache, ttl time.Duration) *ResetCodes {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ResetCodes{cache: c, ttl: ttl}
}

// Generate returns a random 6-digit reset code.
func (r *ResetCodes) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (r *ResetCodes) Set(ctx context.Context, email, code string) error {
	return r.cache.Set(ctx, resetCodeKey(email), code, r.ttl)
}

// Verify reports whether code is the one stored for email.
func (r *ResetCodes) Verify(ctx context.Context, email, code string) (bool, error) {
	stored, err := r.cache.Get(ctx, resetCodeKey(email))
	if err != nil {
		return false, err
	}
	if stored == "" || code == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}

func (r *ResetCodes) Delete(ctx context.Context, email string) error {
	return r.cache.Delete(ctx, resetCodeKey(email))
}

func resetCodeKey(email string) string {
	return "reset_code:" + email
}
