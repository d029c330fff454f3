package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpLength = 6
	// OTPTTL is how long an issued code stays valid
	OTPTTL = 2 * time.Minute
	// bytes at or above this value are rejected so that b%10 is uniform
	otpByteLimit = 250
)

// consumeScript deletes the challenge only if it still holds the hash the
// caller verified against. A concurrent verify or a fresh issue in between
// makes it return 0.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func otpKey(identifier string) string {
	return "otp:" + identifier
}

// OTPStore issues and verifies one-time codes. Only an HMAC of each code is
// kept in Redis, under a key that expires with the challenge.
type OTPStore struct {
	rdb    redis.Cmdable
	secret []byte
	ttl    time.Duration
	random io.Reader
}

// NewOTPStore creates an OTP store keyed with the given HMAC secret
func NewOTPStore(rdb redis.Cmdable, secret string) *OTPStore {
	return &OTPStore{
		rdb:    rdb,
		secret: []byte(secret),
		ttl:    OTPTTL,
		random: rand.Reader,
	}
}

// Issue generates a fresh code for identifier, replacing any earlier
// challenge, and returns the plaintext code to the caller.
func (s *OTPStore) Issue(ctx context.Context, identifier string) (string, error) {
	code, err := generateOTPCode(s.random)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	if err := s.rdb.Set(ctx, otpKey(identifier), s.hashCode(code), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store otp challenge: %w", err)
	}
	return code, nil
}

// Verify checks candidate against the live challenge. A match consumes the
// challenge; a mismatch leaves it in place.
func (s *OTPStore) Verify(ctx context.Context, identifier, candidate string) error {
	key := otpKey(identifier)
	stored, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrChallengeNotFound
		}
		return fmt.Errorf("load otp challenge: %w", err)
	}

	if !hmac.Equal([]byte(stored), []byte(s.hashCode(candidate))) {
		return ErrChallengeMismatch
	}

	deleted, err := consumeScript.Run(ctx, s.rdb, []string{key}, stored).Int()
	if err != nil {
		return fmt.Errorf("consume otp challenge: %w", err)
	}
	if deleted == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

func (s *OTPStore) hashCode(code string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(code))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// generateOTPCode draws otpLength decimal digits from r, one byte per digit,
// discarding bytes >= otpByteLimit.
func generateOTPCode(r io.Reader) (string, error) {
	code := make([]byte, 0, otpLength)
	buf := make([]byte, otpLength)
	for len(code) < otpLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= otpByteLimit {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == otpLength {
				break
			}
		}
	}
	return string(code), nil
}
