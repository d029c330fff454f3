package auth

import "errors"

var (
	ErrRateLimited       = errors.New("otp request rate limited")
	ErrChallengeNotFound = errors.New("otp expired or not found")
	ErrChallengeMismatch = errors.New("otp code is not correct")
	ErrTokenInvalid      = errors.New("refresh token invalid")
	ErrTokenRevoked      = errors.New("refresh token revoked")
	ErrTokenExpired      = errors.New("refresh token expired")
	// ErrIntegrityViolation signals a broken uniqueness assumption (token hash
	// collision, player id already bound to another login key). Never retried.
	ErrIntegrityViolation = errors.New("integrity violation")
)
