package auth

import "strings"

// Normalize canonicalizes a raw phone number or email into the identifier
// used for OTP state, rate limiting and player identity.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
