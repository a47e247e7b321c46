package utils

import "time"

const blacklistPrefix = "jwt:blacklist:"

// BlacklistToken revokes a token until its natural expiration so logout takes
// effect immediately. The cache TTL does the cleanup.
func BlacklistToken(c Cache, token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	c.SetBytes(blacklistPrefix+token, []byte("1"), ttl)
}

// IsTokenBlacklisted reports whether the token was revoked before expiring.
func IsTokenBlacklisted(c Cache, token string) bool {
	_, ok := c.GetBytes(blacklistPrefix + token)
	return ok
}
