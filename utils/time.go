package utils

import "time"

// NowMilliseconds returns the current time in milliseconds since the epoch
func NowMilliseconds() int64 {
	return time.Now().UnixMilli()
}

// ExpiryFromNow returns an expiry timestamp the given duration from now,
// in milliseconds since the epoch
func ExpiryFromNow(ttl time.Duration) int64 {
	return time.Now().Add(ttl).UnixMilli()
}

// IsExpired checks if the given expiry timestamp has passed.
// Zero or negative timestamps mean no expiry.
func IsExpired(expiresAt int64) bool {
	if expiresAt <= 0 {
		return false
	}

	return expiresAt < time.Now().UnixMilli()
}
