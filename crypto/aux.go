package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Sign computes an HMAC-SHA256 signature of data under key.
func Sign(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// Verify checks an HMAC-SHA256 signature in constant time.
func Verify(key, data, signature []byte) bool {
	expected := Sign(key, data)
	return hmac.Equal(expected, signature)
}

// ValidateFreshness accepts ts (ms since epoch) iff 0 <= now-ts <= maxAge,
// per spec.md §8 invariant 9. A timestamp in the future is rejected.
func ValidateFreshness(tsMillis int64, now time.Time, maxAge time.Duration) bool {
	ts := time.Unix(0, tsMillis*int64(time.Millisecond))
	delta := now.Sub(ts)
	if delta < 0 {
		return false
	}
	return delta <= maxAge
}

// NewMessageID generates base36(ms) ‖ "-" ‖ hex(8 random bytes), per
// spec.md §4.A.
func NewMessageID(now time.Time) (string, error) {
	ms := now.UnixNano() / int64(time.Millisecond)
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate message id randomness: %w", err)
	}
	return strconv.FormatInt(ms, 36) + "-" + hex.EncodeToString(buf), nil
}
