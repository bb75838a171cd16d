package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key computes the content-addressed cache key for a user's submission:
// "summary:<userID>:<sha256(trimmed content)>". The user ID prefix scopes
// every entry to the submitting user, so two users submitting identical
// text never share a cache slot — the cache is a privacy boundary, not a
// cross-user dedup optimization.
func Key(userID, content string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(content)))

	return fmt.Sprintf(
		"summary:%s:%s", userID, hex.EncodeToString(digest[:]),
	)
}

// UserPrefix returns the key prefix shared by all of a user's cache
// entries, used for bulk invalidation.
func UserPrefix(userID string) string {
	return fmt.Sprintf("summary:%s:", userID)
}
