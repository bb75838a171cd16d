package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestKeyDeterministic verifies that the cache key is a pure function of
// (user, trimmed content).
func TestKeyDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "user")
		content := rapid.String().Draw(t, "content")

		key1 := Key(userID, content)
		key2 := Key(userID, content)
		require.Equal(t, key1, key2)

		// Leading/trailing whitespace must not change the key.
		padded := "  " + content + "\n\t"
		require.Equal(t, key1, Key(userID, padded))

		require.True(t, strings.HasPrefix(key1, UserPrefix(userID)))
	})
}

// TestKeyUserScoped verifies that distinct users never collide, even with
// byte-identical content.
func TestKeyUserScoped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userA := rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "userA")
		userB := rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(t, "userB")
		if userA == userB {
			return
		}

		content := rapid.String().Draw(t, "content")
		require.NotEqual(t, Key(userA, content), Key(userB, content))
	})
}

// TestKeyContentSensitive verifies that different normalized content yields
// different keys for the same user.
func TestKeyContentSensitive(t *testing.T) {
	require.NotEqual(
		t,
		Key("user", "some text"),
		Key("user", "some other text"),
	)
}
