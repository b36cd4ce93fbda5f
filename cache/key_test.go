package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	t.Run("test Matches", testMatches)
	t.Run("test MatchesWildcard", testMatchesWildcard)
}

func testMatches(t *testing.T) {
	key1 := NewKey("http://example.com/a.jpg", "100_100")
	key2 := NewKey("http://example.com/a.jpg", "100_100")
	key3 := NewKey("http://example.com/a.jpg", "200_200")
	key4 := NewKey("http://example.com/b.jpg", "100_100")

	assert.True(t, key1.Matches(key2))
	assert.False(t, key1.Matches(key3))
	assert.False(t, key1.Matches(key4))
}

func testMatchesWildcard(t *testing.T) {
	variantKey := NewKey("http://example.com/a.jpg", "100_100")
	wildcardKey := NewIdentifierKey("http://example.com/a.jpg")
	otherWildcard := NewIdentifierKey("http://example.com/b.jpg")

	// an unset variant matches any variant on the other side
	assert.True(t, wildcardKey.Matches(variantKey))
	assert.True(t, variantKey.Matches(wildcardKey))
	assert.True(t, wildcardKey.Matches(wildcardKey))
	assert.False(t, wildcardKey.Matches(otherWildcard))
}
