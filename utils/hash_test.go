package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUtils(t *testing.T) {
	t.Run("test MakeHash", testMakeHash)
	t.Run("test IsExpired", testIsExpired)
	t.Run("test ExpiryFromNow", testExpiryFromNow)
}

func testMakeHash(t *testing.T) {
	hash1 := MakeHash("http://example.com/image1.jpg")
	hash2 := MakeHash("http://example.com/image1.jpg")
	hash3 := MakeHash("http://example.com/image2.jpg")

	assert.Equal(t, hash1, hash2)
	assert.NotEqual(t, hash1, hash3)
	assert.Len(t, hash1, 40)
	assert.Regexp(t, "^[0-9a-f]+$", hash1)
}

func testIsExpired(t *testing.T) {
	assert.False(t, IsExpired(0))
	assert.False(t, IsExpired(-1))

	past := time.Now().Add(-time.Minute).UnixMilli()
	assert.True(t, IsExpired(past))

	future := time.Now().Add(time.Minute).UnixMilli()
	assert.False(t, IsExpired(future))
}

func testExpiryFromNow(t *testing.T) {
	expiresAt := ExpiryFromNow(time.Hour)

	assert.Greater(t, expiresAt, NowMilliseconds())
	assert.False(t, IsExpired(expiresAt))
}
