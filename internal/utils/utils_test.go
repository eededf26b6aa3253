package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.True(t, IsValidKey(key), "bad key %q", key)
		seen[key] = true
	}
	// 36^6 keys, 500 draws: a collision is astronomically unlikely
	assert.Greater(t, len(seen), 490)
}

func TestIsValidKey(t *testing.T) {
	assert.True(t, IsValidKey("AB12CD"))
	assert.False(t, IsValidKey("ab12cd"))
	assert.False(t, IsValidKey("AB12C"))
	assert.False(t, IsValidKey("AB12CD7"))
	assert.False(t, IsValidKey("AB-2CD"))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, uint32(0), Millis(-time.Second))
	assert.Equal(t, uint32(1500), Millis(1500*time.Millisecond))
}

func TestSleepUntil(t *testing.T) {
	stop := make(chan struct{})
	assert.True(t, SleepUntil(time.Now().Add(10*time.Millisecond), stop))

	close(stop)
	start := time.Now()
	assert.False(t, SleepUntil(time.Now().Add(time.Hour), stop))
	assert.Less(t, time.Since(start), time.Second)
}
