package utils

import (
	"crypto/rand"
	"math/big"
	"time"
)

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

const (
	KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	KeyLength   = 6
)

// GenerateKey returns a random room join key of KeyLength characters
// drawn from KeyAlphabet.
func GenerateKey() (string, error) {
	b := make([]byte, KeyLength)
	limit := big.NewInt(int64(len(KeyAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = KeyAlphabet[n.Int64()]
	}
	return string(b), nil
}

// IsValidKey checks the key format only, not whether a room exists.
func IsValidKey(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Millis converts a duration to whole milliseconds, never below zero.
func Millis(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d.Milliseconds())
}

// SleepUntil waits for the deadline or until stop is closed. It reports
// whether the deadline was reached.
func SleepUntil(deadline time.Time, stop <-chan struct{}) bool {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}
