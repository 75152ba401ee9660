package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateAPIKey generates a random API key with the given prefix.
// Format: prefix_randomhex
// Example: bo_live_a1b2c3d4e5f6...
func GenerateAPIKey(prefix string) (string, error) {
	b := make([]byte, 32) // 64 char hex
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b)), nil
}

// GenerateLiveKey generates a live API key: bo_live_xxx
func GenerateLiveKey() (string, error) {
	return GenerateAPIKey("bo_live")
}

// GenerateSandboxKey generates a sandbox API key: bo_sandbox_xxx
func GenerateSandboxKey() (string, error) {
	return GenerateAPIKey("bo_sandbox")
}
