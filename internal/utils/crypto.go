package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// UsernameRandomLength is the length of the random suffix for usernames
	UsernameRandomLength = 8
	// PasswordLength is the length of generated passwords
	PasswordLength = 32
	// Alphanumeric characters for generating credentials
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateSecureUsername generates a secure username with format: admin_<8-random-chars>
func GenerateSecureUsername() (string, error) {
	randomSuffix, err := generateRandomString(UsernameRandomLength, alphanumeric)
	if err != nil {
		return "", fmt.Errorf("failed to generate username: %w", err)
	}
	return "admin_" + randomSuffix, nil
}

// GenerateSecurePassword generates a 32-character random alphanumeric password
func GenerateSecurePassword() (string, error) {
	password, err := generateRandomString(PasswordLength, alphanumeric)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return password, nil
}

// generateRandomString generates a random string of specified length using given charset
func generateRandomString(length int, charset string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	if len(charset) == 0 {
		return "", fmt.Errorf("charset cannot be empty")
	}

	// Create byte slice for random data
	randomBytes := make([]byte, length)

	// max is the largest multiple of len(charset) that fits in a byte;
	// bytes landing above it are discarded and redrawn so every charset
	// index is equally likely (plain modulo would bias low indices whenever
	// 256 isn't a multiple of len(charset)).
	max := 256 - (256 % len(charset))

	randomByte := make([]byte, 1)
	for i := 0; i < length; i++ {
		for {
			if _, err := rand.Read(randomByte); err != nil {
				return "", fmt.Errorf("failed to read random data: %w", err)
			}
			if int(randomByte[0]) < max {
				break
			}
		}
		randomBytes[i] = charset[int(randomByte[0])%len(charset)]
	}

	return string(randomBytes), nil
}

// GenerateSecureToken generates a cryptographically secure random token
// encoded as base64. This can be used for API tokens, session IDs, etc.
func GenerateSecureToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	// Generate random bytes
	tokenBytes := make([]byte, length)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	// Encode as base64 URL-safe (no padding)
	return base64.RawURLEncoding.EncodeToString(tokenBytes), nil
}
