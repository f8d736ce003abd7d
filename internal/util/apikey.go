package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	APIKeyPrefixLength = 8
	APIKeySecretLength = 32
	APIKeyFormat       = "lm_%s_%s"
)

func generateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func generateRandomString(length int) (string, error) {
	byteLength := (length*3 + 3) / 4
	b, err := generateRandomBytes(byteLength * 2)
	if err != nil {
		return "", err
	}

	str := base64.URLEncoding.EncodeToString(b)
	str = strings.ReplaceAll(str, "-", "")
	str = strings.ReplaceAll(str, "_", "")
	if len(str) > length {
		return str[:length], nil
	}

	return str, nil
}

// GenerateAPIKey returns a fresh key in the lm_<prefix>_<secret> format and its
// bcrypt hash, which is what the server is configured with.
func GenerateAPIKey() (fullKey string, keyHash string, err error) {
	prefix, err := generateRandomString(APIKeyPrefixLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate prefix: %w", err)
	}

	secret, err := generateRandomString(APIKeySecretLength)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	fullKey = fmt.Sprintf(APIKeyFormat, prefix, secret)
	keyHash, err = HashAPIKey(fullKey)
	if err != nil {
		return "", "", err
	}
	return fullKey, keyHash, nil
}

func HashAPIKey(fullKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

func CheckAPIKey(keyHash, fullKey string) bool {
	return bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(fullKey)) == nil
}

// WellFormedAPIKey reports whether key has the lm_<prefix>_<secret> shape.
func WellFormedAPIKey(key string) bool {
	parts := strings.SplitN(key, "_", 3)
	return len(parts) == 3 && parts[0] == "lm" && parts[1] != "" && parts[2] != ""
}
