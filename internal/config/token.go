package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Keychain reads and writes secrets by service and account.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformKeychain struct{}

// NewKeychain returns the platform secret store: the macOS Keychain on
// darwin, a 0600 JSON file elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token of the local API, generating and
// storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(keychainService, apiTokenEntry); err == nil && tok != "" {
		return tok, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenEntry, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}

// SetGeneratorKey stores the generator API key in the secret store.
func SetGeneratorKey(kc Keychain, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("generator key must not be empty")
	}
	return kc.Set(keychainService, generatorKeyEntry, key)
}
