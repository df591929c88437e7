//go:build darwin

package config

import (
	"os"
	"path/filepath"
)

const defaultsDomain = "com.timeledger.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "timeledger")
	}
	return "timeledger-data"
}

// SecretHint tells users where the generator key can be stored.
func SecretHint() string {
	return "macOS Keychain (service: " + keychainService + ", account: " + generatorKeyEntry + ")"
}

func newPlatformBackend() ConfigBackend {
	return newDefaultsBackend(defaultsDomain, runDefaults)
}
