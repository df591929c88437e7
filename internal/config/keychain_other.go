//go:build !darwin

package config

import (
	"fmt"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "secrets.json")
}

// Secrets share the config file format, keyed "service.account".
func keychainGet(service, account string) ([]byte, error) {
	v, ok, err := newSecretFile(secretsFilePath()).GetString(service + "." + account)
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("secret %s/%s not found", service, account)
	}
	return []byte(v), nil
}

func keychainSet(service, account, value string) error {
	return newSecretFile(secretsFilePath()).SetString(service+"."+account, value)
}
