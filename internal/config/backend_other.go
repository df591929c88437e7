//go:build !darwin

package config

import "path/filepath"

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// SecretHint tells users where the generator key can be stored.
func SecretHint() string {
	return secretsFilePath()
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json"))
}
