package config

import (
	"os"
	"path/filepath"
)

// EnvConfigPath overrides the configuration file location.
const EnvConfigPath = "OLI_CONFIG"

// defaultFileName is the file looked up in the working directory and
// under the user config directory.
const defaultFileName = "oli.yaml"

// ResolvePath picks the configuration file to load. Precedence:
// explicit path, $OLI_CONFIG, ./oli.yaml, ~/.config/oli/oli.yaml.
// The empty return means no file was found and the built-in defaults
// apply.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	if _, err := os.Stat(defaultFileName); err == nil {
		return defaultFileName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "oli", defaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// LoadOrDefault loads the resolved file, or returns the built-in
// defaults when no file exists.
func LoadOrDefault(explicit string) (*Config, error) {
	path := ResolvePath(explicit)
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}
