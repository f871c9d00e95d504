package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "graphdrive"

const configFileName = "config.json"

// DefaultPath returns the platform-standard location for the credentials
// file. Linux respects XDG_CONFIG_HOME; macOS uses Application Support;
// everything else falls back to ~/.config.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName, configFileName)
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}

		return filepath.Join(base, appName, configFileName)
	}
}
