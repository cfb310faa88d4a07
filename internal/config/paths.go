package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/docsim/docsim-client/internal/constants"
)

// EnvConfigDir overrides the config directory (used by tests and portable installs).
const EnvConfigDir = "DOCSIM_CONFIG_DIR"

// ConfigDir returns the platform-appropriate config directory.
//   - Windows: %APPDATA%\docsim
//   - Unix: ~/.config/docsim
func ConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, constants.AppName)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", constants.AppName)
	}
	return ""
}

// DefaultConfigPath returns the default INI config file path.
func DefaultConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return "docsim.ini"
	}
	return filepath.Join(dir, "config")
}

// DefaultTokenPath returns where 'config init' stores the bearer token.
func DefaultTokenPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "token")
}

// LogDirectory returns the directory for rotated log files.
//   - Windows: %LOCALAPPDATA%\docsim\logs
//   - Unix: ~/.config/docsim/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, constants.AppName, "logs")
		}
	}
	dir := ConfigDir()
	if dir == "" {
		return filepath.Join(os.TempDir(), constants.AppName+"-logs")
	}
	return filepath.Join(dir, "logs")
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}
