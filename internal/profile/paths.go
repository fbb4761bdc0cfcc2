// Package profile manages the ~/.roomchat home directory shared by the
// daemon and the CLI client.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.roomchat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".roomchat")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DataDir returns the daemon's data directory for a profile.
func DataDir(name string) string {
	return filepath.Join(Dir(name), "data")
}

// DBPath returns the daemon's SQLite database path for a profile.
func DBPath(name string) string {
	return filepath.Join(DataDir(name), "roomchat.db")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// ServerLogPath returns the daemon log file path.
func ServerLogPath(name string) string {
	return filepath.Join(LogDir(name), "roomchatd.log")
}

// ClientLogPath returns the CLI client log file path.
func ClientLogPath(name string) string {
	return filepath.Join(LogDir(name), "roomchatctl.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		DataDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
