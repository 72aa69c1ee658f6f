// Package paths provides centralized path resolution for tldr.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the name of the config file looked up locally and in BaseDir.
const ConfigFileName = "tldr.json"

// BaseDir returns the tldr base directory (~/.tldr).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tldr"), nil
}

// DataPath returns a path within the tldr data directory (~/.tldr/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config path.
// Priority: ./tldr.json (current dir) > ~/.tldr/tldr.json
// Returns ("", nil) if no config exists.
func ConfigPath() (string, error) {
	if _, err := os.Stat(ConfigFileName); err == nil {
		absPath, err := filepath.Abs(ConfigFileName)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}

	globalPath, err := DefaultConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", nil
}

// DefaultConfigPath returns the default location for new configs (~/.tldr/tldr.json).
func DefaultConfigPath() (string, error) {
	return DataPath(ConfigFileName)
}

// LockPath returns the lock file path for a mailbox identity such as
// "user@example.com@imap.gmail.com/INBOX". The identity is hashed so any
// characters are safe in a filename.
func LockPath(identity string) (string, error) {
	sum := sha256.Sum256([]byte(identity))
	return DataPath(filepath.Join("locks", hex.EncodeToString(sum[:8])+".lock"))
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
