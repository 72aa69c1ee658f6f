package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	. "github.com/roelfdiedericks/tldr/internal/logging"
)

// DefaultBackupCount is the number of previous configs kept by WriteTemplate
// when overwriting.
const DefaultBackupCount = 5

// ErrConfigExists is returned by WriteTemplate when the target exists and
// overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

// Template returns the config written by `tldr init`: all defaults plus
// placeholders for the required values. Secrets are left empty so they can
// be supplied through the keyring or environment.
func Template() *Config {
	cfg := Defaults()
	cfg.Source.SenderEmail = "newsletter@example.com"
	cfg.Delivery.TargetEmail = "you@example.com"
	cfg.IMAP.Username = "you@gmail.com"
	return cfg
}

// WriteTemplate writes Template() to path with 0600 permissions. An existing
// file is kept unless overwrite is set, in which case it is rotated into
// path.bak, path.bak.1, ... first.
func WriteTemplate(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		if err := backup(path, DefaultBackupCount); err != nil {
			L_warn("config: backup failed, continuing with write", "error", err)
		}
	}
	if err := AtomicWriteJSON(path, Template(), 0600); err != nil {
		return err
	}
	L_info("config: template written", "path", path)
	return nil
}

// AtomicWriteJSON marshals data as indented JSON and writes it atomically.
func AtomicWriteJSON(path string, data interface{}, perm os.FileMode) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return AtomicWrite(path, append(raw, '\n'), perm)
}

// AtomicWrite writes data to a temp file in the same directory, syncs it and
// renames it over path, so readers see either the old or the new content.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tldr-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp to target: %w", err)
	}
	committed = true
	return nil
}

// backup shifts path.bak.N-1 -> path.bak.N ... path.bak -> path.bak.1 and
// copies path to path.bak. The oldest backup beyond maxBackups is dropped.
func backup(path string, maxBackups int) error {
	base := path + ".bak"
	if maxBackups > 1 {
		last := maxBackups - 1
		if err := os.Remove(fmt.Sprintf("%s.%d", base, last)); err != nil && !os.IsNotExist(err) {
			L_trace("config: failed to remove oldest backup", "error", err)
		}
		for i := last - 1; i >= 1; i-- {
			src := fmt.Sprintf("%s.%d", base, i)
			if err := os.Rename(src, fmt.Sprintf("%s.%d", base, i+1)); err != nil && !os.IsNotExist(err) {
				L_trace("config: failed to rotate backup", "src", src, "error", err)
			}
		}
		if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
			L_trace("config: failed to rotate .bak", "error", err)
		}
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	L_debug("config: created backup", "path", base)
	return nil
}
