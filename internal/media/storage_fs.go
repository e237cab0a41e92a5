/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FilesystemStorage implements Storage on a local directory served over HTTP.
type FilesystemStorage struct {
	rootDir   string
	urlPrefix string
	logger    zerolog.Logger
}

// NewFilesystemStorage creates a filesystem-based storage backend. urlPrefix is
// prepended to keys to build public URLs and should end with a slash.
func NewFilesystemStorage(rootDir, urlPrefix string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{
		rootDir:   rootDir,
		urlPrefix: urlPrefix,
		logger:    logger,
	}
}

// Store writes body to rootDir/key.
func (fs *FilesystemStorage) Store(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	dest, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(dest, body); err != nil {
		dest.Close()
		os.Remove(fullPath)
		return fmt.Errorf("write file: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("close file: %w", err)
	}

	fs.logger.Debug().Str("path", fullPath).Msg("filesystem storage: file stored")
	return nil
}

// Delete removes rootDir/key. Missing files are not an error.
func (fs *FilesystemStorage) Delete(_ context.Context, key string) error {
	fullPath, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// URL returns the public URL of key.
func (fs *FilesystemStorage) URL(key string) string {
	return fs.urlPrefix + key
}

// List walks every file below rootDir/prefix. A missing prefix directory
// lists nothing.
func (fs *FilesystemStorage) List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error {
	start := filepath.Join(fs.rootDir, filepath.FromSlash(prefix))
	err := filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(fs.rootDir, path)
		if err != nil {
			return err
		}
		return fn(ObjectInfo{Key: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// CheckAccess verifies the storage directory exists and is a directory.
func (fs *FilesystemStorage) CheckAccess(_ context.Context) error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("media root directory does not exist: %s", fs.rootDir)
		}
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", fs.rootDir)
	}
	return nil
}

// resolve maps key below rootDir and refuses keys that would leave it.
func (fs *FilesystemStorage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.rootDir, clean), nil
}
