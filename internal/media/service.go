/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rideatlas/rideatlas/internal/config"
)

// Storage abstracts where uploaded objects end up.
type Storage interface {
	Store(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of key. URL("") is the common prefix of every URL.
	URL(key string) string
	CheckAccess(ctx context.Context) error
}

// Service stores batch assets and hands back their public URLs.
type Service struct {
	storage Storage
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService picks S3 when a bucket is configured, the filesystem otherwise.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "media").Logger()

	var storage Storage
	if cfg.S3Bucket != "" {
		s3cfg := S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			UsePathStyle:    cfg.S3UsePathStyle,
		}
		if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
			logger.Warn().Msg("S3 credentials not configured, falling back to the default AWS credential chain")
		}

		s3Storage, err := NewS3Storage(context.Background(), s3cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		storage = s3Storage
	} else {
		storage = NewFilesystemStorage(cfg.MediaRoot, publicPrefix(cfg.BaseURL, cfg.MediaURLPrefix), logger)
	}

	return NewServiceWithStorage(storage, logger), nil
}

// NewServiceWithStorage wraps an existing backend.
func NewServiceWithStorage(storage Storage, logger zerolog.Logger) *Service {
	return &Service{storage: storage, logger: logger, now: time.Now}
}

// Put stores data under a fresh key derived from filename and returns its URL.
func (s *Service) Put(ctx context.Context, data []byte, filename string) (string, error) {
	key := buildObjectKey(s.now(), uuid.NewString(), filename)
	if err := s.storage.Store(ctx, key, contentTypeFor(filename), bytes.NewReader(data), int64(len(data))); err != nil {
		s.logger.Error().Err(err).Str("key", key).Str("filename", filename).Msg("media store failed")
		return "", fmt.Errorf("store %s: %w", filename, err)
	}

	s.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("media stored")
	return s.storage.URL(key), nil
}

// Remove deletes an object previously returned by Put.
func (s *Service) Remove(ctx context.Context, url string) error {
	prefix := s.storage.URL("")
	if !strings.HasPrefix(url, prefix) {
		return fmt.Errorf("url %q is not managed by this storage", url)
	}
	key := strings.TrimPrefix(url, prefix)
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("media delete failed")
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// CheckStorageAccess verifies that the storage backend is reachable.
func (s *Service) CheckStorageAccess(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildObjectKey lays out keys as batch/<yyyy>/<mm>/<id>-<safe name>.
func buildObjectKey(now time.Time, id, filename string) string {
	return fmt.Sprintf("batch/%04d/%02d/%s-%s", now.Year(), int(now.Month()), id, safeFilename(filename))
}

// safeFilename keeps lowercase ASCII letters, digits, dots, dashes and underscores.
func safeFilename(name string) string {
	name = strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "file"
	}
	return out
}

func contentTypeFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".gpx":
		return "application/gpx+xml"
	case ".mov":
		return "video/quicktime"
	case ".webp":
		return "image/webp"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func publicPrefix(baseURL, urlPrefix string) string {
	prefix := "/" + strings.Trim(urlPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	return strings.TrimRight(baseURL, "/") + prefix + "/"
}
