/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrListingUnsupported is returned when the backend cannot enumerate objects.
var ErrListingUnsupported = errors.New("storage backend cannot list objects")

// batchPrefix is the key prefix every batch upload lives under.
const batchPrefix = "batch/"

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Lister is implemented by backends that can enumerate their objects.
type Lister interface {
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
}

// ReferenceSource reports every asset URL still attached to a trip or stage.
type ReferenceSource interface {
	ReferencedURLs(ctx context.Context) (map[string]struct{}, error)
}

// ScanResult summarizes one orphan sweep.
type ScanResult struct {
	TotalObjects int           `json:"totalObjects"`
	Skipped      int           `json:"skipped"`
	Orphans      []ObjectInfo  `json:"orphans"`
	OrphanBytes  int64         `json:"orphanBytes"`
	Removed      int           `json:"removed"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// OrphanScanner finds uploaded batch assets that no trip references, usually
// left behind when a process died between upload and insert.
type OrphanScanner struct {
	svc    *Service
	refs   ReferenceSource
	minAge time.Duration
	logger zerolog.Logger
}

// NewOrphanScanner creates a scanner. Objects younger than minAge are skipped
// since a running job may still reference them.
func NewOrphanScanner(svc *Service, refs ReferenceSource, minAge time.Duration, logger zerolog.Logger) *OrphanScanner {
	return &OrphanScanner{
		svc:    svc,
		refs:   refs,
		minAge: minAge,
		logger: logger.With().Str("component", "orphan_scanner").Logger(),
	}
}

// Scan lists batch objects and reports the unreferenced ones. With remove set
// they are deleted as well; a failed delete is counted and the sweep goes on.
func (s *OrphanScanner) Scan(ctx context.Context, remove bool) (*ScanResult, error) {
	lister, ok := s.svc.storage.(Lister)
	if !ok {
		return nil, ErrListingUnsupported
	}

	start := s.svc.now()
	result := &ScanResult{}

	known, err := s.refs.ReferencedURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load referenced urls: %w", err)
	}
	s.logger.Debug().Int("referenced", len(known)).Msg("loaded referenced media")

	cutoff := start.Add(-s.minAge)
	err = lister.List(ctx, batchPrefix, func(obj ObjectInfo) error {
		result.TotalObjects++
		if obj.ModTime.After(cutoff) {
			result.Skipped++
			return nil
		}
		if _, ok := known[s.svc.storage.URL(obj.Key)]; ok {
			return nil
		}

		result.Orphans = append(result.Orphans, obj)
		result.OrphanBytes += obj.Size
		if !remove {
			return nil
		}
		if err := s.svc.storage.Delete(ctx, obj.Key); err != nil {
			s.logger.Warn().Err(err).Str("key", obj.Key).Msg("failed to delete orphan")
			result.Errors++
			return nil
		}
		result.Removed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	result.Duration = s.svc.now().Sub(start)
	s.logger.Info().
		Int("total_objects", result.TotalObjects).
		Int("orphans", len(result.Orphans)).
		Int("removed", result.Removed).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("orphan scan complete")

	return result, nil
}
