/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import (
	"github.com/rideatlas/rideatlas/internal/archive"
	"github.com/rideatlas/rideatlas/internal/manifest"
)

// ValidateStructure checks the archive layout before the manifest is read.
// An empty result means parsing may proceed.
//
// Archive size is not checked here; uploads are capped at the HTTP boundary.
func ValidateStructure(a *archive.Archive) []string {
	var errs []string
	if !a.Has(manifest.FileName) {
		errs = append(errs, manifest.ErrMissingManifest.Error())
	}
	return errs
}
