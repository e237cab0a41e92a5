/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import (
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

var numberedFolder = regexp.MustCompile(`^(\d+)-`)

// ClassifyMedia returns the MIME type for a supported picture or clip.
// ok is false for anything that should be skipped.
func ClassifyMedia(filename string) (mime string, ok bool) {
	if isHidden(filename) {
		return "", false
	}
	mime, ok = mediaTypes[strings.ToLower(path.Ext(filename))]
	return mime, ok
}

// isHidden matches OS metadata files that archivers commonly include.
func isHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "__MACOSX" {
			return true
		}
	}
	base := path.Base(p)
	return base == ".DS_Store" || strings.HasPrefix(base, "._") || base == "Thumbs.db"
}

// DeriveStageTitle turns a folder name like 01-bolzano-ortisei into
// "Bolzano Ortisei". It returns "" when nothing is left after the prefix.
func DeriveStageTitle(folder string) string {
	name := numberedFolder.ReplaceAllString(folder, "")
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	return cases.Title(language.Italian, cases.NoLower).String(name)
}
