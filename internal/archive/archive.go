/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package archive gives read-only, path-addressed access to the entries of
// an in-memory ZIP upload.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrMalformedArchive is returned when a buffer cannot be read as a ZIP archive.
var ErrMalformedArchive = errors.New("malformed archive")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Archive is an opened ZIP. It is immutable after Load and safe for concurrent reads.
type Archive struct {
	order   []string
	entries map[string]*zip.File
	dirs    map[string]struct{}
}

// Load opens buf as a ZIP archive and indexes its file entries.
func Load(buf []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	a := &Archive{
		order:   make([]string, 0, len(zr.File)),
		entries: make(map[string]*zip.File, len(zr.File)),
		dirs:    make(map[string]struct{}),
	}

	for _, f := range zr.File {
		name, ok := normalize(f.Name)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q escapes archive root", ErrMalformedArchive, f.Name)
		}
		if name == "" {
			continue
		}
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") || strings.HasSuffix(f.Name, "\\") {
			a.dirs[name+"/"] = struct{}{}
			continue
		}
		if _, dup := a.entries[name]; dup {
			continue
		}
		a.entries[name] = f
		a.order = append(a.order, name)
	}

	return a, nil
}

// normalize converts an entry name to a clean forward-slash relative path.
// The second return value is false when the name points outside the root.
func normalize(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")
	if name == "" {
		return "", true
	}
	cleaned := path.Clean(name)
	if cleaned == "." {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}

// Paths lists file entries in archive order. Directory entries are omitted.
func (a *Archive) Paths() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// Len returns the number of file entries.
func (a *Archive) Len() int {
	return len(a.order)
}

// Has reports whether a file exists at p.
func (a *Archive) Has(p string) bool {
	name, ok := normalize(p)
	if !ok {
		return false
	}
	_, found := a.entries[name]
	return found
}

// ReadBytes returns the decompressed content of the file at p.
func (a *Archive) ReadBytes(p string) ([]byte, bool) {
	name, ok := normalize(p)
	if !ok {
		return nil, false
	}
	f, found := a.entries[name]
	if !found {
		return nil, false
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false
	}
	return data, true
}

// ReadText returns the file at p decoded as UTF-8 with any byte order mark removed.
func (a *Archive) ReadText(p string) (string, bool) {
	data, ok := a.ReadBytes(p)
	if !ok {
		return "", false
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), true
	}
	return string(data), true
}

// Dirs lists the explicit directory entries, each ending in a slash, sorted.
// Empty folders only show up here.
func (a *Archive) Dirs() []string {
	out := make([]string, 0, len(a.dirs))
	for d := range a.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// HasPrefix reports whether any file or directory entry lives under prefix.
func (a *Archive) HasPrefix(prefix string) bool {
	if prefix == "" {
		return len(a.order) > 0
	}
	prefix = strings.ReplaceAll(prefix, "\\", "/")
	prefix = strings.TrimLeft(prefix, "/")
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if _, ok := a.dirs[prefix]; ok {
		return true
	}
	for _, name := range a.order {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Size returns the uncompressed size of the file at p, or -1 when absent.
func (a *Archive) Size(p string) int64 {
	name, ok := normalize(p)
	if !ok {
		return -1
	}
	f, found := a.entries[name]
	if !found {
		return -1
	}
	return int64(f.UncompressedSize64)
}
