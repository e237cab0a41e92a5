/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import "strings"

// ParsedMediaAsset is a supported picture or clip extracted from the archive.
type ParsedMediaAsset struct {
	Filename string `json:"filename" yaml:"filename"`
	Path     string `json:"path" yaml:"path"`
	MimeType string `json:"mimeType" yaml:"mimeType"`
	IsHero   bool   `json:"isHero" yaml:"isHero"`
	Data     []byte `json:"-" yaml:"-"`
}

// IsImage reports whether the asset is a picture.
func (m ParsedMediaAsset) IsImage() bool {
	return strings.HasPrefix(m.MimeType, "image/")
}

// ParsedGPXAsset is a track file. Its content is not inspected.
type ParsedGPXAsset struct {
	Filename string `json:"filename" yaml:"filename"`
	Path     string `json:"path" yaml:"path"`
	Data     []byte `json:"-" yaml:"-"`
}

// ParsedStage is one stage folder merged with its manifest metadata.
type ParsedStage struct {
	OrderIndex  int                `json:"orderIndex" yaml:"orderIndex"`
	Title       string             `json:"title" yaml:"title"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	RouteType   string             `json:"routeType,omitempty" yaml:"routeType,omitempty"`
	Duration    string             `json:"duration,omitempty" yaml:"duration,omitempty"`
	Media       []ParsedMediaAsset `json:"media" yaml:"media"`
	GPXFile     *ParsedGPXAsset    `json:"gpxFile" yaml:"gpxFile"`
	FolderName  string             `json:"folderName" yaml:"folderName"`
}

// ParsedTrip is one manifest trip with the assets found in its folder.
type ParsedTrip struct {
	Title              string             `json:"title" yaml:"title"`
	Summary            string             `json:"summary" yaml:"summary"`
	Destination        string             `json:"destination" yaml:"destination"`
	Theme              string             `json:"theme" yaml:"theme"`
	Characteristics    []string           `json:"characteristics" yaml:"characteristics"`
	RecommendedSeasons []string           `json:"recommended_seasons" yaml:"recommended_seasons"`
	Tags               []string           `json:"tags" yaml:"tags"`
	TravelDate         string             `json:"travelDate,omitempty" yaml:"travelDate,omitempty"`
	Media              []ParsedMediaAsset `json:"media" yaml:"media"`
	GPXFile            *ParsedGPXAsset    `json:"gpxFile" yaml:"gpxFile"`
	Stages             []ParsedStage      `json:"stages" yaml:"stages"`
	// FolderName is empty for single-trip archives.
	FolderName string `json:"folderName" yaml:"folderName"`
}

// Hero returns the trip's hero image, or nil.
func (t *ParsedTrip) Hero() *ParsedMediaAsset {
	for i := range t.Media {
		if t.Media[i].IsHero {
			return &t.Media[i]
		}
	}
	return nil
}

// AssetCount returns the number of files the trip will upload.
func (t *ParsedTrip) AssetCount() int {
	n := len(t.Media)
	if t.GPXFile != nil {
		n++
	}
	for _, s := range t.Stages {
		n += len(s.Media)
		if s.GPXFile != nil {
			n++
		}
	}
	return n
}

// AssetBytes returns the total size of the files the trip will upload.
func (t *ParsedTrip) AssetBytes() int64 {
	var n int64
	for _, m := range t.Media {
		n += int64(len(m.Data))
	}
	if t.GPXFile != nil {
		n += int64(len(t.GPXFile.Data))
	}
	for _, s := range t.Stages {
		for _, m := range s.Media {
			n += int64(len(m.Data))
		}
		if s.GPXFile != nil {
			n += int64(len(s.GPXFile.Data))
		}
	}
	return n
}

// ParsedBatch is the in-memory result of parsing an archive.
type ParsedBatch struct {
	// Metadata is the decoded manifest document as uploaded.
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
	Trips    []ParsedTrip   `json:"trips" yaml:"trips"`
}
