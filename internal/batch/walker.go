/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package batch

import (
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rideatlas/rideatlas/internal/archive"
	"github.com/rideatlas/rideatlas/internal/manifest"
)

// Archive layout names.
const (
	MediaDir     = "media"
	StagesDir    = "tappe"
	TripGPXName  = "main.gpx"
	StageGPXName = "tappa.gpx"
)

// Parse walks the archive and builds one ParsedTrip per manifest trip.
//
// Multi-trip batches match top-level folders to manifest trips by leading
// number: trip i owns the folder numbered i+1, or i when the archive numbers
// from 00. A trip whose folder is missing gets no assets; gaps are never
// shifted onto later trips.
func Parse(a *archive.Archive, m *manifest.Manifest) (*ParsedBatch, error) {
	if a == nil {
		return nil, errors.New("archive is nil")
	}
	if m == nil || m.Len() == 0 {
		return nil, errors.New("manifest has no trips")
	}

	paths := a.Paths()
	// Directory entries make empty numbered folders visible.
	listing := append(append([]string{}, paths...), a.Dirs()...)
	out := &ParsedBatch{
		Metadata: m.Raw,
		Trips:    make([]ParsedTrip, 0, m.Len()),
	}

	var folders map[uint64]string
	var base uint64 = 1
	if m.Multi {
		folders = make(map[uint64]string)
		for _, name := range numberedChildren(listing, "") {
			n := leadingNumber(name)
			if _, taken := folders[n]; !taken {
				folders[n] = name
			}
		}
		if _, ok := folders[0]; ok {
			base = 0
		}
	}

	for i, tm := range m.Trips {
		trip := tripFromManifest(tm)

		if !m.Multi {
			fillTrip(a, paths, listing, "", tm, &trip)
		} else if folder, ok := folders[base+uint64(i)]; ok {
			trip.FolderName = folder
			fillTrip(a, paths, listing, folder+"/", tm, &trip)
		}

		out.Trips = append(out.Trips, trip)
	}

	return out, nil
}

func tripFromManifest(tm manifest.TripManifest) ParsedTrip {
	return ParsedTrip{
		Title:              tm.Title,
		Summary:            tm.Summary,
		Destination:        tm.Destination,
		Theme:              tm.Theme,
		Characteristics:    nonNil(tm.Characteristics),
		RecommendedSeasons: nonNil(tm.RecommendedSeasons),
		Tags:               nonNil(tm.Tags),
		TravelDate:         tm.TravelDate,
		Media:              []ParsedMediaAsset{},
		Stages:             []ParsedStage{},
	}
}

func fillTrip(a *archive.Archive, paths, listing []string, prefix string, tm manifest.TripManifest, trip *ParsedTrip) {
	trip.Media = collectMedia(a, paths, prefix+MediaDir+"/")
	for i := range trip.Media {
		if trip.Media[i].IsImage() {
			trip.Media[i].IsHero = true
			break
		}
	}

	trip.GPXFile = readGPX(a, prefix+TripGPXName)

	stagesPrefix := prefix + StagesDir + "/"
	for idx, folder := range numberedChildren(listing, stagesPrefix) {
		stagePrefix := stagesPrefix + folder + "/"
		stage := ParsedStage{
			OrderIndex: idx,
			FolderName: folder,
			Media:      collectMedia(a, paths, stagePrefix+MediaDir+"/"),
			GPXFile:    readGPX(a, stagePrefix+StageGPXName),
		}
		if idx < len(tm.Stages) {
			sm := tm.Stages[idx]
			stage.Title = strings.TrimSpace(sm.Title)
			stage.Description = sm.Description
			stage.RouteType = sm.RouteType
			stage.Duration = sm.Duration
		}
		if stage.Title == "" {
			stage.Title = DeriveStageTitle(folder)
		}
		if stage.Title == "" {
			stage.Title = fmt.Sprintf("Tappa %d", idx+1)
		}
		trip.Stages = append(trip.Stages, stage)
	}
}

// collectMedia returns supported files under dir in archive order.
func collectMedia(a *archive.Archive, paths []string, dir string) []ParsedMediaAsset {
	assets := []ParsedMediaAsset{}
	for _, p := range paths {
		if !strings.HasPrefix(p, dir) || len(p) == len(dir) {
			continue
		}
		mime, ok := ClassifyMedia(p)
		if !ok {
			continue
		}
		data, ok := a.ReadBytes(p)
		if !ok {
			continue
		}
		assets = append(assets, ParsedMediaAsset{
			Filename: path.Base(p),
			Path:     p,
			MimeType: mime,
			Data:     data,
		})
	}
	return assets
}

func readGPX(a *archive.Archive, p string) *ParsedGPXAsset {
	data, ok := a.ReadBytes(p)
	if !ok {
		return nil
	}
	return &ParsedGPXAsset{Filename: path.Base(p), Path: p, Data: data}
}

// numberedChildren lists the distinct NN-name directories directly under
// prefix, sorted by their leading number and then by name. Entries may be file
// paths or directory entries ending in a slash.
func numberedChildren(paths []string, prefix string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, p := range paths {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		slash := strings.IndexByte(rest, '/')
		if slash <= 0 {
			continue
		}
		name := rest[:slash]
		if !numberedFolder.MatchString(name) || isHidden(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ni, nj := leadingNumber(names[i]), leadingNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names
}

func leadingNumber(name string) uint64 {
	m := numberedFolder.FindStringSubmatch(name)
	if m == nil {
		return math.MaxUint64
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return math.MaxUint64
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
