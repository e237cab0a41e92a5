/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manifest

// FileName is the manifest entry every batch archive carries at its root.
const FileName = "viaggi.json"

// Seasons accepted in recommended_seasons.
const (
	SeasonSpring = "Primavera"
	SeasonSummer = "Estate"
	SeasonAutumn = "Autunno"
	SeasonWinter = "Inverno"
)

// Limits enforced by the embedded schema.
const (
	MaxTrips  = 10
	MaxStages = 20
)

// StageManifest carries optional metadata for one stage folder.
type StageManifest struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	RouteType   string `json:"routeType,omitempty" yaml:"routeType,omitempty"`
	Duration    string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// TripManifest is the metadata of one trip as declared in viaggi.json.
type TripManifest struct {
	Title              string          `json:"title" yaml:"title"`
	Summary            string          `json:"summary" yaml:"summary"`
	Destination        string          `json:"destination" yaml:"destination"`
	Theme              string          `json:"theme" yaml:"theme"`
	Characteristics    []string        `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
	RecommendedSeasons []string        `json:"recommended_seasons" yaml:"recommended_seasons"`
	Tags               []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	TravelDate         string          `json:"travelDate,omitempty" yaml:"travelDate,omitempty"`
	Stages             []StageManifest `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Manifest is a decoded and validated viaggi.json.
//
// A document with a top-level "viaggi" array is a multi-trip batch; any other
// object is a single trip. Trips always holds the trips in declaration order.
type Manifest struct {
	Multi bool
	Trips []TripManifest
	// Raw is the decoded document before any normalization.
	Raw map[string]any
}

// Len returns the number of trips declared.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Trips)
}
