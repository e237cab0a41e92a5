/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TripStatus is the publication state of a trip.
type TripStatus string

const (
	TripStatusDraft         TripStatus = "draft"
	TripStatusPendingReview TripStatus = "pending_review"
	TripStatusPublished     TripStatus = "published"
	TripStatusArchived      TripStatus = "archived"
)

// MediaType distinguishes pictures from clips.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Trip is a travel itinerary owned by a user. Batch imports always land as drafts.
type Trip struct {
	ID                 string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID             string     `gorm:"type:varchar(64);index" json:"user_id"`
	Title              string     `gorm:"type:varchar(100)" json:"title"`
	Summary            string     `gorm:"type:text" json:"summary"`
	Destination        string     `gorm:"type:varchar(100);index" json:"destination"`
	Theme              string     `gorm:"type:varchar(100)" json:"theme"`
	Characteristics    StringList `gorm:"type:text" json:"characteristics"`
	RecommendedSeasons StringList `gorm:"type:text" json:"recommended_seasons"`
	Tags               StringList `gorm:"type:text" json:"tags"`
	TravelDate         *time.Time `json:"travel_date,omitempty"`
	Status             TripStatus `gorm:"type:varchar(32);default:'draft';index" json:"status"`
	Media              MediaList  `gorm:"type:text" json:"media"`
	GPXFile            GPXFile    `gorm:"type:text" json:"gpx_file"`
	BatchJobID         string     `gorm:"type:varchar(36);index" json:"batch_job_id,omitempty"`
	Stages             []Stage    `gorm:"foreignKey:TripID;constraint:OnDelete:CASCADE" json:"stages"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Stage is one ordered leg of a trip.
type Stage struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TripID      string    `gorm:"type:varchar(36);uniqueIndex:idx_stages_trip_order,priority:1" json:"trip_id"`
	OrderIndex  int       `gorm:"uniqueIndex:idx_stages_trip_order,priority:2" json:"order_index"`
	Title       string    `gorm:"type:varchar(200)" json:"title"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	RouteType   string    `gorm:"type:varchar(100)" json:"route_type,omitempty"`
	Duration    string    `gorm:"type:varchar(100)" json:"duration,omitempty"`
	Media       MediaList `gorm:"type:text" json:"media"`
	GPXFile     GPXFile   `gorm:"type:text" json:"gpx_file"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MediaItem references an uploaded picture or clip.
type MediaItem struct {
	ID       string    `json:"id"`
	Type     MediaType `json:"type"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mime_type"`
	IsHero   bool      `json:"is_hero,omitempty"`
}

// GPXFile references an uploaded track. A zero value means no track.
type GPXFile struct {
	URL        string    `json:"url,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
}

// IsZero reports whether no track is attached.
func (g GPXFile) IsZero() bool { return g.URL == "" }

func (g GPXFile) Value() (driver.Value, error) {
	if g.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (g *GPXFile) Scan(value interface{}) error {
	*g = GPXFile{}
	raw, err := columnBytes(value, "GPXFile")
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, g)
}

// MediaList is a slice type with GORM scanner/valuer support.
type MediaList []MediaItem

func (m MediaList) Value() (driver.Value, error) {
	if m == nil {
		m = MediaList{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MediaList) Scan(value interface{}) error {
	*m = MediaList{}
	raw, err := columnBytes(value, "MediaList")
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, m)
}

// Hero returns the hero image, if any.
func (m MediaList) Hero() (MediaItem, bool) {
	for _, item := range m {
		if item.IsHero {
			return item, true
		}
	}
	return MediaItem{}, false
}

// StringList is a slice type with GORM scanner/valuer support.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(value interface{}) error {
	*s = StringList{}
	raw, err := columnBytes(value, "StringList")
	if err != nil || len(raw) == 0 {
		return err
	}
	return json.Unmarshal(raw, s)
}

func columnBytes(value interface{}, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("failed to unmarshal %s: %v", typeName, value)
	}
}
