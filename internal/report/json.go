// Package report форматирует найденные пролёты: текст для терминала, JSON-документ
// для веб-интерфейса и выгрузку набора элементов.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/art-injener/starpass/internal/tracker"
)

const (
	utcLayout   = "2006-01-02T15:04:05Z"
	localLayout = "2006-01-02T15:04:05"
)

// Document JSON-документ с пролётами.
type Document struct {
	GeneratedAt string         `json:"generated_at"`
	Observer    ObserverInfo   `json:"observer"`
	Parameters  ParametersInfo `json:"parameters"`
	TotalPasses int            `json:"total_passes"`
	Passes      []PassJSON     `json:"passes"`
}

// ObserverInfo наблюдатель в документе.
type ObserverInfo struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name"`
}

// ParametersInfo параметры расчёта в документе.
type ParametersInfo struct {
	MaxDistanceKm  float64 `json:"max_distance_km"`
	HoursAhead     float64 `json:"hours_ahead"`
	TimezoneOffset int     `json:"timezone_offset"`
}

// PassJSON пролёт в документе. Время округлено для отображения.
type PassJSON struct {
	Satellite             string  `json:"satellite"`
	NoradID               int     `json:"norad_id"`
	StartTimeUTC          string  `json:"start_time_utc"`
	StartTimeLocal        string  `json:"start_time_local"`
	MaxElevationTimeLocal string  `json:"max_elevation_time_local"`
	EndTimeLocal          string  `json:"end_time_local"`
	MaxElevation          float64 `json:"max_elevation"`
	MinDistanceKm         float64 `json:"min_distance_km"`
	DurationSeconds       float64 `json:"duration_seconds"`
	DurationMinutes       float64 `json:"duration_minutes"`
	VisibilityRating      int     `json:"visibility_rating"`
	VisibilityCategory    string  `json:"visibility_category"`
	StartAzimuth          float64 `json:"start_azimuth"`
	StartDirection        string  `json:"start_direction"`
	MovementAzimuth       float64 `json:"movement_azimuth"`
	MovementDirection     string  `json:"movement_direction"`
}

// NewDocument собирает документ. tzOffset в часах, now момент генерации.
func NewDocument(passes []tracker.PassRecord, obs ObserverInfo, params tracker.SearchParams, tzOffset int, now time.Time) *Document {
	doc := &Document{
		GeneratedAt: now.UTC().Format(utcLayout),
		Observer:    obs,
		Parameters: ParametersInfo{
			MaxDistanceKm:  params.MaxDistanceKm,
			HoursAhead:     params.HoursAhead,
			TimezoneOffset: tzOffset,
		},
		TotalPasses: len(passes),
		Passes:      make([]PassJSON, 0, len(passes)),
	}

	for _, p := range passes {
		doc.Passes = append(doc.Passes, NewPassJSON(p, tzOffset))
	}

	return doc
}

// NewPassJSON переводит пролёт в JSON-представление.
func NewPassJSON(p tracker.PassRecord, tzOffset int) PassJSON {
	return PassJSON{
		Satellite:             p.Satellite,
		NoradID:               p.NoradID,
		StartTimeUTC:          p.StartTime.UTC().Format(utcLayout),
		StartTimeLocal:        Local(p.StartTime, tzOffset).Format(localLayout),
		MaxElevationTimeLocal: Local(p.MaxElevationTime, tzOffset).Format(localLayout),
		EndTimeLocal:          Local(p.EndTime, tzOffset).Format(localLayout),
		MaxElevation:          round(p.MaxElevation, 1),
		MinDistanceKm:         round(p.MinDistanceKm, 0),
		DurationSeconds:       p.Duration.Seconds(),
		DurationMinutes:       round(p.Duration.Minutes(), 1),
		VisibilityRating:      p.VisibilityRating,
		VisibilityCategory:    string(p.VisibilityCategory),
		StartAzimuth:          round(p.StartAzimuth, 1),
		StartDirection:        p.StartDirection,
		MovementAzimuth:       round(p.MovementAzimuth, 1),
		MovementDirection:     p.MovementDirection,
	}
}

// WriteJSON пишет документ с отступами.
func (d *Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding passes document: %w", err)
	}
	return nil
}

// Local сдвигает момент в фиксированную зону UTC+offset.
func Local(t time.Time, offsetHours int) time.Time {
	return t.In(time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600))
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
