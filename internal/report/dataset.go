package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/art-injener/starpass/internal/tracker"
)

// Dataset выгрузка набора элементов для офлайн-клиентов.
type Dataset struct {
	GeneratedAt     string                  `json:"generated_at"`
	Source          string                  `json:"source"`
	CacheExpiresAt  string                  `json:"cache_expires_at"`
	TotalSatellites int                     `json:"total_satellites"`
	Satellites      []DatasetSatellite      `json:"satellites"`
	Observer        ObserverInfo            `json:"observer"`
	Parameters      DatasetSearchParameters `json:"parameters"`
}

// DatasetSatellite запись набора.
type DatasetSatellite struct {
	Name    string `json:"name"`
	NoradID int    `json:"norad_id"`
	Line1   string `json:"line1"`
	Line2   string `json:"line2"`
}

// DatasetSearchParameters параметры, с которыми клиенту предлагается считать пролёты.
type DatasetSearchParameters struct {
	MaxDistanceKm   float64 `json:"max_distance_km"`
	HoursAhead      float64 `json:"hours_ahead"`
	TimeStepSeconds int     `json:"time_step_seconds"`
}

// NewDataset собирает выгрузку. Записи без читаемого NORAD ID пропускаются.
func NewDataset(records []tracker.SatelliteRecord, source string, obs ObserverInfo, params tracker.SearchParams, now time.Time, ttl time.Duration) *Dataset {
	ds := &Dataset{
		GeneratedAt:    now.UTC().Format(utcLayout),
		Source:         source,
		CacheExpiresAt: now.Add(ttl).UTC().Format(utcLayout),
		Satellites:     make([]DatasetSatellite, 0, len(records)),
		Observer:       obs,
		Parameters: DatasetSearchParameters{
			MaxDistanceKm:   params.MaxDistanceKm,
			HoursAhead:      params.HoursAhead,
			TimeStepSeconds: int(params.Step.Seconds()),
		},
	}

	for _, rec := range records {
		id := rec.NoradID()
		if id == 0 {
			continue
		}
		ds.Satellites = append(ds.Satellites, DatasetSatellite{
			Name:    rec.Name,
			NoradID: id,
			Line1:   rec.Line1,
			Line2:   rec.Line2,
		})
	}
	ds.TotalSatellites = len(ds.Satellites)

	return ds
}

// WriteJSON пишет выгрузку.
func (d *Dataset) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}
	return nil
}
