package tracker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSearchParams параметры поиска пролётов вне допустимых значений.
var ErrInvalidSearchParams = errors.New("invalid search parameters")

// Значения по умолчанию для поиска пролётов.
const (
	DefaultMaxDistanceKm = 500.0
	DefaultHoursAhead    = 24.0
	DefaultTimeStep      = 30 * time.Second
)

// SearchParams окно и критерии поиска. Start задаётся явно, чтобы повторный
// прогон на тех же данных давал тот же результат.
type SearchParams struct {
	Start         time.Time
	MaxDistanceKm float64
	HoursAhead    float64
	Step          time.Duration
	Model         Model
}

// DefaultSearchParams параметры по умолчанию от момента start.
func DefaultSearchParams(start time.Time) SearchParams {
	return SearchParams{
		Start:         start,
		MaxDistanceKm: DefaultMaxDistanceKm,
		HoursAhead:    DefaultHoursAhead,
		Step:          DefaultTimeStep,
		Model:         ModelKepler,
	}
}

// Validate проверяет параметры.
func (p SearchParams) Validate() error {
	switch {
	case p.Start.IsZero():
		return fmt.Errorf("%w: start time is zero", ErrInvalidSearchParams)
	case !(p.MaxDistanceKm > 0):
		return fmt.Errorf("%w: max distance %g km", ErrInvalidSearchParams, p.MaxDistanceKm)
	case !(p.HoursAhead > 0):
		return fmt.Errorf("%w: hours ahead %g", ErrInvalidSearchParams, p.HoursAhead)
	case p.Step <= 0:
		return fmt.Errorf("%w: step %v", ErrInvalidSearchParams, p.Step)
	}
	if _, err := ParseModel(string(p.Model)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSearchParams, err)
	}
	return nil
}

// End конец окна поиска.
func (p SearchParams) End() time.Time {
	return p.Start.Add(time.Duration(p.HoursAhead * float64(time.Hour)))
}

// PassRecord завершённый пролёт спутника.
type PassRecord struct {
	Satellite string
	NoradID   int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	MaxElevation     float64
	MaxElevationTime time.Time

	MinDistanceKm   float64
	MinDistanceTime time.Time

	VisibilityRating   int
	VisibilityCategory Category
	PeakVisibilityTime time.Time

	StartAzimuth      float64
	StartDirection    string
	MovementAzimuth   float64
	MovementDirection string
}

// SampleGeometry геометрия одного отсчёта.
type SampleGeometry struct {
	Time       time.Time
	Position   GeoPosition
	Look       LookAngles
	Visibility Visibility
}

// sampleOutcome результат отсчёта для конечного автомата.
type sampleOutcome int

const (
	sampleVisible sampleOutcome = iota
	sampleHidden
	sampleSkipped
)

// sample вычисляет отсчёт. Ошибка пропагации даёт sampleSkipped.
func sample(t time.Time, prop Propagator, obs Observer, maxDistanceKm float64) (SampleGeometry, sampleOutcome) {
	pos, err := prop.Position(t)
	if err != nil {
		return SampleGeometry{}, sampleSkipped
	}

	look := obs.Look(pos)
	if !isFinite(look.SlantKm, look.Elevation, look.Azimuth) {
		return SampleGeometry{}, sampleSkipped
	}

	geo := SampleGeometry{Time: t, Position: pos, Look: look}
	if look.SlantKm > maxDistanceKm || look.Elevation <= 0 {
		return geo, sampleHidden
	}

	// Солнце считаем только для видимых отсчётов.
	geo.Visibility = Evaluate(t, obs, pos, look.Elevation)
	return geo, sampleVisible
}

// passBuilder открытый пролёт.
type passBuilder struct {
	rec     PassRecord
	first   GeoPosition
	second  GeoPosition
	samples int
}

func openPass(name string, noradID int, g SampleGeometry) *passBuilder {
	return &passBuilder{
		rec: PassRecord{
			Satellite:          name,
			NoradID:            noradID,
			StartTime:          g.Time,
			MaxElevation:       g.Look.Elevation,
			MaxElevationTime:   g.Time,
			MinDistanceKm:      g.Look.SlantKm,
			MinDistanceTime:    g.Time,
			VisibilityRating:   g.Visibility.Rating,
			VisibilityCategory: g.Visibility.Category,
			PeakVisibilityTime: g.Time,
			StartAzimuth:       g.Look.Azimuth,
			StartDirection:     AzimuthToDirection(g.Look.Azimuth),
		},
		first:   g.Position,
		samples: 1,
	}
}

func (b *passBuilder) add(g SampleGeometry) {
	if b.samples == 1 {
		b.second = g.Position
	}
	b.samples++

	if g.Look.Elevation > b.rec.MaxElevation {
		b.rec.MaxElevation = g.Look.Elevation
		b.rec.MaxElevationTime = g.Time
	}
	if g.Look.SlantKm < b.rec.MinDistanceKm {
		b.rec.MinDistanceKm = g.Look.SlantKm
		b.rec.MinDistanceTime = g.Time
	}
	if g.Visibility.Rating > b.rec.VisibilityRating {
		b.rec.VisibilityRating = g.Visibility.Rating
		b.rec.VisibilityCategory = g.Visibility.Category
		b.rec.PeakVisibilityTime = g.Time
	}
}

func (b *passBuilder) close(end time.Time) PassRecord {
	b.rec.EndTime = end
	b.rec.Duration = end.Sub(b.rec.StartTime)

	if b.samples >= 2 {
		b.rec.MovementAzimuth = Bearing(b.first.Lat, b.first.Lon, b.second.Lat, b.second.Lon)
		b.rec.MovementDirection = AzimuthToDirection(b.rec.MovementAzimuth)
	} else {
		b.rec.MovementAzimuth = b.rec.StartAzimuth
		b.rec.MovementDirection = b.rec.StartDirection
	}

	return b.rec
}

// ScanPasses проходит окно с шагом params.Step и собирает пролёты одного спутника.
// Пропущенный отсчёт не меняет состояние автомата.
func ScanPasses(name string, noradID int, prop Propagator, obs Observer, params SearchParams) []PassRecord {
	var (
		passes []PassRecord
		open   *passBuilder
		last   time.Time
	)

	end := params.End()
	for t := params.Start; t.Before(end); t = t.Add(params.Step) {
		last = t

		g, outcome := sample(t, prop, obs, params.MaxDistanceKm)
		switch outcome {
		case sampleSkipped:
			continue
		case sampleVisible:
			if open == nil {
				open = openPass(name, noradID, g)
			} else {
				open.add(g)
			}
		case sampleHidden:
			if open != nil {
				passes = append(passes, open.close(t))
				open = nil
			}
		}
	}

	if open != nil {
		passes = append(passes, open.close(last))
	}

	return passes
}
