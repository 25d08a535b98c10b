package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidRange пустой интервал трассы.
var ErrInvalidRange = errors.New("invalid time range: start equals end")

// Скачок долготы больше этого порога означает пересечение ±180°.
const antimeridianThreshold = 270.0

// TrackPoint точка наземной трассы.
type TrackPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	TS  int64   `json:"ts"` // Unix, миллисекунды.
}

// GroundTrack трасса, разбитая на пройденный и предстоящий участки и на сегменты по антимеридиану.
type GroundTrack struct {
	Past    [][]TrackPoint `json:"past"`
	Future  [][]TrackPoint `json:"future"`
	NoradID int            `json:"norad_id"`
}

// TotalPoints количество точек во всех сегментах.
func (gt *GroundTrack) TotalPoints() int {
	count := 0
	for _, seg := range gt.Past {
		count += len(seg)
	}
	for _, seg := range gt.Future {
		count += len(seg)
	}
	return count
}

// GenerateGroundTrack строит трассу подспутниковой точки на [start, end].
// Отсчёты с ошибкой пропагации пропускаются.
func GenerateGroundTrack(prop Propagator, noradID int, start, end, now time.Time, step time.Duration) (*GroundTrack, error) {
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %v", ErrInvalidSearchParams, step)
	}
	if start.Equal(end) {
		return nil, ErrInvalidRange
	}
	if end.Before(start) {
		start, end = end, start
	}

	points := make([]TrackPoint, 0, int(end.Sub(start)/step)+1)
	for t := start; !t.After(end); t = t.Add(step) {
		pos, err := prop.Position(t)
		if err != nil {
			continue
		}
		points = append(points, TrackPoint{Lon: pos.Lon, Lat: pos.Lat, TS: t.UnixMilli()})
	}

	gt := &GroundTrack{NoradID: noradID}
	if len(points) == 0 {
		return gt, nil
	}

	gt.Past, gt.Future = splitPastFuture(splitAtAntimeridian(points), now.UnixMilli())
	return gt, nil
}

// OrbitGroundTrack трасса на один период назад и три вперёд с шагом 30 секунд.
func OrbitGroundTrack(prop Propagator, el *OrbitalElements, now time.Time) (*GroundTrack, error) {
	if el == nil {
		return nil, ErrNilElements
	}
	period := el.OrbitalPeriod()
	return GenerateGroundTrack(prop, el.NoradID, now.Add(-period), now.Add(3*period), now, DefaultTimeStep)
}

// splitAtAntimeridian режет трассу на сегменты, добавляя граничные точки на ±180°.
func splitAtAntimeridian(points []TrackPoint) [][]TrackPoint {
	if len(points) == 0 {
		return nil
	}

	var segments [][]TrackPoint
	current := []TrackPoint{points[0]}

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		if math.Abs(cur.Lon-prev.Lon) <= antimeridianThreshold {
			current = append(current, cur)
			continue
		}

		exit, entry := interpolateAntimeridian(prev, cur)
		segments = append(segments, append(current, exit))
		current = []TrackPoint{entry, cur}
	}

	return append(segments, current)
}

// interpolateAntimeridian линейно интерполирует широту и время на границе.
// Возвращает точку на стороне p1 и зеркальную точку на стороне p2.
func interpolateAntimeridian(p1, p2 TrackPoint) (TrackPoint, TrackPoint) {
	side := 1.0
	if p1.Lon <= 0 {
		side = -1.0
	}

	// Долгота p2 «продолженная» через границу.
	unwrapped := p2.Lon + side*360
	frac := 0.5
	if d := unwrapped - p1.Lon; math.Abs(d) > 1e-10 {
		frac = math.Max(0, math.Min(1, (side*180-p1.Lon)/d))
	}

	lat := p1.Lat + (p2.Lat-p1.Lat)*frac
	ts := p1.TS + int64(float64(p2.TS-p1.TS)*frac)

	return TrackPoint{Lon: side * 180, Lat: lat, TS: ts}, TrackPoint{Lon: -side * 180, Lat: lat, TS: ts}
}

// splitPastFuture делит сегменты по моменту nowMs. Сегмент, содержащий now, режется надвое.
func splitPastFuture(segments [][]TrackPoint, nowMs int64) (past, future [][]TrackPoint) {
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}

		split := len(seg)
		for i, p := range seg {
			if p.TS >= nowMs {
				split = i
				break
			}
		}

		if split > 0 {
			past = append(past, seg[:split])
		}
		if split < len(seg) {
			future = append(future, seg[split:])
		}
	}

	return past, future
}
