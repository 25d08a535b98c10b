package tracker

import (
	"math"
	"time"
)

// Category качественная оценка видимости.
type Category string

// Категории видимости.
const (
	CategoryExcellent Category = "Excellent"
	CategoryGood      Category = "Good"
	CategoryFair      Category = "Fair"
	CategoryPoor      Category = "Poor"
)

// Пороги высоты Солнца (сумерки), градусы.
const (
	civilTwilight        = -6.0
	nauticalTwilight     = -12.0
	astronomicalTwilight = -18.0

	maxElevationBonus = 5.0
	maxRating         = 100
)

// Visibility итог оценки видимости одного отсчёта.
type Visibility struct {
	Rating       int
	Category     Category
	SunElevation float64
	Illuminated  bool
}

// ShadowAngle угол высоты Солнца, ниже которого спутник на высоте altKm в тени Земли.
func ShadowAngle(altKm float64) float64 {
	return -RadToDeg(math.Asin(EarthRadiusKm / (EarthRadiusKm + altKm)))
}

// IsIlluminated освещён ли спутник Солнцем.
func IsIlluminated(altKm, sunElevation float64) bool {
	return sunElevation > ShadowAngle(altKm)
}

// CategoryForRating категория по итоговому рейтингу.
func CategoryForRating(rating int) Category {
	switch {
	case rating >= 80:
		return CategoryExcellent
	case rating >= 60:
		return CategoryGood
	case rating >= 30:
		return CategoryFair
	default:
		return CategoryPoor
	}
}

// Rate оценивает видимость: наблюдатель в темноте, спутник освещён, выше над горизонтом лучше.
func Rate(sunElevation float64, illuminated bool, satElevation float64) (int, Category) {
	if !illuminated || sunElevation > 0 {
		return 0, CategoryPoor
	}

	var base float64
	switch {
	case sunElevation > civilTwilight:
		base = 30
	case sunElevation > nauticalTwilight:
		base = 60
	case sunElevation > astronomicalTwilight:
		base = 85
	default:
		base = 95
	}

	bonus := math.Max(0, math.Min(satElevation/90*maxElevationBonus, maxElevationBonus))
	rating := min(int(base+bonus), maxRating)

	return rating, CategoryForRating(rating)
}

// Evaluate полная оценка видимости спутника в момент t.
func Evaluate(t time.Time, obs Observer, sat GeoPosition, satElevation float64) Visibility {
	sun := SolarPosition(t, obs.Lat, obs.Lon)
	lit := IsIlluminated(sat.Alt, sun.Elevation)
	rating, cat := Rate(sun.Elevation, lit, satElevation)

	return Visibility{
		Rating:       rating,
		Category:     cat,
		SunElevation: sun.Elevation,
		Illuminated:  lit,
	}
}
