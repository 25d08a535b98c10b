package tracker

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"gonum.org/v1/gonum/spatial/r3"
)

// Физические константы сферической модели Земли.
const (
	// EarthRadiusKm средний радиус Земли, км.
	EarthRadiusKm = 6371.0

	// EarthMu гравитационный параметр Земли, км³/с².
	EarthMu = 398600.4418

	// EarthJ2 вторая зональная гармоника.
	EarthJ2 = 0.00108263

	// J2000 юлианская дата эпохи J2000.0.
	J2000 = 2451545.0

	// Deg2Rad коэффициент перевода градусов в радианы.
	Deg2Rad = math.Pi / 180.0

	// Rad2Deg коэффициент перевода радианов в градусы.
	Rad2Deg = 180.0 / math.Pi

	// zenithGroundKm ближе этого расстояния спутник считается в зените.
	zenithGroundKm = 0.1
)

var zAxis = r3.Vec{Z: 1}

// GeoPosition подспутниковая точка: широта/долгота в градусах, высота в км.
type GeoPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt_km"`
}

// Observer представляет позицию наблюдателя на поверхности Земли.
// Высота в расчётах пролётов не используется.
type Observer struct {
	Lat float64 // Широта в градусах.
	Lon float64 // Долгота в градусах.
	Alt float64 // Высота над уровнем моря, км.
}

// NewObserver создаёт Observer с координатами в градусах.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	return Observer{Lat: latDeg, Lon: lonDeg, Alt: altKm}
}

// LookAngles топоцентрическая геометрия спутника относительно наблюдателя.
type LookAngles struct {
	GroundKm  float64 // Расстояние по поверхности до подспутниковой точки.
	SlantKm   float64 // Наклонная дальность.
	Elevation float64 // Угол места, градусы.
	Azimuth   float64 // Азимут от наблюдателя, градусы [0, 360).
}

// DegToRad переводит градусы в радианы.
func DegToRad(deg float64) float64 { return deg * Deg2Rad }

// RadToDeg переводит радианы в градусы.
func RadToDeg(rad float64) float64 { return rad * Rad2Deg }

// JulianDate возвращает юлианскую дату момента t (UTC).
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST возвращает звёздное время Гринвича в радианах [0, 2π).
// Полином IAU-82 по юлианским столетиям от J2000.0.
func GMST(jd float64) float64 {
	T := (jd - J2000) / 36525.0
	seconds := 67310.54841 + (876600*3600+8640184.812866)*T + 0.093104*T*T - 6.2e-6*T*T*T

	deg := math.Mod(seconds/240.0, 360.0)
	if deg < 0 {
		deg += 360
	}
	return DegToRad(deg)
}

// HaversineDistance расстояние по поверхности сферической Земли, км.
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r, lat2r := DegToRad(lat1), DegToRad(lat2)
	dLat := lat2r - lat1r
	dLon := DegToRad(lon2 - lon1)

	a := math.Pow(math.Sin(dLat/2), 2) + math.Cos(lat1r)*math.Cos(lat2r)*math.Pow(math.Sin(dLon/2), 2)
	return EarthRadiusKm * 2 * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Bearing начальный азимут на сфере из точки from в точку to, градусы [0, 360).
func Bearing(fromLat, fromLon, toLat, toLon float64) float64 {
	lat1r, lat2r := DegToRad(fromLat), DegToRad(toLat)
	dLon := DegToRad(toLon - fromLon)

	y := math.Sin(dLon) * math.Cos(lat2r)
	x := math.Cos(lat1r)*math.Sin(lat2r) - math.Sin(lat1r)*math.Cos(lat2r)*math.Cos(dLon)

	return math.Mod(RadToDeg(math.Atan2(y, x))+360, 360)
}

// AzimuthToDirection 8-румбовая роза ветров.
func AzimuthToDirection(az float64) string {
	directions := [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	idx := int(math.Floor(math.Mod(az+22.5, 360)/45)) % 8
	if idx < 0 {
		idx += 8
	}
	return directions[idx]
}

// Look считает дальность, угол места и азимут спутника для наблюдателя.
func (obs Observer) Look(sat GeoPosition) LookAngles {
	ground := HaversineDistance(sat.Lat, sat.Lon, obs.Lat, obs.Lon)

	la := LookAngles{
		GroundKm: ground,
		SlantKm:  math.Sqrt(ground*ground + sat.Alt*sat.Alt),
		Azimuth:  Bearing(obs.Lat, obs.Lon, sat.Lat, sat.Lon),
	}

	if ground < zenithGroundKm {
		la.Elevation = 90
	} else {
		la.Elevation = RadToDeg(math.Atan2(sat.Alt, ground))
	}

	return la
}

// ECIToECEF поворачивает вектор ECI вокруг оси Z на угол -gmst.
func ECIToECEF(eci r3.Vec, gmst float64) r3.Vec {
	return r3.Rotate(eci, -gmst, zAxis)
}

// ECEFToGeo переводит ECEF в сферические широту/долготу (градусы).
// Высота задаётся вызывающей стороной.
func ECEFToGeo(ecef r3.Vec, altKm float64) GeoPosition {
	return GeoPosition{
		Lat: RadToDeg(math.Atan2(ecef.Z, math.Hypot(ecef.X, ecef.Y))),
		Lon: RadToDeg(math.Atan2(ecef.Y, ecef.X)),
		Alt: altKm,
	}
}

func isFinite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
