package tracker

import (
	"math"
	"time"
)

// SunPosition положение Солнца для наблюдателя, градусы.
type SunPosition struct {
	Elevation float64
	Azimuth   float64
}

// SolarPosition упрощённая модель положения Солнца (точность порядка 0.01°),
// достаточная для классификации сумерек.
func SolarPosition(t time.Time, lat, lon float64) SunPosition {
	jd := JulianDate(t)
	n := jd - J2000

	L := math.Mod(280.460+0.9856474*n, 360)
	g := DegToRad(math.Mod(357.528+0.9856003*n, 360))
	eclLon := DegToRad(L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g))
	obliq := DegToRad(23.439 - 0.0000004*n)

	ra := RadToDeg(math.Atan2(math.Cos(obliq)*math.Sin(eclLon), math.Cos(eclLon)))
	dec := math.Asin(math.Sin(obliq) * math.Sin(eclLon))

	lha := DegToRad(normalizeDegrees(RadToDeg(GMST(jd)) + lon - ra))
	phi := DegToRad(lat)

	sinAlt := math.Sin(phi)*math.Sin(dec) + math.Cos(phi)*math.Cos(dec)*math.Cos(lha)
	alt := math.Asin(math.Max(-1, math.Min(1, sinAlt)))

	cosAz := (math.Sin(dec) - math.Sin(phi)*sinAlt) / (math.Cos(phi) * math.Cos(alt))
	az := RadToDeg(math.Acos(math.Max(-1, math.Min(1, cosAz))))
	if math.Sin(lha) > 0 {
		az = 360 - az
	}

	return SunPosition{Elevation: RadToDeg(alt), Azimuth: az}
}
