package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ошибки прогноза положения.
var (
	ErrPropagationSample = errors.New("propagation produced non-finite position")
	ErrNilElements       = errors.New("orbital elements are nil")
)

// keplerIterations фиксированное число итераций уравнения Кеплера.
const keplerIterations = 10

var xAxis = r3.Vec{X: 1}

// Propagator вычисляет подспутниковую точку на момент t.
type Propagator interface {
	Position(t time.Time) (GeoPosition, error)
}

// KeplerPropagator двухтельная модель с вековой прецессией узла от J2.
// Высота постоянна и равна a − R: это средняя высота, а не мгновенная.
type KeplerPropagator struct {
	el *OrbitalElements

	epochJD  float64
	inc      float64 // рад
	raan0    float64 // рад
	argp     float64 // рад
	m0       float64 // рад
	n        float64 // рад/мин
	a        float64 // км
	raanDot  float64 // рад/мин
	altitude float64 // км
}

// NewKeplerPropagator предвычисляет константы орбиты.
func NewKeplerPropagator(el *OrbitalElements) (*KeplerPropagator, error) {
	if el == nil {
		return nil, ErrNilElements
	}

	n := el.MeanMotion * 2 * math.Pi / 1440.0
	a := el.SemiMajorAxis()
	inc := DegToRad(el.Inclination)
	e := el.Eccentricity

	p := &KeplerPropagator{
		el:       el,
		epochJD:  JulianDate(el.Epoch),
		inc:      inc,
		raan0:    DegToRad(el.RAAN),
		argp:     DegToRad(el.ArgOfPerigee),
		m0:       DegToRad(el.MeanAnomaly),
		n:        n,
		a:        a,
		raanDot:  -1.5 * n * EarthJ2 * math.Pow(EarthRadiusKm/a, 2) * math.Cos(inc) / math.Pow(1-e*e, 2),
		altitude: a - EarthRadiusKm,
	}

	return p, nil
}

// Elements возвращает исходные элементы.
func (p *KeplerPropagator) Elements() *OrbitalElements {
	return p.el
}

// Position реализует Propagator.
func (p *KeplerPropagator) Position(t time.Time) (GeoPosition, error) {
	jd := JulianDate(t)
	dt := (jd - p.epochJD) * 1440.0 // минуты от эпохи

	e := p.el.Eccentricity

	M := math.Mod(p.m0+p.n*dt, 2*math.Pi)
	if M < 0 {
		M += 2 * math.Pi
	}

	E := M
	for range keplerIterations {
		E = M + e*math.Sin(E)
	}

	nu := 2 * math.Atan2(math.Sqrt(1+e)*math.Sin(E/2), math.Sqrt(1-e)*math.Cos(E/2))
	u := p.argp + nu
	raan := p.raan0 + p.raanDot*dt
	r := p.a * (1 - e*math.Cos(E))

	// Радиус-вектор в плоскости орбиты от узла, затем наклон и долгота узла.
	eci := r3.Rotate(r3.Vec{X: r}, u, zAxis)
	eci = r3.Rotate(eci, p.inc, xAxis)
	eci = r3.Rotate(eci, raan, zAxis)

	ecef := ECIToECEF(eci, GMST(jd))
	pos := ECEFToGeo(ecef, p.altitude)

	if !isFinite(pos.Lat, pos.Lon, pos.Alt) {
		return GeoPosition{}, fmt.Errorf("%w: norad %d at %s", ErrPropagationSample, p.el.NoradID, t.UTC().Format(time.RFC3339))
	}

	return pos, nil
}
