package tracker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"
)

// Ошибки SGP4 пропагации.
var (
	ErrInvalidTLEForPropagation = errors.New("invalid TLE for SGP4 propagation")
	ErrUnknownModel             = errors.New("unknown propagation model")
)

// Радиус-вектор SGP4 вне этих границ считается сбоем модели.
const (
	minSGP4RadiusKm = 6200.0
	maxSGP4RadiusKm = 50000.0
)

// Model имя модели прогноза.
type Model string

// Поддерживаемые модели.
const (
	ModelKepler Model = "kepler"
	ModelSGP4   Model = "sgp4"
)

// ParseModel проверяет имя модели. Пустая строка означает kepler.
func ParseModel(s string) (Model, error) {
	switch m := Model(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModelKepler:
		return ModelKepler, nil
	case ModelSGP4:
		return ModelSGP4, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
}

// NewPropagator строит пропагатор выбранной модели для записи ленты.
func NewPropagator(model Model, rec SatelliteRecord, el *OrbitalElements) (Propagator, error) {
	switch model {
	case "", ModelKepler:
		return NewKeplerPropagator(el)
	case ModelSGP4:
		return NewSGP4Propagator(rec, el)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// SGP4Propagator обёртка над go-satellite (модель WGS-84).
// Выдаёт те же сферические координаты, что и KeplerPropagator, но высоту по мгновенному радиусу.
type SGP4Propagator struct {
	el        *OrbitalElements
	satellite satellite.Satellite
}

// NewSGP4Propagator инициализирует SGP4. go-satellite завершает процесс на
// нечитаемых полях, поэтому строки проверяются до передачи в библиотеку.
func NewSGP4Propagator(rec SatelliteRecord, el *OrbitalElements) (*SGP4Propagator, error) {
	if el == nil {
		return nil, ErrNilElements
	}
	if len(rec.Line1) != TLELineLength || len(rec.Line2) != TLELineLength {
		return nil, fmt.Errorf("%w: full 69-column lines required", ErrInvalidTLEForPropagation)
	}
	if err := ValidateChecksum(rec.Line1, rec.Line2); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTLEForPropagation, err)
	}
	if err := checkSGP4Fields(rec.Line1, rec.Line2); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTLEForPropagation, err)
	}

	sat := satellite.TLEToSat(rec.Line1, rec.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: sgp4 init code %d: %s", ErrInvalidTLEForPropagation, sat.Error, sat.ErrorStr)
	}

	return &SGP4Propagator{el: el, satellite: sat}, nil
}

// Position реализует Propagator.
func (p *SGP4Propagator) Position(t time.Time) (GeoPosition, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	pos, _ := satellite.Propagate(p.satellite, year, int(month), day, hour, minute, sec)
	if !isFinite(pos.X, pos.Y, pos.Z) {
		return GeoPosition{}, fmt.Errorf("%w: norad %d (possible orbital decay)", ErrPropagationSample, p.el.NoradID)
	}

	eci := r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z}
	if r := r3.Norm(eci); r < minSGP4RadiusKm || r > maxSGP4RadiusKm {
		return GeoPosition{}, fmt.Errorf("%w: norad %d radius %.1f km", ErrPropagationSample, p.el.NoradID, r)
	}
	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, minute, sec)

	return ECEFToGeo(ECIToECEF(eci, gmst), r3.Norm(eci)-EarthRadiusKm), nil
}

// sgp4Field поле строки в том виде, в каком его читает go-satellite.
type sgp4Field struct {
	name  string
	line  int
	raw   string
	isInt bool
}

// checkSGP4Fields повторяет разбор go-satellite (ParseTLE) на тех же срезах.
// Библиотека вызывает log.Fatal на любом нечитаемом поле, поэтому
// Alpha-5 идентификатор и мусор в B* отсекаются здесь.
func checkSGP4Fields(line1, line2 string) error {
	strip := func(s string) string { return strings.Replace(s, " ", "", 2) }

	fields := []sgp4Field{
		{name: "satnum", line: 1, raw: strings.TrimSpace(line1[2:7]), isInt: true},
		{name: "epoch year", line: 1, raw: line1[18:20], isInt: true},
		{name: "epoch day", line: 1, raw: line1[20:32]},
		{name: "ndot", line: 1, raw: strip(line1[33:43])},
		{name: "nddot", line: 1, raw: strip(line1[44:45] + "." + line1[45:50] + "e" + line1[50:52])},
		{name: "bstar", line: 1, raw: strip(line1[53:54] + "." + line1[54:59] + "e" + line1[59:61])},
		{name: "inclination", line: 2, raw: strip(line2[8:16])},
		{name: "raan", line: 2, raw: strip(line2[17:25])},
		{name: "eccentricity", line: 2, raw: "." + line2[26:33]},
		{name: "arg of perigee", line: 2, raw: strip(line2[34:42])},
		{name: "mean anomaly", line: 2, raw: strip(line2[43:51])},
		{name: "mean motion", line: 2, raw: strip(line2[52:63])},
	}

	for _, f := range fields {
		var err error
		if f.isInt {
			_, err = strconv.ParseInt(f.raw, 10, 0)
		} else {
			_, err = strconv.ParseFloat(f.raw, 64)
		}
		if err != nil {
			return fmt.Errorf("line %d %s %q unreadable by sgp4", f.line, f.name, f.raw)
		}
	}
	return nil
}
