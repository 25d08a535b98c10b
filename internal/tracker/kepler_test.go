package tracker

import (
	"errors"
	"math"
	"testing"
	"time"
)

var testEpoch = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// circularElements круговая орбита с заданным наклоном и аргументом широты на эпоху.
func circularElements(incl, raan, u, meanMotion float64) *OrbitalElements {
	return &OrbitalElements{
		NoradID:      99999,
		Epoch:        testEpoch,
		Inclination:  incl,
		RAAN:         raan,
		Eccentricity: 0,
		ArgOfPerigee: 0,
		MeanAnomaly:  u,
		MeanMotion:   meanMotion,
	}
}

func mustKepler(t testing.TB, el *OrbitalElements) *KeplerPropagator {
	t.Helper()

	prop, err := NewKeplerPropagator(el)
	if err != nil {
		t.Fatalf("NewKeplerPropagator() error = %v", err)
	}
	return prop
}

func TestNewKeplerPropagator_Nil(t *testing.T) {
	_, err := NewKeplerPropagator(nil)
	if !errors.Is(err, ErrNilElements) {
		t.Errorf("NewKeplerPropagator(nil) error = %v, want ErrNilElements", err)
	}
}

// TestKeplerPropagator_AtEpoch на эпоху спутник в восходящем узле экваториальной орбиты.
func TestKeplerPropagator_AtEpoch(t *testing.T) {
	el := circularElements(0, 0, 0, 15.5)
	prop := mustKepler(t, el)

	pos, err := prop.Position(testEpoch)
	if err != nil {
		t.Fatalf("Position() error = %v", err)
	}

	if !almostEqual(pos.Lat, 0, 1e-9) {
		t.Errorf("Lat = %f, want 0", pos.Lat)
	}

	// ECI (a, 0, 0) после поворота на -GMST даёт долготу -GMST.
	wantLon := -RadToDeg(GMST(JulianDate(testEpoch)))
	if wantLon <= -180 {
		wantLon += 360
	}
	if !almostEqual(pos.Lon, wantLon, 1e-6) {
		t.Errorf("Lon = %f, want %f", pos.Lon, wantLon)
	}

	if !almostEqual(pos.Alt, el.MeanAltitude(), 1e-9) {
		t.Errorf("Alt = %f, want %f", pos.Alt, el.MeanAltitude())
	}
}

// TestKeplerPropagator_ArgumentOfLatitude радиус-вектор повёрнут от узла ровно на
// u = ω + ν: на полярной круговой орбите широта равна u до апекса.
func TestKeplerPropagator_ArgumentOfLatitude(t *testing.T) {
	tests := []struct {
		name    string
		argp    float64
		anomaly float64
		wantLat float64
	}{
		{name: "node", argp: 0, anomaly: 0, wantLat: 0},
		{name: "u=30 from anomaly", argp: 0, anomaly: 30, wantLat: 30},
		{name: "u=30 from perigee", argp: 30, anomaly: 0, wantLat: 30},
		{name: "apex", argp: 0, anomaly: 90, wantLat: 90},
		{name: "apex split", argp: 45, anomaly: 45, wantLat: 90},
		{name: "descending", argp: 0, anomaly: 150, wantLat: 30},
		{name: "opposite node", argp: 90, anomaly: 90, wantLat: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := circularElements(90, 40, tt.anomaly, 14.2)
			el.ArgOfPerigee = tt.argp

			pos, err := mustKepler(t, el).Position(testEpoch)
			if err != nil {
				t.Fatalf("Position() error = %v", err)
			}
			if !almostEqual(pos.Lat, tt.wantLat, 1e-6) {
				t.Errorf("Lat = %f, want %f", pos.Lat, tt.wantLat)
			}
		})
	}
}

// TestKeplerPropagator_LatitudeBound широта не выходит за наклонение.
func TestKeplerPropagator_LatitudeBound(t *testing.T) {
	const incl = 53.0
	prop := mustKepler(t, &OrbitalElements{
		Epoch:        testEpoch,
		Inclination:  incl,
		RAAN:         120,
		Eccentricity: 0.0001,
		ArgOfPerigee: 30,
		MeanAnomaly:  10,
		MeanMotion:   15.5,
	})

	maxLat := 0.0
	for i := range 2880 {
		pos, err := prop.Position(testEpoch.Add(time.Duration(i) * 30 * time.Second))
		if err != nil {
			t.Fatalf("Position() error = %v", err)
		}
		if pos.Lon < -180 || pos.Lon > 180 {
			t.Fatalf("Lon = %f out of [-180, 180]", pos.Lon)
		}
		maxLat = math.Max(maxLat, math.Abs(pos.Lat))
	}

	if maxLat > incl+1e-6 {
		t.Errorf("max |Lat| = %f exceeds inclination %f", maxLat, incl)
	}
	if maxLat < incl-1 {
		t.Errorf("max |Lat| = %f, want close to inclination %f", maxLat, incl)
	}
}

// TestKeplerPropagator_NodalRegression узел прямой орбиты дрейфует на запад, обратной на восток.
func TestKeplerPropagator_NodalRegression(t *testing.T) {
	prograde := mustKepler(t, circularElements(53, 0, 0, 15.5))
	if prograde.raanDot >= 0 {
		t.Errorf("prograde raanDot = %g, want < 0", prograde.raanDot)
	}

	retrograde := mustKepler(t, circularElements(97.6, 0, 0, 15.2))
	if retrograde.raanDot <= 0 {
		t.Errorf("retrograde raanDot = %g, want > 0", retrograde.raanDot)
	}

	polar := mustKepler(t, circularElements(90, 0, 0, 15.2))
	if math.Abs(polar.raanDot) > 1e-15 {
		t.Errorf("polar raanDot = %g, want 0", polar.raanDot)
	}
}

// TestKeplerPropagator_Deterministic одинаковый момент даёт одинаковую точку.
func TestKeplerPropagator_Deterministic(t *testing.T) {
	el, err := DecodeElements(issLine1, issLine2)
	if err != nil {
		t.Fatalf("DecodeElements() error = %v", err)
	}

	p1 := mustKepler(t, el)
	p2 := mustKepler(t, el)

	at := el.Epoch.Add(5*time.Hour + 17*time.Second)
	a, errA := p1.Position(at)
	b, errB := p2.Position(at)
	c, errC := p1.Position(at)
	if errA != nil || errB != nil || errC != nil {
		t.Fatalf("Position() errors: %v %v %v", errA, errB, errC)
	}

	if a != b || a != c {
		t.Errorf("positions differ: %+v %+v %+v", a, b, c)
	}
}

// TestKeplerPropagator_BeforeEpoch отрицательное время от эпохи допустимо.
func TestKeplerPropagator_BeforeEpoch(t *testing.T) {
	prop := mustKepler(t, circularElements(53, 10, 20, 15.5))

	pos, err := prop.Position(testEpoch.Add(-72 * time.Hour))
	if err != nil {
		t.Fatalf("Position() error = %v", err)
	}
	if !isFinite(pos.Lat, pos.Lon, pos.Alt) {
		t.Errorf("Position() = %+v, want finite", pos)
	}
}

// TestEndToEnd_Kepler53 сутки поиска для орбиты 15.5 об/сут, 53°, e=0.0001 над Ювяскюля.
func TestEndToEnd_Kepler53(t *testing.T) {
	el := &OrbitalElements{
		NoradID:      44713,
		Epoch:        testEpoch,
		Inclination:  53,
		RAAN:         200,
		Eccentricity: 0.0001,
		ArgOfPerigee: 90,
		MeanAnomaly:  0,
		MeanMotion:   15.5,
	}
	prop := mustKepler(t, el)
	obs := NewObserver(62.2426, 25.7473, 0)

	params := DefaultSearchParams(testEpoch)
	passes := ScanPasses("STARLINK-TEST", el.NoradID, prop, obs, params)

	for i, p := range passes {
		if p.MinDistanceKm > params.MaxDistanceKm {
			t.Errorf("pass %d MinDistanceKm = %f > %f", i, p.MinDistanceKm, params.MaxDistanceKm)
		}
		if p.MaxElevation > 90 || p.MaxElevation <= 0 {
			t.Errorf("pass %d MaxElevation = %f out of (0, 90]", i, p.MaxElevation)
		}
		if !isFinite(p.MinDistanceKm, p.MaxElevation, p.StartAzimuth, p.MovementAzimuth) {
			t.Errorf("pass %d has non-finite fields: %+v", i, p)
		}
	}
}

func BenchmarkKeplerPropagator_Position(b *testing.B) {
	el, err := DecodeElements(issLine1, issLine2)
	if err != nil {
		b.Fatalf("DecodeElements() error = %v", err)
	}
	prop := mustKepler(b, el)
	at := el.Epoch.Add(time.Hour)

	for b.Loop() {
		_, _ = prop.Position(at)
	}
}
