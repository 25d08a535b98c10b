// Package tracker реализует декодирование орбитальных элементов, прогноз положения
// спутников и поиск пролётов над наблюдателем.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Ошибки декодирования орбитальных элементов.
var (
	ErrMalformedElement  = errors.New("malformed orbital elements")
	ErrInvalidChecksum   = errors.New("invalid TLE checksum")
	ErrInvalidLineNumber = errors.New("invalid TLE line number")
	ErrLineTooShort      = errors.New("TLE line too short")
	ErrInvalidAlpha5     = errors.New("invalid Alpha-5 NORAD ID format")
	ErrFieldOutOfRange   = errors.New("orbital element out of range")
)

// MalformedElementError описывает поле TLE, которое не удалось декодировать.
// Совпадает через errors.Is и с ErrMalformedElement, и с причиной Err.
type MalformedElementError struct {
	Line  int    // Номер строки TLE (1 или 2).
	Field string // Имя поля.
	Err   error  // Причина.
}

func (e *MalformedElementError) Error() string {
	return fmt.Sprintf("%s: line %d %s: %v", ErrMalformedElement, e.Line, e.Field, e.Err)
}

// Unwrap возвращает сентинел и исходную причину.
func (e *MalformedElementError) Unwrap() []error {
	return []error{ErrMalformedElement, e.Err}
}

func malformed(line int, field string, err error) error {
	return &MalformedElementError{Line: line, Field: field, Err: err}
}

// alpha5Map маппинг букв Alpha-5 формата на числовые префиксы.
// Буквы I и O не используются (путаются с 1 и 0).
var alpha5Map = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 30,
	'X': 31, 'Y': 32, 'Z': 33,
}

// Границы колонок TLE (0-based, полуинтервалы).
const (
	TLELineLength = 69 // Полная длина строки с контрольной суммой.

	minLine1Length = 32 // Достаточно для эпохи.
	minLine2Length = 63 // Достаточно для среднего движения.

	epochPivotYear = 57
)

// SatelliteRecord запись ленты элементов: имя и две строки TLE без разбора.
type SatelliteRecord struct {
	Name  string `json:"name"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// NoradID возвращает каталожный номер из Line 1 или 0, если его не прочитать.
func (r SatelliteRecord) NoradID() int {
	if len(r.Line1) < 7 {
		return 0
	}
	id, err := parseNoradID(strings.TrimSpace(r.Line1[2:7]))
	if err != nil {
		return 0
	}
	return id
}

// String возвращает запись в 3-line формате.
func (r SatelliteRecord) String() string {
	if r.Name != "" {
		return r.Name + "\n" + r.Line1 + "\n" + r.Line2
	}
	return r.Line1 + "\n" + r.Line2
}

// OrbitalElements декодированный набор элементов. Углы в градусах в [0, 360).
type OrbitalElements struct {
	NoradID      int
	Epoch        time.Time // UTC.
	Inclination  float64
	RAAN         float64
	Eccentricity float64 // [0, 1).
	ArgOfPerigee float64
	MeanAnomaly  float64
	MeanMotion   float64 // Оборотов в сутки, > 0.
}

// DecodeElements разбирает строки TLE по фиксированным колонкам.
// Контрольная сумма не проверяется: лента уже отфильтрована на входе, если это нужно.
func DecodeElements(line1, line2 string) (*OrbitalElements, error) {
	if len(line1) < minLine1Length {
		return nil, malformed(1, "length", fmt.Errorf("%w: %d < %d", ErrLineTooShort, len(line1), minLine1Length))
	}
	if len(line2) < minLine2Length {
		return nil, malformed(2, "length", fmt.Errorf("%w: %d < %d", ErrLineTooShort, len(line2), minLine2Length))
	}
	if !strings.HasPrefix(line1, "1 ") {
		return nil, malformed(1, "line number", ErrInvalidLineNumber)
	}
	if !strings.HasPrefix(line2, "2 ") {
		return nil, malformed(2, "line number", ErrInvalidLineNumber)
	}

	el := &OrbitalElements{}

	var err error
	if el.NoradID, err = parseNoradID(strings.TrimSpace(line1[2:7])); err != nil {
		return nil, malformed(1, "norad id", err)
	}
	if el.Epoch, err = parseEpoch(line1[18:20], line1[20:32]); err != nil {
		return nil, malformed(1, "epoch", err)
	}

	// Line 2: колонки 9-16, 18-25, 27-33, 35-42, 44-51, 53-63.
	angles := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line2[8:16], &el.Inclination},
		{"raan", line2[17:25], &el.RAAN},
		{"argument of perigee", line2[34:42], &el.ArgOfPerigee},
		{"mean anomaly", line2[43:51], &el.MeanAnomaly},
	}
	for _, a := range angles {
		v, err := parseFloatField(a.raw)
		if err != nil {
			return nil, malformed(2, a.name, err)
		}
		*a.dst = normalizeDegrees(v)
	}

	if el.Eccentricity, err = parseEccentricity(line2[26:33]); err != nil {
		return nil, malformed(2, "eccentricity", err)
	}

	if el.MeanMotion, err = parseFloatField(line2[52:63]); err != nil {
		return nil, malformed(2, "mean motion", err)
	}
	if el.MeanMotion <= 0 {
		return nil, malformed(2, "mean motion", fmt.Errorf("%w: %g rev/day", ErrFieldOutOfRange, el.MeanMotion))
	}

	return el, nil
}

// ParseFeed группирует текст ленты в записи (имя, line1, line2).
// Строки, не образующие запись, пропускаются. Для 2-line записей имя берётся из NORAD ID.
func ParseFeed(data string) []SatelliteRecord {
	var lines []string
	for raw := range strings.SplitSeq(data, "\n") {
		if l := strings.TrimSpace(raw); l != "" {
			lines = append(lines, l)
		}
	}

	var records []SatelliteRecord
	for i := 0; i < len(lines)-1; {
		if i+2 < len(lines) && isLine(lines[i+1], '1') && isLine(lines[i+2], '2') {
			records = append(records, SatelliteRecord{Name: lines[i], Line1: lines[i+1], Line2: lines[i+2]})
			i += 3
			continue
		}
		if isLine(lines[i], '1') && isLine(lines[i+1], '2') {
			rec := SatelliteRecord{Line1: lines[i], Line2: lines[i+1]}
			if len(rec.Line1) >= 7 {
				rec.Name = strings.TrimSpace(rec.Line1[2:7])
			}
			records = append(records, rec)
			i += 2
			continue
		}
		i++
	}

	return records
}

// FilterChecksums оставляет записи, у которых обе строки проходят проверку Modulo-10.
func FilterChecksums(records []SatelliteRecord) ([]SatelliteRecord, int) {
	kept := make([]SatelliteRecord, 0, len(records))
	for _, r := range records {
		if validateChecksum(r.Line1) && validateChecksum(r.Line2) {
			kept = append(kept, r)
		}
	}
	return kept, len(records) - len(kept)
}

// ValidateChecksum проверяет обе строки записи.
func ValidateChecksum(line1, line2 string) error {
	if !validateChecksum(line1) {
		return fmt.Errorf("%w: Line1", ErrInvalidChecksum)
	}
	if !validateChecksum(line2) {
		return fmt.Errorf("%w: Line2", ErrInvalidChecksum)
	}
	return nil
}

func isLine(s string, n byte) bool {
	return len(s) >= 2 && s[0] == n && s[1] == ' '
}

// validateChecksum проверяет контрольную сумму строки TLE по алгоритму Modulo-10.
func validateChecksum(line string) bool {
	if len(line) < TLELineLength {
		return false
	}

	checksumIdx := TLELineLength - 1
	return calculateChecksum(line[:checksumIdx]) == int(line[checksumIdx]-'0')
}

// calculateChecksum сумма всех цифр + 1 за каждый минус, mod 10.
func calculateChecksum(line string) int {
	sum := 0
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// parseNoradID парсит NORAD ID с поддержкой Alpha-5 (A0000-Z9999 = 100000-339999).
func parseNoradID(s string) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAlpha5)
	}

	if first := s[0]; first >= 'A' && first <= 'Z' {
		prefix, ok := alpha5Map[first]
		if !ok {
			return 0, fmt.Errorf("%w: invalid letter %c (I and O not allowed)", ErrInvalidAlpha5, first)
		}
		if len(s) < 5 {
			return 0, fmt.Errorf("%w: too short", ErrInvalidAlpha5)
		}
		rest, err := strconv.Atoi(s[1:5])
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidAlpha5, err)
		}
		return prefix*10000 + rest, nil
	}

	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid NORAD ID: %w", err)
	}
	return id, nil
}

// parseEpoch собирает эпоху из двузначного года и дня года с дробной частью.
// YY < 57 означает 20YY, иначе 19YY.
func parseEpoch(yy, day string) (time.Time, error) {
	year, err := strconv.Atoi(strings.TrimSpace(yy))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing year: %w", err)
	}
	if year < 0 || year > 99 {
		return time.Time{}, fmt.Errorf("%w: year %d", ErrFieldOutOfRange, year)
	}
	if year < epochPivotYear {
		year += 2000
	} else {
		year += 1900
	}

	dayOfYear, err := parseFloatField(day)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day of year: %w", err)
	}
	if dayOfYear < 0 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("%w: day of year %g", ErrFieldOutOfRange, dayOfYear)
	}

	// dayOfYear=1.0 начало 1 января.
	base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration((dayOfYear - 1) * 24 * float64(time.Hour))), nil
}

// parseEccentricity читает колонку без десятичной точки: "0001234" -> 0.0001234.
func parseEccentricity(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrFieldOutOfRange)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: non-digit %q", ErrFieldOutOfRange, s)
		}
	}
	return strconv.ParseFloat("0."+s, 64)
}

func parseFloatField(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not finite", ErrFieldOutOfRange, raw)
	}
	return v, nil
}

func normalizeDegrees(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

// OrbitalPeriod возвращает орбитальный период.
func (el *OrbitalElements) OrbitalPeriod() time.Duration {
	return time.Duration(1440.0 / el.MeanMotion * float64(time.Minute))
}

// SemiMajorAxis возвращает большую полуось в км: a = (μ / n²)^(1/3), n в рад/с.
func (el *OrbitalElements) SemiMajorAxis() float64 {
	n := el.MeanMotion * 2 * math.Pi / 86400.0
	return math.Cbrt(EarthMu / (n * n))
}

// MeanAltitude высота над сферической Землёй по большой полуоси.
func (el *OrbitalElements) MeanAltitude() float64 {
	return el.SemiMajorAxis() - EarthRadiusKm
}

// Age возвращает возраст элементов относительно now.
func (el *OrbitalElements) Age(now time.Time) time.Duration {
	return now.Sub(el.Epoch)
}

// IsStale возвращает true если элементы старше maxAgeDays.
func (el *OrbitalElements) IsStale(now time.Time, maxAgeDays float64) bool {
	return el.Age(now).Hours()/24 > maxAgeDays
}
