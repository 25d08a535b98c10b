// Package handlers реализует HTTP API и HTML-страницу прогноза пролётов.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/art-injener/starpass/internal/config"
	"github.com/art-injener/starpass/internal/report"
	"github.com/art-injener/starpass/internal/tracker"
)

// ErrBadQuery невалидные параметры запроса.
var ErrBadQuery = errors.New("bad query")

const (
	defaultSatellitesLimit = 100
	maxSatellitesLimit     = 1000
)

// Catalog каталог записей, из которого API берёт ленту.
type Catalog interface {
	Records() []tracker.SatelliteRecord
	Get(noradID int) (tracker.SatelliteRecord, bool)
	GetByName(name string) []tracker.SatelliteRecord
	Count() int
}

// PassQuery параметры прогноза из запроса.
type PassQuery struct {
	Lat           float64
	Lon           float64
	MaxDistanceKm float64
	HoursAhead    float64
	Step          time.Duration
	TZ            int
}

func (q PassQuery) key() string {
	return fmt.Sprintf("%.4f|%.4f|%g|%g|%d|%d", q.Lat, q.Lon, q.MaxDistanceKm, q.HoursAhead, q.Step, q.TZ)
}

type cachedDocument struct {
	doc     *report.Document
	expires time.Time
}

// API обработчики /api/v1.
type API struct {
	catalog Catalog
	agg     *tracker.Aggregator
	cfg     *config.Config
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cache  map[string]cachedDocument
	flight singleflight.Group
}

// APIOption функция настройки API.
type APIOption func(*API)

// WithAPILogger логгер для API.
func WithAPILogger(logger *slog.Logger) APIOption {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAPIClock источник текущего времени.
func WithAPIClock(now func() time.Time) APIOption {
	return func(a *API) {
		a.now = now
	}
}

// NewAPI создаёт API поверх каталога и пула расчёта.
func NewAPI(catalog Catalog, agg *tracker.Aggregator, cfg *config.Config, opts ...APIOption) *API {
	a := &API{
		catalog: catalog,
		agg:     agg,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		cache:   make(map[string]cachedDocument),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DefaultQuery запрос для наблюдателя и параметров из конфигурации.
func (a *API) DefaultQuery() PassQuery {
	return PassQuery{
		Lat:           a.cfg.Observer.Latitude,
		Lon:           a.cfg.Observer.Longitude,
		MaxDistanceKm: a.cfg.Search.MaxDistanceKm,
		HoursAhead:    a.cfg.Search.HoursAhead,
		Step:          a.cfg.Search.TimeStep,
		TZ:            a.cfg.Output.TimezoneOffset,
	}
}

// Document считает пролёты для запроса. Результат кешируется на server.refresh_every,
// одновременные запросы с одним ключом ждут общий расчёт.
func (a *API) Document(ctx context.Context, q PassQuery) (*report.Document, error) {
	key := q.key()
	if doc, ok := a.cached(key, a.now()); ok {
		return doc, nil
	}

	for attempt := 0; ; attempt++ {
		v, err, _ := a.flight.Do(key, func() (any, error) {
			return a.compute(ctx, key, q)
		})
		if err == nil {
			return v.(*report.Document), nil
		}
		// Общий расчёт прервал другой клиент, а свой контекст ещё жив.
		if attempt == 0 && ctx.Err() == nil && isInterrupted(err) {
			continue
		}
		return nil, err
	}
}

func (a *API) cached(key string, now time.Time) (*report.Document, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.cache[key]; ok && now.Before(e.expires) {
		return e.doc, true
	}
	return nil, false
}

func (a *API) compute(ctx context.Context, key string, q PassQuery) (*report.Document, error) {
	now := a.now()
	if doc, ok := a.cached(key, now); ok {
		return doc, nil
	}

	params := tracker.SearchParams{
		Start:         now.UTC().Truncate(time.Second),
		MaxDistanceKm: q.MaxDistanceKm,
		HoursAhead:    q.HoursAhead,
		Step:          q.Step,
		Model:         tracker.Model(a.cfg.Search.Model),
	}
	obs := tracker.NewObserver(q.Lat, q.Lon, 0)

	res, err := a.agg.FindPasses(ctx, a.catalog.Records(), obs, params)
	if err != nil {
		return nil, err
	}
	// Прерванный расчёт неполон, его нельзя ни кешировать, ни отдавать.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := report.NewDocument(res.Passes, a.observerInfo(q), params, q.TZ, now)

	if ttl := a.cfg.Server.RefreshEvery; ttl > 0 {
		a.mu.Lock()
		for k, e := range a.cache {
			if !now.Before(e.expires) {
				delete(a.cache, k)
			}
		}
		a.cache[key] = cachedDocument{doc: doc, expires: now.Add(ttl)}
		a.mu.Unlock()
	}

	return doc, nil
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (a *API) observerInfo(q PassQuery) report.ObserverInfo {
	name := ""
	if q.Lat == a.cfg.Observer.Latitude && q.Lon == a.cfg.Observer.Longitude {
		name = a.cfg.Observer.Name
	}
	return report.ObserverInfo{
		Latitude:     q.Lat,
		Longitude:    q.Lon,
		LocationName: config.LocationName(name, q.Lat, q.Lon),
	}
}

// Health GET /healthz.
func (a *API) Health(c *gin.Context) {
	count := a.catalog.Count()
	if count == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no elements loaded", "satellites": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "satellites": count})
}

// Passes GET /api/v1/passes.
func (a *API) Passes(c *gin.Context) {
	q, err := a.parsePassQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := a.Document(c.Request.Context(), q)
	if err != nil {
		a.logger.WarnContext(c.Request.Context(), "pass computation failed", slogKeyError, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pass computation failed"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Satellites GET /api/v1/satellites?name=&limit=.
func (a *API) Satellites(c *gin.Context) {
	limit := defaultSatellitesLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%v: limit %q", ErrBadQuery, raw)})
			return
		}
		limit = min(n, maxSatellitesLimit)
	}

	var records []tracker.SatelliteRecord
	if name := c.Query("name"); name != "" {
		records = a.catalog.GetByName(name)
	} else {
		records = a.catalog.Records()
	}

	total := len(records)
	if len(records) > limit {
		records = records[:limit]
	}

	data := make([]report.DatasetSatellite, 0, len(records))
	for _, rec := range records {
		data = append(data, report.DatasetSatellite{
			Name:    rec.Name,
			NoradID: rec.NoradID(),
			Line1:   rec.Line1,
			Line2:   rec.Line2,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  data,
		"count": len(data),
		"total": total,
	})
}

// Track GET /api/v1/satellites/:id/track.
func (a *API) Track(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%v: norad id %q", ErrBadQuery, c.Param("id"))})
		return
	}

	rec, ok := a.catalog.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "satellite not found"})
		return
	}

	el, err := tracker.DecodeElements(rec.Line1, rec.Line2)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	prop, err := tracker.NewPropagator(tracker.Model(a.cfg.Search.Model), rec, el)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	track, err := tracker.OrbitGroundTrack(prop, el, a.now())
	if err != nil {
		a.logger.ErrorContext(c.Request.Context(), "ground track failed", "norad_id", id, slogKeyError, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ground track failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name": rec.Name,
		"data": track,
	})
}

func (a *API) parsePassQuery(c *gin.Context) (PassQuery, error) {
	q := a.DefaultQuery()

	var err error
	if q.Lat, err = floatQuery(c, "lat", q.Lat); err != nil {
		return q, err
	}
	if q.Lon, err = floatQuery(c, "lon", q.Lon); err != nil {
		return q, err
	}
	if q.MaxDistanceKm, err = floatQuery(c, "max_distance", q.MaxDistanceKm); err != nil {
		return q, err
	}
	if q.HoursAhead, err = floatQuery(c, "hours", q.HoursAhead); err != nil {
		return q, err
	}
	if raw, ok := c.GetQuery("step"); ok {
		sec, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: step %q", ErrBadQuery, raw)
		}
		q.Step = time.Duration(sec) * time.Second
		// Нижняя граница шага задаётся server.min_step.
		if q.Step < a.cfg.Server.MinStep {
			return q, fmt.Errorf("%w: step must be at least %v", ErrBadQuery, a.cfg.Server.MinStep)
		}
	}
	if raw, ok := c.GetQuery("tz"); ok {
		tz, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%w: tz %q", ErrBadQuery, raw)
		}
		q.TZ = tz
	}

	switch {
	case q.Lat < -90 || q.Lat > 90:
		return q, fmt.Errorf("%w: lat %g out of [-90, 90]", ErrBadQuery, q.Lat)
	case q.Lon < -180 || q.Lon > 180:
		return q, fmt.Errorf("%w: lon %g out of [-180, 180]", ErrBadQuery, q.Lon)
	case q.MaxDistanceKm <= 0:
		return q, fmt.Errorf("%w: max_distance must be positive", ErrBadQuery)
	case q.HoursAhead <= 0 || q.HoursAhead > a.cfg.Server.MaxHoursAhead:
		return q, fmt.Errorf("%w: hours must be in (0, %g]", ErrBadQuery, a.cfg.Server.MaxHoursAhead)
	case q.Step <= 0:
		return q, fmt.Errorf("%w: step must be positive", ErrBadQuery)
	case q.TZ < -12 || q.TZ > 14:
		return q, fmt.Errorf("%w: tz %d out of [-12, 14]", ErrBadQuery, q.TZ)
	}

	return q, nil
}

func floatQuery(c *gin.Context, name string, def float64) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q", ErrBadQuery, name, raw)
	}
	return v, nil
}
