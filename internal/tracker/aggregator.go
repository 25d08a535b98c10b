package tracker

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// scanJob единица работы пула: одна запись ленты.
type scanJob struct {
	idx int
	rec SatelliteRecord
}

// scanResult результат по одной записи. Пишется только в свой слот.
type scanResult struct {
	passes  []PassRecord
	skipped bool
}

// Result итог поиска пролётов по всей ленте.
type Result struct {
	Passes     []PassRecord
	Satellites int           // Сколько записей удалось декодировать.
	Skipped    int           // Сколько записей отброшено.
	Duration   time.Duration // Время расчёта.
}

// Aggregator запускает сканер по каждому спутнику в пуле фиксированного размера.
type Aggregator struct {
	workers int
	logger  *slog.Logger
}

// AggregatorOption функция настройки Aggregator.
type AggregatorOption func(*Aggregator)

// WithWorkers задаёт размер пула. n <= 0 означает число CPU.
func WithWorkers(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithAggregatorLogger логгер для Aggregator.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator создаёт Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FindPasses ищет пролёты всех спутников ленты и возвращает их по времени начала.
// Отмена ctx прекращает выдачу новых спутников, начатые сканы доводятся до конца.
// Единственная ошибка: невалидные параметры.
func (a *Aggregator) FindPasses(ctx context.Context, records []SatelliteRecord, obs Observer, params SearchParams) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	results := make([]scanResult, len(records))

	jobs := make(chan scanJob, a.workers*2)
	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i, rec := range records {
			select {
			case jobs <- scanJob{idx: i, rec: rec}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range a.workers {
		g.Go(func() error {
			for job := range jobs {
				results[job.idx] = a.scanOne(gctx, job.rec, obs, params)
				processed.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	res := &Result{}
	for _, r := range results {
		if r.skipped {
			res.Skipped++
			continue
		}
		res.Passes = append(res.Passes, r.passes...)
	}
	res.Satellites = int(processed.Load()) - res.Skipped

	slices.SortStableFunc(res.Passes, func(x, y PassRecord) int {
		return x.StartTime.Compare(y.StartTime)
	})
	res.Duration = time.Since(started)

	if err := ctx.Err(); err != nil {
		a.logger.WarnContext(ctx, "pass search interrupted",
			"processed", processed.Load(),
			"total", len(records),
			"error", err,
		)
	}

	a.logger.InfoContext(ctx, "pass search finished",
		"satellites", res.Satellites,
		"skipped", res.Skipped,
		"passes", len(res.Passes),
		"elapsed", res.Duration,
	)

	return res, nil
}

func (a *Aggregator) scanOne(ctx context.Context, rec SatelliteRecord, obs Observer, params SearchParams) scanResult {
	el, err := DecodeElements(rec.Line1, rec.Line2)
	if err != nil {
		a.logger.WarnContext(ctx, "skipping satellite with malformed elements",
			"name", rec.Name,
			"error", err,
		)
		return scanResult{skipped: true}
	}

	prop, err := NewPropagator(params.Model, rec, el)
	if err != nil {
		a.logger.WarnContext(ctx, "skipping satellite without propagator",
			"name", rec.Name,
			"norad_id", el.NoradID,
			"error", err,
		)
		return scanResult{skipped: true}
	}

	return scanResult{passes: ScanPasses(rec.Name, el.NoradID, prop, obs, params)}
}
