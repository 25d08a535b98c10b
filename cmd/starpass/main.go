// Command starpass печатает ближайшие пролёты спутников над наблюдателем.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/art-injener/starpass/internal/config"
	"github.com/art-injener/starpass/internal/logging"
	"github.com/art-injener/starpass/internal/report"
	"github.com/art-injener/starpass/internal/tracker"
	"github.com/art-injener/starpass/internal/ui"
)

type options struct {
	configPath  string
	lat         float64
	lon         float64
	maxDistance float64
	hours       float64
	top         int
	tz          int
	noCache     bool
	timeStep    int
	model       string
	groups      string
	workers     int
	logLevel    string
	jsonPath    string
	jsonOnly    bool
	datasetPath string
	savePath    string
	tui         bool
}

func parseFlags(args []string) (*options, map[string]bool, error) {
	fs := flag.NewFlagSet("starpass", flag.ContinueOnError)
	o := &options{}

	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.Float64Var(&o.lat, "lat", config.DefaultLatitude, "Observer latitude, degrees")
	fs.Float64Var(&o.lon, "lon", config.DefaultLongitude, "Observer longitude, degrees")
	fs.Float64Var(&o.maxDistance, "max-distance", tracker.DefaultMaxDistanceKm, "Maximum ground distance, km")
	fs.Float64Var(&o.hours, "hours", tracker.DefaultHoursAhead, "Hours ahead to search")
	fs.IntVar(&o.top, "top", 10, "Number of passes to print (0 for all)")
	fs.IntVar(&o.tz, "tz", 2, "Timezone offset from UTC, hours")
	fs.BoolVar(&o.noCache, "no-cache", false, "Always download fresh elements")
	fs.IntVar(&o.timeStep, "time-step", int(tracker.DefaultTimeStep/time.Second), "Sampling step, seconds")
	fs.StringVar(&o.model, "model", string(tracker.ModelKepler), "Propagation model (kepler, sgp4)")
	fs.StringVar(&o.groups, "groups", "", "Comma-separated Celestrak groups")
	fs.IntVar(&o.workers, "workers", 0, "Worker pool size (0 for CPU count)")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&o.jsonPath, "json", "", "Write passes JSON to file (- for stdout)")
	fs.BoolVar(&o.jsonOnly, "json-only", false, "Print passes JSON to stdout instead of the text report (also with -json FILE)")
	fs.StringVar(&o.datasetPath, "dataset", "", "Write element dataset JSON to file")
	fs.StringVar(&o.savePath, "save", "", "Save plain-text report to file")
	fs.BoolVar(&o.tui, "tui", false, "Live countdown view (terminal only)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	return o, set, nil
}

// applyFlags переносит явно заданные флаги поверх конфигурации.
func applyFlags(cfg *config.Config, o *options, set map[string]bool) error {
	if set["lat"] {
		cfg.Observer.Latitude = o.lat
	}
	if set["lon"] {
		cfg.Observer.Longitude = o.lon
	}
	if set["max-distance"] {
		cfg.Search.MaxDistanceKm = o.maxDistance
	}
	if set["hours"] {
		cfg.Search.HoursAhead = o.hours
	}
	if set["time-step"] {
		cfg.Search.TimeStep = time.Duration(o.timeStep) * time.Second
	}
	if set["model"] {
		cfg.Search.Model = o.model
	}
	if set["workers"] {
		cfg.Search.Workers = o.workers
	}
	if set["top"] {
		cfg.Output.Top = o.top
	}
	if set["tz"] {
		cfg.Output.TimezoneOffset = o.tz
	}
	if set["no-cache"] {
		cfg.Feed.NoCache = o.noCache
	}
	if set["groups"] {
		cfg.Feed.Groups = nil
		for g := range strings.SplitSeq(o.groups, ",") {
			if g = strings.TrimSpace(g); g != "" {
				cfg.Feed.Groups = append(cfg.Feed.Groups, g)
			}
		}
	}
	if set["log-level"] {
		cfg.Log.Level = o.logLevel
	}

	return cfg.Validate()
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "starpass: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	o, set, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, o, set); err != nil {
		return err
	}

	logger := logging.Discard()
	if !o.jsonOnly {
		logger = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := tracker.NewTLEStore(&cfg.Feed, tracker.WithLogger(logger))
	if err := store.LoadAllGroups(ctx); err != nil {
		if store.Count() == 0 {
			return fmt.Errorf("no elements available: %w", err)
		}
		logger.WarnContext(ctx, "some groups failed to load, continuing", "error", err)
	}

	if stale := store.StaleCount(); stale > 0 {
		logger.WarnContext(ctx, "elements older than threshold",
			"count", stale,
			"max_age_days", cfg.Feed.MaxTLEAgeDays,
		)
	}

	now := time.Now().UTC()
	params := cfg.SearchParams(now)
	records := store.Records()
	observer := report.ObserverInfo{
		Latitude:     cfg.Observer.Latitude,
		Longitude:    cfg.Observer.Longitude,
		LocationName: cfg.LocationName(),
	}

	if o.datasetPath != "" {
		ds := report.NewDataset(records, datasetSource(store, cfg.Feed.Groups), observer, params, now, cfg.Feed.MaxCacheAge)
		if err := writeTo(o.datasetPath, stdout, ds.WriteJSON); err != nil {
			return err
		}
		logger.InfoContext(ctx, "dataset written", "path", o.datasetPath, "satellites", ds.TotalSatellites)
	}

	calcCtx := ctx
	if cfg.Search.Timeout > 0 {
		var cancel context.CancelFunc
		calcCtx, cancel = context.WithTimeout(ctx, cfg.Search.Timeout)
		defer cancel()
	}

	agg := tracker.NewAggregator(
		tracker.WithWorkers(cfg.Search.Workers),
		tracker.WithAggregatorLogger(logger),
	)
	res, err := agg.FindPasses(calcCtx, records, cfg.ObserverLocation(), params)
	if err != nil {
		return err
	}

	doc := report.NewDocument(res.Passes, observer, params, cfg.Output.TimezoneOffset, now)

	if o.jsonPath != "" {
		if err := writeTo(o.jsonPath, stdout, doc.WriteJSON); err != nil {
			return err
		}
	}
	// -json-only всегда печатает документ в stdout, даже если он записан в файл.
	if o.jsonOnly {
		if o.jsonPath == "-" {
			return nil
		}
		return doc.WriteJSON(stdout)
	}

	if o.savePath != "" {
		save := func(w io.Writer) error {
			return writeReport(w, res.Passes, cfg, now, 0, report.NewStyles(true))
		}
		if err := writeTo(o.savePath, stdout, save); err != nil {
			return err
		}
		logger.InfoContext(ctx, "report saved", "path", o.savePath)
	}

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	if o.tui {
		if !isTTY {
			logger.WarnContext(ctx, "live view needs a terminal, falling back to text")
		} else {
			model := ui.New(res.Passes, cfg.LocationName(), cfg.Output.TimezoneOffset)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("running live view: %w", err)
			}
			return nil
		}
	}

	styles := report.NewStyles(!cfg.Output.Color || !isTTY)
	return writeReport(stdout, res.Passes, cfg, now, cfg.Output.Top, styles)
}

func writeReport(w io.Writer, passes []tracker.PassRecord, cfg *config.Config, now time.Time, top int, st report.Styles) error {
	header := report.Header{
		Title:         "STARPASS - " + cfg.LocationName(),
		Observer:      cfg.ObserverLocation(),
		MaxDistanceKm: cfg.Search.MaxDistanceKm,
		HoursAhead:    cfg.Search.HoursAhead,
		GeneratedAt:   now,
	}
	if err := report.WriteHeader(w, header, st); err != nil {
		return err
	}
	return report.WriteText(w, passes, report.TextOptions{
		TimezoneOffset: cfg.Output.TimezoneOffset,
		Top:            top,
		Styles:         st,
	})
}

// datasetSource источник первой настроенной группы.
func datasetSource(store *tracker.TLEStore, groups []string) string {
	for _, g := range groups {
		if info, ok := store.GroupInfo(g); ok {
			return string(info.Source)
		}
	}
	return "unknown"
}

// writeTo пишет в файл или в stdout для "-".
func writeTo(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "-" {
		return write(stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
