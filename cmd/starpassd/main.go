// Command starpassd отдаёт прогноз пролётов по HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/art-injener/starpass/internal/config"
	"github.com/art-injener/starpass/internal/handlers"
	"github.com/art-injener/starpass/internal/logging"
	"github.com/art-injener/starpass/internal/tracker"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := run(*configPath, *addr, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "starpassd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := tracker.NewTLEStore(&cfg.Feed, tracker.WithLogger(logger))
	// Без ленты сервер всё равно поднимается: фоновое обновление может её догрузить.
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting TLE store: %w", err)
	}
	defer store.Stop()

	agg := tracker.NewAggregator(
		tracker.WithWorkers(cfg.Search.Workers),
		tracker.WithAggregatorLogger(logger),
	)
	api := handlers.NewAPI(store, agg, cfg, handlers.WithAPILogger(logger))

	pages, err := handlers.NewPageHandler(api, cfg.Server.TemplatesDir, cfg.Server.DevTemplates, logger)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.NewRouter(api, pages, cfg.Server, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starpassd listening",
			"addr", cfg.Server.Addr,
			"satellites", store.Count(),
			"observer", cfg.LocationName(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
