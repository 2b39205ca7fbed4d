package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/firefart/dmarcingest/internal/config"
	"github.com/firefart/dmarcingest/internal/dmarc"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/firefart/dmarcingest/internal/store"
	"github.com/mattn/go-isatty"
)

func main() {
	Execute()
}

// newLogger writes human readable output to terminals and JSON otherwise.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		level := charmlog.InfoLevel
		if debug {
			level = charmlog.DebugLevel
		}
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Level:           level,
		}))
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

type app struct {
	config  *config.Configuration
	logger  *slog.Logger
	store   *store.Store
	metrics *metrics.Collector
	service *dmarc.Service
}

func newApp(configFile string, logger *slog.Logger) (*app, error) {
	if configFile == "" {
		return nil, fmt.Errorf("please supply a config file")
	}
	settings, err := config.GetConfig(config.Defaults(), configFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", configFile, err)
	}
	if ownerFlag != "" {
		settings.Owner = ownerFlag
	}

	db, err := store.Open(settings.Database.Driver, settings.Database.DSN, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	return &app{
		config:  settings,
		logger:  logger,
		store:   db,
		metrics: collector,
		service: dmarc.NewService(db,
			dmarc.WithRecorder(collector),
			dmarc.WithLogger(logger),
			dmarc.WithLimits(dmarc.Limits{
				MaxDocuments:    settings.MaxBatchSize,
				MaxDocumentSize: settings.MaxFileSize,
			}),
		),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("could not close database", "error", err)
	}
}

type namedFile struct {
	name    string
	content []byte
}

// storeFiles unpacks every file and stores them as one strict batch.
func (a *app) storeFiles(ctx context.Context, files []namedFile) ([]*dmarc.Report, error) {
	payloads := make([][]byte, 0, len(files))
	for _, f := range files {
		xmlName, payload, err := dmarc.ReadFile(f.name, f.content)
		if err != nil {
			return nil, fmt.Errorf("could not read file %s: %w", f.name, err)
		}
		a.logger.Debug("unpacked report", "file", f.name, "xml", xmlName, "size", len(payload))
		payloads = append(payloads, payload)
	}
	return a.service.Store(ctx, payloads, a.config.Owner)
}

// serveMetrics exposes the collector on the configured address until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	if a.config.MetricsListen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.config.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("serving metrics", "listen", a.config.MetricsListen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("could not shut down metrics server", "error", err)
		}
	}()
}

func readFiles(paths []string) ([]namedFile, error) {
	files := make([]namedFile, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p) // nolint: gosec
		if err != nil {
			return nil, err
		}
		files = append(files, namedFile{name: filepath.Base(p), content: content})
	}
	return files, nil
}

// printError writes one line per validation message so every failed field is visible.
func printError(w io.Writer, name string, err error) {
	var verr *dmarc.ValidationError
	if errors.As(err, &verr) {
		for _, m := range verr.Messages() {
			fmt.Fprintf(w, "%s: %s\n", name, m)
		}
		return
	}
	fmt.Fprintf(w, "%s: %v\n", name, err)
}
