package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"catalog_etl/alert"
	"catalog_etl/config"
	"catalog_etl/export"
	"catalog_etl/fetcher"
	"catalog_etl/httputil"
	"catalog_etl/logging"
	"catalog_etl/metrics"
	"catalog_etl/models"
	"catalog_etl/monitor"
	"catalog_etl/scheduler"
	"catalog_etl/storage"
	"catalog_etl/transform"
)

var (
	configPath    = flag.String("config", "", "Path to a yaml config file (default $PIPELINE_CONFIG or pipeline.yaml)")
	daemon        = flag.Bool("daemon", false, "Run on the configured cron schedule until interrupted")
	exportOnly    = flag.Bool("export", false, "Write the dashboard export from the current products table and exit")
	clearProducts = flag.Bool("clear-products", false, "Delete every row of the products table and exit")
	history       = flag.Int("history", 0, "Print the N most recent run log entries and exit")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}

	logger, _, err := logging.Setup(logging.Options{
		Level:     cfg.Logging.Level,
		Path:      cfg.Logging.Path,
		ErrorPath: cfg.Logging.ErrorPath,
		Console:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 2
	}
	defer logger.Close()
	defer zap.RedirectStdLog(logger.Logger)()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := httputil.NewClients(&cfg.Source)
	if err != nil {
		logger.Error("Failed to build HTTP clients", zap.Error(err))
		return 2
	}
	alerter := alert.FromConfig(cfg.Alert, clients.Alert)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		// The logs table is unreachable, so this failure only goes to the
		// file sinks and the alerter.
		logger.Error("Failed to open store", zap.String("path", cfg.DBPath), zap.Error(err))
		sendAlert(ctx, logger.Logger, alerter, cfg, err)
		fmt.Printf("\nPipeline Status: %s - %v\n", models.RunStatusFailed, err)
		return 1
	}
	defer store.Close()
	logger.Info("SQLite database", zap.String("path", cfg.DBPath))

	switch {
	case *clearProducts:
		n, err := store.ClearProducts(ctx)
		if err != nil {
			logger.Error("Failed to clear products", zap.Error(err))
			return 1
		}
		logger.Info("Cleared products table", zap.Int64("rows", n))
		return 0

	case *history > 0:
		return printHistory(ctx, logger.Logger, store, *history)

	case *exportOnly:
		exporter := buildExporter(ctx, logger.Logger, cfg)
		if exporter == nil {
			logger.Error("No export target configured")
			return 2
		}
		products, err := store.Products(ctx)
		if err != nil {
			logger.Error("Failed to read products", zap.Error(err))
			return 1
		}
		if err := exporter.Publish(ctx, products); err != nil {
			logger.Error("Export failed", zap.Error(err))
			return 1
		}
		logger.Info("Exported products", zap.Int("count", len(products)), zap.String("path", cfg.Export.Path))
		return 0
	}

	publishers, closePublishers := buildPublishers(ctx, logger.Logger, cfg)
	defer closePublishers()

	rec := metrics.New()
	mon := monitor.New(
		fetcher.New(cfg.Source, clients.Source),
		transform.New(cfg.Transform),
		store,
		monitor.Options{
			Logger:     logger.Logger,
			Sinks:      []monitor.Sink{monitor.NewLoggerSink(logger.Logger), monitor.NewStoreSink(store)},
			Alerter:    alerter,
			Metrics:    rec,
			Publishers: publishers,
			Source:     cfg.Source.URL,
			Currency:   cfg.Transform.TargetCurrency,
		},
	)

	if *daemon {
		return runDaemon(ctx, logger.Logger, cfg, mon, rec)
	}

	res := mon.Run(ctx)
	if err := rec.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		logger.Warn("Failed to write metrics textfile", zap.String("path", cfg.Metrics.TextfilePath), zap.Error(err))
	}

	if res.Status != models.RunStatusSuccess {
		fmt.Printf("\nPipeline Status: %s - %v\n", res.Status, res.Err)
		return 1
	}
	fmt.Printf("\nPipeline Status: %s\n", res.Status)
	return 0
}

func runDaemon(ctx context.Context, logger *zap.Logger, cfg *config.Config, mon *monitor.Monitor, rec *metrics.Recorder) int {
	sched := scheduler.New(cfg.Scheduler.Cron, func(ctx context.Context) error {
		res := mon.Run(ctx)
		if err := rec.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Warn("Failed to write metrics textfile", zap.Error(err))
		}
		return res.Err
	}, logger)

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", zap.Error(err))
		return 2
	}

	var srv *http.Server
	if cfg.Metrics.Port != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rec.Handler())
		srv = &http.Server{
			Addr:              ":" + cfg.Metrics.Port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("Serving metrics", zap.String("addr", srv.Addr))
	}

	startupDone := make(chan struct{})
	if cfg.Scheduler.RunOnStart {
		go func() {
			defer close(startupDone)
			if err := sched.TriggerNow(ctx); err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
				logger.Error("Startup run failed", zap.Error(err))
			}
		}()
	} else {
		close(startupDone)
	}

	logger.Info("Daemon running. Press Ctrl+C to stop.", zap.Time("next_run", sched.Next()))
	<-ctx.Done()

	logger.Info("Shutting down...")
	sched.Stop()
	<-startupDone
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return 0
}

func buildPublishers(ctx context.Context, logger *zap.Logger, cfg *config.Config) ([]monitor.Publisher, func()) {
	var (
		publishers []monitor.Publisher
		closers    []func()
	)

	if exporter := buildExporter(ctx, logger, cfg); exporter != nil {
		publishers = append(publishers, exporter)
	}

	if cfg.Postgres.DSN != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mirror, err := storage.NewPostgresMirror(connectCtx, cfg.Postgres.DSN)
		cancel()
		if err != nil {
			logger.Warn("Postgres mirror disabled", zap.String("dsn", redactDSN(cfg.Postgres.DSN)), zap.Error(err))
		} else {
			logger.Info("Connected to Postgres", zap.String("dsn", redactDSN(cfg.Postgres.DSN)))
			publishers = append(publishers, mirror)
			closers = append(closers, mirror.Close)
		}
	}

	return publishers, func() {
		for _, c := range closers {
			c()
		}
	}
}

func buildExporter(ctx context.Context, logger *zap.Logger, cfg *config.Config) *export.Exporter {
	s3cfg := cfg.Export.S3
	if cfg.Export.Path == "" && !s3cfg.Enabled() {
		return nil
	}

	var uploader export.Uploader
	if s3cfg.Enabled() {
		u, err := storage.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			logger.Warn("S3 upload disabled", zap.String("bucket", s3cfg.Bucket), zap.Error(err))
		} else {
			uploader = u
			logger.Info("Dashboard export upload", zap.String("url", u.PublicURL(s3cfg.Key)))
		}
	}
	return export.New(cfg.Export.Path, uploader, s3cfg.Key)
}

func printHistory(ctx context.Context, logger *zap.Logger, store *storage.SQLiteStore, n int) int {
	entries, err := store.RecentLogs(ctx, n)
	if err != nil {
		logger.Error("Failed to read run history", zap.Error(err))
		return 1
	}
	for _, e := range entries {
		fmt.Printf("%6d  %s  %-7s  %s\n", e.RunID, e.Timestamp.Local().Format(time.RFC3339), e.Status, e.Message)
	}

	last, err := store.LastRun(ctx, models.RunStatusSuccess)
	if err != nil {
		logger.Error("Failed to read last success", zap.Error(err))
		return 1
	}
	if last == nil {
		fmt.Println("\nLast success: never")
	} else {
		fmt.Printf("\nLast success: %s (%s ago)\n", last.Timestamp.Local().Format(time.RFC3339),
			time.Since(last.Timestamp).Round(time.Second))
	}
	return 0
}

func sendAlert(ctx context.Context, logger *zap.Logger, alerter alert.Alerter, cfg *config.Config, cause error) {
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := alerter.Send(alertCtx, alert.Alert{
		Time:    time.Now(),
		Message: cause.Error(),
		Source:  cfg.Source.URL,
	}); err != nil {
		logger.Warn("Failure alert not delivered", zap.Error(err))
	}
}

// redactDSN hides the password of a URL-style DSN for logging. Keyword
// style DSNs are hidden entirely.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "[redacted]"
	}
	return u.Redacted()
}
