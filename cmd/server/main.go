package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/config"
	"netwatch/internal/coordinator"
	"netwatch/internal/domain"
	"netwatch/internal/repository/sqlite"
	"netwatch/internal/scanjob"
	"netwatch/internal/scanner"
)

func main() {
	var (
		configPath   = flag.String("config", "devices.yaml", "path to the device registry file")
		dbPath       = flag.String("db", "netwatch.db", "path to the scan result database")
		logLevel     = flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
		pollInterval = flag.Duration("poll-interval", 0, "poll all devices on this interval (0 disables)")
		scanNetwork  = flag.String("scan", "", "run a discovery scan of this network on startup")
		scanType     = flag.String("scan-type", "full", "startup scan depth (ping, port, full)")
		retention    = flag.Int("retention-days", 30, "drop stored scans older than this many days")
		pretty       = flag.Bool("pretty", false, "human-readable log output")
	)
	flag.Parse()

	log := newLogger(*logLevel, *pretty)

	if err := run(log, options{
		configPath:   *configPath,
		dbPath:       *dbPath,
		pollInterval: *pollInterval,
		scanNetwork:  *scanNetwork,
		scanType:     *scanType,
		retention:    *retention,
	}); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

type options struct {
	configPath   string
	dbPath       string
	pollInterval time.Duration
	scanNetwork  string
	scanType     string
	retention    int
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr)
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func run(log zerolog.Logger, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := config.NewRegistry(opts.configPath, log)
	if err != nil {
		return err
	}
	settings := registry.Settings()

	store, err := sqlite.Open(opts.dbPath, log)
	if err != nil {
		return err
	}
	defer store.Close()

	coord := coordinator.New(registry, coordinator.Options{
		CacheTTL:      settings.CacheTTL(),
		MaxConcurrent: settings.MaxConcurrentQueries,
	}, log)

	scan := scanner.New(scanner.Config{
		Timeout:     time.Duration(settings.DefaultTimeout) * time.Second,
		Communities: settings.SNMPCommunities,
	}, log)

	manager := scanjob.NewManager(scan, store, registry, log)

	// SIGHUP reloads device configuration without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := coord.ReloadDevices(); err != nil {
				log.Error().Err(err).Msg("config reload failed")
			}
		}
	}()

	if opts.scanNetwork != "" {
		scanID, err := manager.StartScan(ctx, opts.scanNetwork, domain.ParseScanType(opts.scanType), scanjob.StartOptions{Name: "startup"})
		if err != nil {
			return err
		}
		log.Info().Str("scan_id", scanID).Str("network", opts.scanNetwork).Msg("startup scan launched")
	}

	if opts.pollInterval > 0 {
		go pollLoop(ctx, coord, opts.pollInterval, log)
	}
	go janitorLoop(ctx, manager, opts.retention, log)

	log.Info().
		Str("config", opts.configPath).
		Str("db", opts.dbPath).
		Int("devices", len(registry.All())).
		Msg("netwatch started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

// pollLoop keeps the cache warm by polling every device on a fixed interval.
func pollLoop(ctx context.Context, coord *coordinator.Coordinator, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := coord.GetAllDeviceStatus(ctx)
			up := 0
			for _, s := range statuses {
				if s.Reachable {
					up++
				}
			}
			log.Info().Int("polled", len(statuses)).Int("reachable", up).Msg("poll cycle complete")
		}
	}
}

// janitorLoop purges stored scans past the retention window once a day.
func janitorLoop(ctx context.Context, manager *scanjob.Manager, retentionDays int, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.CleanupOldResults(retentionDays); err != nil {
				log.Error().Err(err).Msg("scan cleanup failed")
			}
		}
	}
}
