package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/config"
	"github.com/xearthlayer/xearthlayer/internal/dds"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/index"
	"github.com/xearthlayer/xearthlayer/internal/metrics"
	"github.com/xearthlayer/xearthlayer/internal/pipeline"
	"github.com/xearthlayer/xearthlayer/internal/prefetch"
	"github.com/xearthlayer/xearthlayer/internal/provider"
	"github.com/xearthlayer/xearthlayer/internal/telemetry"
	"github.com/xearthlayer/xearthlayer/internal/vfs"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	mountpoint := viper.GetString("mountpoint")
	sources := viper.GetStringSlice("sources")
	if mountpoint == "" {
		return fmt.Errorf("xearthlayerd: --mountpoint is required")
	}
	if len(sources) == 0 {
		return fmt.Errorf("xearthlayerd: at least one --source is required")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("xearthlayerd: loading config: %w", err)
	}
	cfg.Index.SourceRoots = sources

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	m.MustRegister(prometheus.DefaultRegisterer)

	idx, err := loadOrBuildIndex(cfg.Index)
	if err != nil {
		return fmt.Errorf("xearthlayerd: preparing index: %w", err)
	}
	m.IndexedFiles.Set(float64(idx.Len()))
	log.Info().Int("files", idx.Len()).Int("sources", len(sources)).Msg("index ready")

	c, err := cache.New(cfg.Cache.MemoryMaxEntries, cfg.Cache.MemoryBudgetBytes, cfg.Cache.DiskRoot)
	if err != nil {
		return fmt.Errorf("xearthlayerd: constructing cache: %w", err)
	}
	c.SetMetrics(m)
	log.Info().
		Str("memory_budget", humanize.Bytes(uint64(cfg.Cache.MemoryBudgetBytes))).
		Str("disk_budget", humanize.Bytes(uint64(cfg.Cache.DiskBudgetBytes))).
		Msg("cache configured")
	go c.RunDiskSweeper(ctx, cfg.Cache.DiskSweepInterval, cfg.Cache.DiskBudgetBytes)

	exec := executor.New(executor.Config{
		NetworkCapacity:       cfg.Executor.NetworkCapacity,
		CPUCapacity:           cfg.Executor.CPUCapacity,
		DiskCapacity:          cfg.Executor.DiskCapacity,
		GlobalCapacity:        cfg.Executor.GlobalCapacity,
		HighUtilization:       cfg.Executor.HighUtilization,
		ResumeUtilization:     cfg.Executor.ResumeUtilization,
		CooldownInterval:      cfg.Executor.CooldownInterval,
		QueueCapacityPerClass: cfg.Executor.QueueCapacityPerClass,
	})
	go exec.RunMetricsReporter(ctx, m, 5*time.Second)

	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return fmt.Errorf("xearthlayerd: configuring providers: %w", err)
	}

	ddsFormat := parseFormat(cfg.Pipeline.DDSFormat)
	pipe := pipeline.New(c, exec, providers, pipeline.Config{
		JobTimeout: cfg.Pipeline.JobTimeout,
		FanOut:     cfg.Pipeline.FanOut,
		Format:     ddsFormat,
	})
	pipe.SetMetrics(m)

	fsys := vfs.New(idx, pipe, cfg.Pipeline.DDSFormat, log)
	server, err := fs.Mount(mountpoint, fsys.Root(), &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:  "xearthlayer",
			Name:    "xearthlayer",
			Options: []string{"ro", "default_permissions"},
		},
	})
	if err != nil {
		return fmt.Errorf("xearthlayerd: mounting %s: %w", mountpoint, err)
	}
	log.Info().Str("mountpoint", mountpoint).Msg("filesystem mounted")

	// cfg.validate (called from config.Load) guarantees at least one
	// provider; the prefetch coordinator always warms the first one.
	primaryTag := cfg.Providers[0].Tag
	co := prefetch.New(c, pipe, exec, idx, prefetch.Config{
		GroundRadiusTiles:  cfg.Prefetch.GroundRadiusTiles,
		GroundZoom:         cfg.Prefetch.GroundZoom,
		CruiseZooms:        cfg.Prefetch.CruiseZooms,
		LeadDistanceDeg:    cfg.Prefetch.LeadDistanceDeg,
		BandWidthDeg:       cfg.Prefetch.BandWidthDeg,
		MaxCandidates:      cfg.Prefetch.MaxCandidates,
		GracePeriod:        cfg.Prefetch.GracePeriod,
		RampUpPeriod:       cfg.Prefetch.RampUpPeriod,
		PhaseHysteresis:    cfg.Prefetch.PhaseHysteresis,
		PhaseSpeedThreshKt: cfg.Prefetch.PhaseSpeedThreshKt,
		TurnWindowSamples:  cfg.Prefetch.TurnWindowSamples,
		TurnVarianceThresh: cfg.Prefetch.TurnVarianceThresh,
	}, primaryTag, cfg.Pipeline.DDSFormat, log)
	co.SetMetrics(m)

	src := telemetrySource(cfg.Telemetry)
	go co.Run(ctx, src)
	log.Info().Str("proto", viper.GetString("telemetry-proto")).Int("port", cfg.Telemetry.ListenPort).Msg("prefetch coordinator running")

	httpServer := startHTTPServer(viper.GetString("metrics-addr"))

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown error")
	}

	if err := server.Unmount(); err != nil {
		log.Warn().Err(err).Msg("unmount error")
	}

	return nil
}

func loadOrBuildIndex(cfg config.IndexConfig) (*index.Index, error) {
	sources := make([]index.Source, len(cfg.SourceRoots))
	for i, root := range cfg.SourceRoots {
		sources[i] = index.Source{Name: fmt.Sprintf("%02d", i), Root: root}
	}

	fingerprint, err := index.Fingerprint(cfg.SoftwareVers, sources, "")
	if err != nil {
		return nil, fmt.Errorf("computing fingerprint: %w", err)
	}

	if cfg.CacheFile != "" {
		if idx, ok := index.Load(cfg.CacheFile, fingerprint); ok {
			log.Info().Str("cache_file", cfg.CacheFile).Msg("loaded persisted index")
			if cfg.SnapshotDSN != "" {
				if err := snapshotIndex(idx, cfg.SnapshotDSN, cfg.SnapshotBatchSize); err != nil {
					log.Warn().Err(err).Msg("failed to build queryable index snapshot")
				}
			}
			return idx, nil
		}
	}

	bar := progressbar.NewOptions(len(sources),
		progressbar.OptionSetDescription("scanning source trees"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
	idx, err := index.BuildWithProgress(sources, func(sourceName string, filesScanned int) {
		_ = bar.Add(1)
		log.Debug().Str("source", sourceName).Int("files", filesScanned).Msg("source scanned")
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sources: %w", err)
	}
	_ = bar.Finish()

	if cfg.CacheFile != "" {
		if err := idx.Save(cfg.CacheFile, fingerprint); err != nil {
			log.Warn().Err(err).Msg("failed to persist index cache")
		}
	}

	if cfg.SnapshotDSN != "" {
		if err := snapshotIndex(idx, cfg.SnapshotDSN, cfg.SnapshotBatchSize); err != nil {
			log.Warn().Err(err).Msg("failed to build queryable index snapshot")
		}
	}

	return idx, nil
}

// snapshotIndex mirrors idx into a queryable sqlite database at dsn, for
// source trees large enough that a caller wants a durable existence
// query alongside the in-memory map. Opt-in via IndexConfig.SnapshotDSN;
// most deployments never set it and pay no sqlite cost at all.
func snapshotIndex(idx *index.Index, dsn string, batchSize int) error {
	snap, err := index.OpenSnapshot(dsn, batchSize)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer snap.Close()

	if err := index.FromIndex(idx, snap); err != nil {
		return fmt.Errorf("populating snapshot: %w", err)
	}
	log.Info().Str("snapshot_dsn", dsn).Msg("built queryable index snapshot")
	return nil
}

func buildProviders(cfgs []config.ProviderConfig) (map[string]provider.Provider, error) {
	providers := make(map[string]provider.Provider, len(cfgs))
	for _, pc := range cfgs {
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		switch pc.Kind {
		case "bing":
			providers[pc.Tag] = provider.NewBingProvider(pc.Tag, pc.Subdomains, pc.MaxZoom, timeout)
		case "google":
			providers[pc.Tag] = provider.NewGoogleProvider(pc.Tag, pc.Version, pc.MaxZoom, timeout)
		default:
			return nil, fmt.Errorf("unknown provider kind %q for tag %q", pc.Kind, pc.Tag)
		}
	}
	return providers, nil
}

func parseFormat(name string) dds.Format {
	if name == "bc3" {
		return dds.FormatBC3
	}
	return dds.FormatBC1
}

func telemetrySource(cfg config.TelemetryConfig) telemetry.Source {
	if viper.GetString("telemetry-proto") == "none" {
		return telemetry.NewFeed(nil, time.Second, log)
	}
	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	return telemetry.NewUDPSource(addr, log)
}

func startHTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("metrics/health endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics http server failed")
		}
	}()

	return srv
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
