// 程序入口：读取配置、初始化存储与路由客户端，按区域串行计算可达性矩阵
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/config"
	"access-matrix/internal/ledger"
	"access-matrix/internal/logger"
	"access-matrix/internal/metrics"
	"access-matrix/internal/ors"
	"access-matrix/internal/pipeline"
	"access-matrix/internal/roads"
	"access-matrix/internal/selection"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	defer logger.Close()
	t0 := time.Now()
	l.Info("run_start")

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_loaded", "workspace", cfg.Workspace, "work_crs", cfg.WorkCRS, "grid_m", cfg.GridSpacingM,
		"fraction_pct", cfg.OriginFractionPct, "threshold", cfg.DestThreshold, "reuse_selection", cfg.ReuseSelection)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics_server_error", "err", err)
			}
		}()
		defer srv.Close()
		l.Info("metrics_listen", "addr", cfg.MetricsAddr)
	}

	crs, err := pipeline.ParseCRSPair(cfg)
	if err != nil {
		l.Error("crs_error", "err", err)
		os.Exit(1)
	}
	regions, err := pipeline.LoadRegions(cfg, crs)
	if err != nil {
		l.Error("regions_load_error", "err", err)
		os.Exit(1)
	}
	l.Info("regions_loaded", "count", len(regions))
	units, err := pipeline.LoadPopulation(cfg, crs)
	if err != nil {
		l.Error("population_load_error", "err", err)
		os.Exit(1)
	}
	l.Info("population_loaded", "units", len(units), "kind", cfg.PopulationKind)

	st, err := artifact.Open(ctx, cfg.BlobDriver, cfg.BlobRoot)
	if err != nil {
		l.Error("store_open_error", "err", err)
		os.Exit(1)
	}
	l.Info("store_open_ok", "driver", st.Driver())
	led, closeLedger, err := ledger.Open(ctx, ledger.Options{Driver: cfg.LedgerDriver, Store: st, MinBytes: cfg.MinArtifactBytes}, cfg.LedgerSQLitePath)
	if err != nil {
		l.Error("ledger_open_error", "err", err)
		os.Exit(1)
	}
	defer closeLedger()
	l.Info("ledger_open_ok", "driver", led.Name())

	cacheStore, err := artifact.NewFS(cfg.SamplePointsDir)
	if err != nil {
		l.Error("sample_cache_error", "err", err)
		os.Exit(1)
	}
	cache := &pipeline.CacheSource{Store: cacheStore, GridSpacingM: cfg.GridSpacingM}
	var samples pipeline.SampleSource = cache
	if cfg.AcquireRoads {
		oc := roads.NewClient(cfg.OverpassURL, cfg.OverpassTimeout)
		oc.Retries, oc.BackoffBase, oc.MaxDelay = cfg.OverpassRetries, cfg.OverpassBackoff, cfg.OverpassMaxDelay
		samples = &pipeline.AcquiringSource{Cache: cache, Acquire: pipeline.RoadsAcquirer(oc, crs.Work, cfg.GridSpacingM)}
		l.Info("roads_acquire_enabled", "url", cfg.OverpassURL)
	}

	orch := &pipeline.Orchestrator{
		Store:      st,
		Ledger:     led,
		Router:     ors.New(cfg.ORSBaseURL, cfg.ORSAPIKey, cfg.ORSTimeout, cfg.ORSRatePerMinute, crs.Work.ToWGS84),
		Samples:    samples,
		Population: units,
		Sampler: &selection.Sampler{
			Store:       st,
			Reuse:       cfg.ReuseSelection,
			FractionPct: cfg.OriginFractionPct,
			Seed:        cfg.OriginSeed,
		},
		Opts: pipeline.Options{
			GridSpacingM:      cfg.GridSpacingM,
			OriginFractionPct: cfg.OriginFractionPct,
			DestThreshold:     cfg.DestThreshold,
			MarginPct:         cfg.MarginPct,
			MinMass:           cfg.MinMass,
			RunTag:            cfg.RunTag,
			Profile:           cfg.ORSProfile,
			ComputeMatrix:     cfg.ComputeMatrix,
		},
	}
	rep, runErr := orch.Run(ctx, regions)
	for _, r := range rep.Regions {
		if r.ErrPointsKey != "" {
			l.Warn("region_failed_origins", "region", r.Region, "failed", len(r.Matrix.Failed), "key", r.ErrPointsKey)
		}
	}
	elapsed := time.Since(t0)
	l.Info("run_summary",
		"regions", len(rep.Regions),
		"regions_failed", rep.Failed,
		"origins_done", rep.Totals.Done,
		"origins_skipped", rep.Totals.Skipped,
		"origins_split", rep.Totals.Split,
		"origins_failed", len(rep.Totals.Failed),
		"routing_calls", rep.Totals.Calls,
		"runtime", elapsed.Round(time.Second).String(),
	)
	if runErr != nil {
		l.Error("run_interrupted", "err", runErr)
		logger.Close()
		os.Exit(1)
	}
}
