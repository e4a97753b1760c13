// 路网采样点预取：逐区域下载 Overpass 路网、过滤、网格采样并写入采样点缓存，供主程序复用
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/config"
	"access-matrix/internal/logger"
	"access-matrix/internal/pipeline"
	"access-matrix/internal/roads"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	defer logger.Close()
	l.Info("roads_ingest_start")
	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	refresh := strings.ToLower(os.Getenv("ROADS_REFRESH")) == "true"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	fs, err := artifact.NewFS(cfg.SamplePointsDir)
	if err != nil {
		l.Error("sample_cache_error", "err", err)
		os.Exit(1)
	}
	cache := &pipeline.CacheSource{Store: fs, GridSpacingM: cfg.GridSpacingM}
	oc := roads.NewClient(cfg.OverpassURL, cfg.OverpassTimeout)
	oc.Retries, oc.BackoffBase, oc.MaxDelay = cfg.OverpassRetries, cfg.OverpassBackoff, cfg.OverpassMaxDelay

	var ok, skipped, failed int
	for _, r := range regions {
		if ctx.Err() != nil {
			break
		}
		if !refresh {
			if _, err := cache.Points(ctx, r); err == nil {
				l.Info("roads_cached", "region", r.ID)
				skipped++
				continue
			}
		}
		t0 := time.Now()
		pts, err := roads.Acquire(ctx, oc, r.Buffer, crs.Work, cfg.GridSpacingM)
		if err != nil {
			if errors.Is(err, roads.ErrRetriesExhausted) {
				l.Error("roads_download_skipped", "region", r.ID, "err", err)
			} else {
				l.Error("roads_acquire_error", "region", r.ID, "err", err)
			}
			failed++
			continue
		}
		if err := cache.Save(ctx, r, pts); err != nil {
			l.Error("roads_cache_write_error", "region", r.ID, "err", err)
			failed++
			continue
		}
		ok++
		l.Info("roads_region_done", "region", r.ID, "points", len(pts), "duration_ms", time.Since(t0).Milliseconds())
	}
	l.Info("roads_ingest_done", "ok", ok, "skipped", skipped, "failed", failed)
	if ctx.Err() != nil || failed > 0 {
		logger.Close()
		os.Exit(1)
	}
}
