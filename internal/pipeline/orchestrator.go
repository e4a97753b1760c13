package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/ledger"
	"access-matrix/internal/logger"
	"access-matrix/internal/matrix"
	"access-matrix/internal/metrics"
	"access-matrix/internal/population"
	"access-matrix/internal/selection"
	"access-matrix/internal/spatial"

	"github.com/paulmach/orb/geojson"
)

// 区域结果
const (
	OutcomeOK             = "ok"
	OutcomeNoDestinations = "no_destinations"
	OutcomeFailed         = "failed"
)

// Options：编排参数
type Options struct {
	GridSpacingM      float64
	OriginFractionPct float64
	DestThreshold     float64
	MarginPct         float64
	MinMass           float64
	RunTag            string
	Profile           string
	ComputeMatrix     bool
}

// RegionReport：单个区域的处理结果
type RegionReport struct {
	Region       string
	Outcome      string
	Candidates   int
	Origins      int
	Destinations int
	Population   float64
	Matrix       matrix.Report
	ErrPointsKey string
	Err          error
	Duration     time.Duration
}

// RunReport：一次运行的汇总
type RunReport struct {
	Regions []RegionReport
	Totals  matrix.Report
	Failed  int
}

// Orchestrator：区域编排器
// 约束：严格串行；单个区域的任何错误只影响该区域
type Orchestrator struct {
	Store      artifact.Store
	Ledger     ledger.Ledger
	Router     matrix.Router
	Samples    SampleSource
	Sampler    *selection.Sampler
	Population []spatial.PopulationUnit
	Opts       Options
	Now        func() time.Time
	Log        *slog.Logger
}

// 文档注释：依次处理全部区域
// 背景：整次运行可能持续数小时到数天，区域之间互不影响，单区域失败只写入其报告。
// 返回：每个区域一份报告与全局汇总；上下文取消时返回已完成部分与 ctx.Err()。
func (o *Orchestrator) Run(ctx context.Context, regions []spatial.Region) (RunReport, error) {
	var rep RunReport
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rr := o.RunRegion(ctx, r)
		rep.Regions = append(rep.Regions, rr)
		rep.Totals.Merge(rr.Matrix)
		if rr.Outcome == OutcomeFailed {
			rep.Failed++
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// 文档注释：处理单个区域
// 流程：采样点 → 起点抽取 → 人口聚合 → 写出带人口的起点与目的地图层 → 阈值筛选 → 矩阵计算 → 失败起点图层。
// 约束：
// - 没有目的地时结果为 no_destinations，不进入矩阵阶段，也不视为错误；
// - 失败起点图层仅在存在失败时写出；
// - 错误不向上传播，只记录在报告中。
func (o *Orchestrator) RunRegion(ctx context.Context, r spatial.Region) (rep RegionReport) {
	l := o.log().With("region", r.ID)
	t0 := time.Now()
	rep.Region = r.ID
	defer func() {
		rep.Duration = time.Since(t0)
		if rep.Err != nil {
			rep.Outcome = OutcomeFailed
			l.Error("region_failed", "err", rep.Err, "duration_ms", rep.Duration.Milliseconds())
		} else {
			l.Info("region_done", "outcome", rep.Outcome, "done", rep.Matrix.Done, "skipped", rep.Matrix.Skipped,
				"split", rep.Matrix.Split, "failed", len(rep.Matrix.Failed), "duration_ms", rep.Duration.Milliseconds())
		}
		metrics.RegionsTotal.WithLabelValues(rep.Outcome).Inc()
	}()
	l.Info("region_begin")
	paths := RegionPaths(r.ID, o.Opts.OriginFractionPct, o.Opts.GridSpacingM, o.Opts.RunTag)

	samples, err := o.Samples.Points(ctx, r)
	if err != nil {
		rep.Err = fmt.Errorf("sample points: %w", err)
		return rep
	}
	rep.Candidates = len(samples)

	origins, err := o.Sampler.Sample(ctx, paths.Extract, samples)
	if err != nil {
		rep.Err = fmt.Errorf("origin selection: %w", err)
		return rep
	}
	origins, dropped := spatial.RepairPoints(origins)
	if dropped > 0 {
		l.Warn("origins_repaired", "dropped", dropped)
	}
	rep.Origins = len(origins)

	mass := population.Aggregate(origins, o.Population, population.Options{
		Buffer:    &r.Buffer,
		MarginPct: o.Opts.MarginPct,
		MinMass:   o.Opts.MinMass,
	})
	origins = population.Apply(origins, mass)
	for _, p := range origins {
		rep.Population += p.Mass
	}
	l.Info("population_aggregated", "origins", len(origins), "population", rep.Population)
	if err := o.putPoints(ctx, paths.EW, origins); err != nil {
		rep.Err = err
		return rep
	}

	dests, _ := selection.Destinations(origins, o.Opts.DestThreshold)
	rep.Destinations = len(dests)
	if err := o.putPoints(ctx, paths.Destinations, dests); err != nil {
		rep.Err = err
		return rep
	}
	if len(dests) == 0 {
		l.Warn("region_no_destinations", "threshold", o.Opts.DestThreshold)
		rep.Outcome = OutcomeNoDestinations
		return rep
	}
	rep.Outcome = OutcomeOK
	if !o.Opts.ComputeMatrix {
		l.Info("matrix_disabled")
		return rep
	}

	eng := &matrix.Engine{
		Router:    o.Router,
		Store:     o.Store,
		Ledger:    o.Ledger,
		Profile:   o.Opts.Profile,
		Region:    r.ID,
		ResultKey: paths.Matrix,
		TempKey:   paths.Temp,
		Log:       o.log(),
	}
	mrep, runErr := eng.Run(ctx, origins, dests)
	rep.Matrix = mrep
	if len(mrep.Failed) > 0 {
		key := paths.ErrPoints(o.now())
		if err := o.putErrors(context.WithoutCancel(ctx), key, mrep.Failed); err != nil {
			l.Error("err_points_write_error", "key", key, "err", err)
		} else {
			rep.ErrPointsKey = key
			l.Warn("err_points_written", "key", key, "failed", len(mrep.Failed))
		}
	}
	if runErr != nil {
		rep.Err = fmt.Errorf("matrix: %w", runErr)
	}
	return rep
}

func (o *Orchestrator) putPoints(ctx context.Context, key string, pts []spatial.Point) error {
	data, err := spatial.EncodePoints(pts)
	if err != nil {
		return err
	}
	if err := o.Store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// putErrors：失败起点按原坐标写出，属性 id、class、cause
func (o *Orchestrator) putErrors(ctx context.Context, key string, recs []matrix.ErrorRecord) error {
	if len(recs) == 0 {
		return errors.New("no error records")
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range recs {
		f := geojson.NewFeature(e.Origin)
		f.Properties["id"] = e.OriginID
		f.Properties["class"] = string(e.Class)
		f.Properties["cause"] = e.Cause
		fc.Append(f)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	return o.Store.Put(ctx, key, data)
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) log() *slog.Logger {
	if o.Log == nil {
		return logger.L()
	}
	return o.Log
}
