package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"access-matrix/internal/artifact"
	"access-matrix/internal/logger"
	"access-matrix/internal/roads"
	"access-matrix/internal/spatial"
)

// ErrNoSamples：区域没有可用的路网采样点
var ErrNoSamples = errors.New("no sample points")

// SampleSource：按区域提供路网采样点
type SampleSource interface {
	Points(ctx context.Context, r spatial.Region) ([]spatial.Point, error)
}

// CacheSource：读取已缓存的采样点文件（工作坐标系）
type CacheSource struct {
	Store        artifact.Store
	GridSpacingM float64
}

// Points：缓存缺失时返回包装了 ErrNoSamples 的错误
func (s *CacheSource) Points(ctx context.Context, r spatial.Region) ([]spatial.Point, error) {
	key := SampleKey(r.ID, s.GridSpacingM)
	data, err := s.Store.Get(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, key)
	}
	if err != nil {
		return nil, err
	}
	pts, err := spatial.DecodePoints(data, nil)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoSamples, key)
	}
	return pts, nil
}

// Save：写入缓存
func (s *CacheSource) Save(ctx context.Context, r spatial.Region, pts []spatial.Point) error {
	data, err := spatial.EncodePoints(pts)
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, SampleKey(r.ID, s.GridSpacingM), data)
}

// Acquirer：为区域下载并采样路网点
type Acquirer func(ctx context.Context, r spatial.Region) ([]spatial.Point, error)

// RoadsAcquirer：基于 Overpass 客户端的路网获取
func RoadsAcquirer(c *roads.Client, crs spatial.CRS, spacing float64) Acquirer {
	return func(ctx context.Context, r spatial.Region) ([]spatial.Point, error) {
		return roads.Acquire(ctx, c, r.Buffer, crs, spacing)
	}
}

// AcquiringSource：缓存优先，缺失时在线获取并回写缓存
// 约束：获取失败（含重试用尽）时区域没有采样点，错误原样返回由编排器记入区域报告
type AcquiringSource struct {
	Cache   *CacheSource
	Acquire Acquirer
	Log     *slog.Logger
}

func (s *AcquiringSource) Points(ctx context.Context, r spatial.Region) ([]spatial.Point, error) {
	l := s.Log
	if l == nil {
		l = logger.L()
	}
	pts, err := s.Cache.Points(ctx, r)
	if err == nil {
		l.Info("samples_cached", "region", r.ID, "points", len(pts))
		return pts, nil
	}
	if !errors.Is(err, ErrNoSamples) {
		return nil, err
	}
	l.Info("samples_acquire_begin", "region", r.ID)
	pts, err = s.Acquire(ctx, r)
	if err != nil {
		if errors.Is(err, roads.ErrRetriesExhausted) {
			l.Error("samples_acquire_skipped", "region", r.ID, "err", err)
		}
		return nil, fmt.Errorf("acquire roads: %w", err)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no roads within region %s", ErrNoSamples, r.ID)
	}
	if err := s.Cache.Save(ctx, r, pts); err != nil {
		l.Warn("samples_cache_write_error", "region", r.ID, "err", err)
	}
	return pts, nil
}
