package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/config"
	"access-matrix/internal/matrix"
	"access-matrix/internal/roads"
	"access-matrix/internal/selection"
	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRouter struct {
	calls int
	fail  map[int64]error
}

func (r *countingRouter) Matrix(_ context.Context, req matrix.Request) ([]matrix.Row, error) {
	r.calls++
	if err := r.fail[req.Origin.ID]; err != nil {
		return nil, err
	}
	rows := make([]matrix.Row, len(req.Destinations))
	for i, d := range req.Destinations {
		dist := req.Origin.Pos.Lon() - d.Pos.Lon()
		if dist < 0 {
			dist = -dist
		}
		rows[i] = matrix.Row{FromID: req.Origin.ID, ToID: d.ID, DistanceKM: dist / 1000, DurationH: dist / 50000, Reachable: true}
	}
	return rows, nil
}

type staticSource map[string][]spatial.Point

func (s staticSource) Points(_ context.Context, r spatial.Region) ([]spatial.Point, error) {
	pts, ok := s[r.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSamples, r.ID)
	}
	return pts, nil
}

func square(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

// line of 20 road points 500 m apart, each with 10 persons right on top of it
func fixture(offset float64) ([]spatial.Point, []spatial.PopulationUnit) {
	var pts []spatial.Point
	var units []spatial.PopulationUnit
	for i := 0; i < 20; i++ {
		p := orb.Point{offset + 250 + float64(i)*500, 5000}
		pts = append(pts, spatial.Point{ID: int64(i + 1), Pos: p})
		units = append(units, spatial.PopulationUnit{ID: int64(i + 1), Pos: p, Count: 10})
	}
	return pts, units
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newOrchestrator(st artifact.Store, src SampleSource, units []spatial.PopulationUnit, r matrix.Router) *Orchestrator {
	return &Orchestrator{
		Store:      st,
		Router:     r,
		Samples:    src,
		Sampler:    &selection.Sampler{Store: st, Reuse: true, FractionPct: 50, Seed: 11, Log: quiet()},
		Population: units,
		Opts: Options{
			GridSpacingM:      1000,
			OriginFractionPct: 50,
			DestThreshold:     5,
			MarginPct:         2,
			Profile:           "driving-car",
			ComputeMatrix:     true,
		},
		Now: func() time.Time { return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC) },
		Log: quiet(),
	}
}

func TestRegionPaths(t *testing.T) {
	p := RegionPaths("Oberland", 50, 1000, "")
	assert.Equal(t, "Oberland_50perc/random_extract_Oberland.geojson", p.Extract)
	assert.Equal(t, "Oberland_50perc/Oberland_ew.geojson", p.EW)
	assert.Equal(t, "Oberland_50perc/destination_points_1000mgrid_Oberland50perc.geojson", p.Destinations)
	assert.Equal(t, "Oberland_50perc/matrices/matrix_Oberland_1000mgrid_42.csv", p.Matrix(42))
	assert.Equal(t, "Oberland_50perc/matrices/tmp_42_A.csv", p.Temp(42, "A"))
	assert.Equal(t, "Oberland_50perc/err_points_25_03_07.geojson", p.ErrPoints(time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Oberland_12.5perc_v2/random_extract_Oberland.geojson", RegionPaths("Oberland", 12.5, 1000, "v2").Extract)
	assert.Equal(t, "osmpoints_500mgrid_Oberland.geojson", SampleKey("Oberland", 500))
}

func TestRegionPathsKeepRegionInOneSegment(t *testing.T) {
	p := RegionPaths("Nord/Süd", 50, 1000, "")
	assert.Equal(t, "Nord_Süd_50perc", p.Dir)
	assert.Equal(t, "Nord_Süd_50perc/random_extract_Nord_Süd.geojson", p.Extract)
	assert.Equal(t, "Nord_Süd_50perc/matrices/matrix_Nord_Süd_1000mgrid_7.csv", p.Matrix(7))

	p = RegionPaths(`../a\b`, 50, 1000, "")
	assert.Equal(t, "__a_b_50perc", p.Dir)
	assert.Equal(t, "__a_b_50perc/__a_b_ew.geojson", p.EW)
	assert.Equal(t, "osmpoints_1000mgrid___a_b.geojson", SampleKey(`../a\b`, 1000))

	root := t.TempDir()
	st, err := artifact.NewFS(root)
	require.NoError(t, err)
	require.NoError(t, st.Put(context.Background(), p.EW, []byte("{}")))
	_, err = os.Stat(filepath.Join(root, "__a_b_50perc", "__a_b_ew.geojson"))
	assert.NoError(t, err)
}

func TestRunRegionProducesAllArtifacts(t *testing.T) {
	ctx := context.Background()
	st := artifact.NewMemory()
	pts, units := fixture(0)
	region := spatial.NewRegion("A", square(0, 0, 10000, 10000), 1000)
	router := &countingRouter{}
	o := newOrchestrator(st, staticSource{"A": pts}, units, router)

	rep, err := o.Run(ctx, []spatial.Region{region})
	require.NoError(t, err)
	require.Len(t, rep.Regions, 1)
	rr := rep.Regions[0]
	require.NoError(t, rr.Err)
	assert.Equal(t, OutcomeOK, rr.Outcome)
	assert.Equal(t, 20, rr.Candidates)
	assert.Equal(t, 10, rr.Origins)
	assert.InDelta(t, 200, rr.Population, 1e-9, "all persons land on some origin")
	assert.Equal(t, rr.Origins, rr.Matrix.Done)
	assert.Equal(t, rr.Origins, router.calls)
	assert.Empty(t, rr.ErrPointsKey)
	assert.Zero(t, rep.Failed)

	paths := RegionPaths("A", 50, 1000, "")
	for _, k := range []string{paths.Extract, paths.EW, paths.Destinations} {
		_, err := st.Stat(ctx, k)
		assert.NoError(t, err, k)
	}
	assert.Len(t, st.Keys(paths.MatrixDir+"/"), rr.Origins)

	data, err := st.Get(ctx, paths.Destinations)
	require.NoError(t, err)
	dests, err := spatial.DecodePoints(data, nil)
	require.NoError(t, err)
	assert.Len(t, dests, rr.Destinations)
	for _, d := range dests {
		assert.GreaterOrEqual(t, d.Mass, 5.0)
	}
}

func TestRunIsResumable(t *testing.T) {
	ctx := context.Background()
	st := artifact.NewMemory()
	pts, units := fixture(0)
	region := spatial.NewRegion("A", square(0, 0, 10000, 10000), 1000)

	first := &countingRouter{}
	_, err := newOrchestrator(st, staticSource{"A": pts}, units, first).Run(ctx, []spatial.Region{region})
	require.NoError(t, err)
	require.NotZero(t, first.calls)

	second := &countingRouter{}
	rep, err := newOrchestrator(st, staticSource{"A": pts}, units, second).Run(ctx, []spatial.Region{region})
	require.NoError(t, err)
	assert.Zero(t, second.calls)
	assert.Equal(t, first.calls, rep.Totals.Skipped)
}

func TestRegionFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := artifact.NewMemory()
	pts, units := fixture(20000)
	regions := []spatial.Region{
		spatial.NewRegion("missing", square(0, 0, 10000, 10000), 1000),
		spatial.NewRegion("B", square(20000, 0, 30000, 10000), 1000),
	}
	router := &countingRouter{}
	rep, err := newOrchestrator(st, staticSource{"B": pts}, units, router).Run(ctx, regions)
	require.NoError(t, err)
	require.Len(t, rep.Regions, 2)
	assert.Equal(t, OutcomeFailed, rep.Regions[0].Outcome)
	assert.ErrorIs(t, rep.Regions[0].Err, ErrNoSamples)
	assert.Equal(t, OutcomeOK, rep.Regions[1].Outcome)
	assert.Equal(t, 1, rep.Failed)
	assert.NotZero(t, router.calls)
}

func TestErrPointsWrittenOnlyOnFailure(t *testing.T) {
	ctx := context.Background()
	st := artifact.NewMemory()
	pts, units := fixture(0)
	region := spatial.NewRegion("A", square(0, 0, 10000, 10000), 1000)

	// learn which origins get drawn, then fail the first one
	scratch := artifact.NewMemory()
	origins, err := (&selection.Sampler{Store: scratch, FractionPct: 50, Seed: 11, Log: quiet()}).Sample(ctx, "x", pts)
	require.NoError(t, err)
	bad := origins[0]

	router := &countingRouter{fail: map[int64]error{bad.ID: errors.New("upstream 502")}}
	rep, err := newOrchestrator(st, staticSource{"A": pts}, units, router).Run(ctx, []spatial.Region{region})
	require.NoError(t, err)
	rr := rep.Regions[0]
	require.Len(t, rr.Matrix.Failed, 1)
	assert.Equal(t, bad.ID, rr.Matrix.Failed[0].OriginID)
	assert.Equal(t, "A_50perc/err_points_25_03_07.geojson", rr.ErrPointsKey)

	data, err := st.Get(ctx, rr.ErrPointsKey)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	f := fc.Features[0]
	assert.Equal(t, bad.Pos, f.Geometry.(orb.Point))
	assert.Equal(t, float64(bad.ID), f.Properties["id"])
	assert.Equal(t, "other", f.Properties["class"])
	assert.True(t, strings.Contains(f.Properties.MustString("cause"), "upstream 502"))
}

func TestNoDestinationsSkipsMatrix(t *testing.T) {
	st := artifact.NewMemory()
	pts, _ := fixture(0)
	region := spatial.NewRegion("A", square(0, 0, 10000, 10000), 1000)
	router := &countingRouter{}
	rep, err := newOrchestrator(st, staticSource{"A": pts}, nil, router).Run(context.Background(), []spatial.Region{region})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoDestinations, rep.Regions[0].Outcome)
	assert.NoError(t, rep.Regions[0].Err)
	assert.Zero(t, router.calls)
}

func TestCancelStopsBetweenRegions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := newOrchestrator(artifact.NewMemory(), staticSource{}, nil, &countingRouter{}).
		Run(ctx, []spatial.Region{spatial.NewRegion("A", square(0, 0, 1, 1), 0)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rep.Regions)
}

func TestAcquiringSourcePrefersCacheThenWritesBack(t *testing.T) {
	ctx := context.Background()
	cache := &CacheSource{Store: artifact.NewMemory(), GridSpacingM: 1000}
	region := spatial.NewRegion("A", square(0, 0, 10, 10), 0)
	calls := 0
	want := []spatial.Point{{ID: 3, Pos: orb.Point{1.5, 2.25}}}
	src := &AcquiringSource{Cache: cache, Log: quiet(), Acquire: func(context.Context, spatial.Region) ([]spatial.Point, error) {
		calls++
		return want, nil
	}}

	got, err := src.Points(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	got, err = src.Points(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls, "second call is served from the cache")
}

func TestAcquiringSourceExhaustedWithoutCache(t *testing.T) {
	src := &AcquiringSource{
		Cache: &CacheSource{Store: artifact.NewMemory(), GridSpacingM: 1000},
		Log:   quiet(),
		Acquire: func(context.Context, spatial.Region) ([]spatial.Point, error) {
			return nil, fmt.Errorf("%w after 5 attempts", roads.ErrRetriesExhausted)
		},
	}
	_, err := src.Points(context.Background(), spatial.NewRegion("A", square(0, 0, 1, 1), 0))
	assert.ErrorIs(t, err, roads.ErrRetriesExhausted)
}

func TestLoadInputsProjectsToWorkCRS(t *testing.T) {
	dir := t.TempDir()
	regions := `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"region":"Nord","name":"a"},"geometry":{"type":"Polygon","coordinates":[[[9,48],[9.1,48],[9.1,48.1],[9,48.1],[9,48]]]}},
 {"type":"Feature","properties":{"region":"Nord","name":"b"},"geometry":{"type":"Polygon","coordinates":[[[9.1,48],[9.2,48],[9.2,48.1],[9.1,48.1],[9.1,48]]]}}]}`
	pop := `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"Einwohner":12},"geometry":{"type":"Point","coordinates":[9.05,48.05]}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r.geojson"), []byte(regions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.geojson"), []byte(pop), 0o644))
	t.Setenv("WORKSPACE", dir)
	t.Setenv("REGION_SOURCE", filepath.Join(dir, "r.geojson"))
	t.Setenv("POPULATION_SOURCE", filepath.Join(dir, "p.geojson"))
	cfg, err := config.Load()
	require.NoError(t, err)
	crs, err := ParseCRSPair(cfg)
	require.NoError(t, err)

	rs, err := LoadRegions(cfg, crs)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "Nord", rs[0].ID)
	assert.Len(t, rs[0].Boundary, 2)

	units, err := LoadPopulation(cfg, crs)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, 12.0, units[0].Count)
	assert.True(t, planar.MultiPolygonContains(rs[0].Boundary, units[0].Pos))
	assert.Greater(t, units[0].Pos[0], 1000.0, "projected to metres")
}
