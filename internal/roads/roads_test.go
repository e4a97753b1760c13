package roads

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOSM = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="Overpass API">
  <way id="1">
    <nd ref="11" lat="0.0" lon="0.1"/>
    <nd ref="12" lat="0.0" lon="0.9"/>
    <tag k="highway" v="residential"/>
  </way>
  <way id="2">
    <nd ref="21" lat="0.5" lon="0.1"/>
    <nd ref="22" lat="0.5" lon="0.9"/>
    <tag k="highway" v="service"/>
    <tag k="access" v="private"/>
  </way>
  <way id="3">
    <nd ref="31" lat="0.8" lon="0.1"/>
    <nd ref="32" lat="0.8" lon="0.9"/>
    <tag k="highway" v="footway"/>
  </way>
  <way id="4">
    <nd ref="41" lat="0.3" lon="0.5"/>
    <nd ref="42" lat="0.7" lon="0.5"/>
    <tag k="highway" v="primary_link"/>
  </way>
</osm>`

func quietClient(u string) *Client {
	c := NewClient(u, 30*time.Second)
	c.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return c
}

func TestQueryFormat(t *testing.T) {
	c := quietClient("http://x")
	q := c.Query(orb.Bound{Min: orb.Point{8.5, 47.5}, Max: orb.Point{9.5, 48.25}})
	assert.Equal(t, `[out:xml][timeout:30];way["highway"](47.5000000,8.5000000,48.2500000,9.5000000);out geom;`, q)
}

func TestDelayIsCapped(t *testing.T) {
	c := quietClient("http://x")
	assert.Equal(t, 2*time.Second, c.Delay(1))
	assert.Equal(t, 16*time.Second, c.Delay(4))
	assert.Equal(t, 60*time.Second, c.Delay(6))
	assert.Equal(t, 60*time.Second, c.Delay(200))
}

func TestFetchRetriesGatewayTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("data"), `way["highway"]`)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		_, _ = io.WriteString(w, sampleOSM)
	}))
	defer srv.Close()

	c := quietClient(srv.URL)
	var delays []time.Duration
	c.Sleep = func(_ context.Context, d time.Duration) error { delays = append(delays, d); return nil }
	body, err := c.Fetch(context.Background(), orb.Bound{Max: orb.Point{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, sampleOSM, string(body))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := quietClient(srv.URL)
	c.Sleep = func(context.Context, time.Duration) error { return nil }
	_, err := c.Fetch(context.Background(), orb.Bound{Max: orb.Point{1, 1}})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(5), calls.Load())
}

func TestFetchDoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := quietClient(srv.URL)
	c.Sleep = func(context.Context, time.Duration) error { t.Fatal("unexpected sleep"); return nil }
	_, err := c.Fetch(context.Background(), orb.Bound{Max: orb.Point{1, 1}})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchStopsOnCancelledBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	c := quietClient(srv.URL)
	c.Sleep = func(ctx context.Context, _ time.Duration) error { cancel(); return ctx.Err() }
	_, err := c.Fetch(ctx, orb.Bound{Max: orb.Point{1, 1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcceptRoadClasses(t *testing.T) {
	assert.True(t, Accept(osm.Tags{{Key: "highway", Value: "tertiary_link"}}))
	assert.False(t, Accept(osm.Tags{{Key: "highway", Value: "track"}}))
	assert.False(t, Accept(osm.Tags{{Key: "highway", Value: "primary"}, {Key: "access", Value: "private"}}))
	assert.True(t, Accept(osm.Tags{{Key: "highway", Value: "primary"}, {Key: "access", Value: "destination"}}))
}

func TestRoadsFiltersAndProjects(t *testing.T) {
	ways, err := Roads([]byte(sampleOSM), func(p orb.Point) orb.Point { return orb.Point{p[0] * 10, p[1] * 10} })
	require.NoError(t, err)
	require.Len(t, ways, 2)
	assert.Equal(t, orb.LineString{{1, 0}, {9, 0}}, ways[0])
	assert.Equal(t, orb.LineString{{5, 3}, {5, 7}}, ways[1])

	_, err = Roads([]byte("<osm><way"), nil)
	assert.Error(t, err)
}

func TestSnapPicksNearestSegmentWithinRange(t *testing.T) {
	idx, err := NewSegmentIndex([]orb.LineString{{{0, 0}, {10, 0}}, {{0, 4}, {10, 4}}})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	q, ok := idx.Snap(orb.Point{3, 1}, 2)
	require.True(t, ok)
	assert.Equal(t, orb.Point{3, 0}, q)

	q, ok = idx.Snap(orb.Point{12, 0}, 2)
	require.True(t, ok)
	assert.Equal(t, orb.Point{10, 0}, q, "clamped to segment end")

	_, ok = idx.Snap(orb.Point{5, 2}, 1.5)
	assert.False(t, ok)

	q, ok = idx.Snap(orb.Point{5, 2}, 2)
	require.True(t, ok)
	assert.Equal(t, orb.Point{5, 0}, q, "equidistant goes to the first segment")
}

func square(x0, y0, x1, y1 float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}}
}

func TestSampleGridIDsAndClip(t *testing.T) {
	buf := spatial.NewBuffer(square(0, 0, 40, 20), 0)
	idx, err := NewSegmentIndex([]orb.LineString{{{0, 14}, {40, 14}}})
	require.NoError(t, err)

	pts := Sample(buf, idx, 10)
	// 4 columns x 2 rows; the road at y=14 is within 5 of the first row (y=15) only.
	require.Len(t, pts, 4)
	for i, p := range pts {
		assert.Equal(t, int64(i+1), p.ID)
		assert.Equal(t, orb.Point{5 + 10*float64(i), 14}, p.Pos)
	}
}

func TestSampleDropsDuplicatesAndOutside(t *testing.T) {
	buf := spatial.NewBuffer(square(0, 0, 20, 20), 0)
	// short road reachable from two cells snaps to the same end point
	idx, err := NewSegmentIndex([]orb.LineString{{{10, 15}, {10, 15.5}}, {{25, 5}, {30, 5}}})
	require.NoError(t, err)
	pts := Sample(buf, idx, 10)
	require.Len(t, pts, 1)
	assert.Equal(t, int64(1), pts[0].ID)
}

func TestAcquireEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Contains(t, r.PostForm.Get("data"), "out geom")
		_, _ = io.WriteString(w, sampleOSM)
	}))
	defer srv.Close()

	crs, err := spatial.ParseCRS("EPSG:4326")
	require.NoError(t, err)
	buf := spatial.NewBuffer(square(0, 0, 1, 1), 0)
	pts, err := Acquire(context.Background(), quietClient(srv.URL), buf, crs, 0.25)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, p := range pts {
		assert.True(t, buf.Contains(p.Pos))
		onRoad := p.Pos[1] == 0 || p.Pos[0] == 0.5
		assert.True(t, onRoad, "point %v lies on an accepted road", p.Pos)
	}
}
