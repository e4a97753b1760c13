package config

import (
	"path/filepath"
	"testing"
	"time"

	"access-matrix/internal/population"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKSPACE", "/data/run")
	c, err := Load()
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, filepath.Join("/data/run", "input", "municipalities.geojson"), c.RegionSource)
	assert.Equal(t, filepath.Join("/data/run", "output"), c.BlobRoot)
	assert.Equal(t, filepath.Join("/data/run", "output"), c.SamplePointsDir)
	assert.Equal(t, population.KindPoint, c.PopulationKind)
	assert.Equal(t, 10000.0, c.BufferRadiusM)
	assert.Equal(t, 1000.0, c.GridSpacingM)
	assert.Equal(t, 50.0, c.OriginFractionPct)
	assert.Equal(t, 5.0, c.DestThreshold)
	assert.True(t, c.ReuseSelection)
	assert.True(t, c.ComputeMatrix)
	assert.False(t, c.AcquireRoads)
	assert.Equal(t, int64(100), c.MinArtifactBytes)
	assert.Equal(t, "EPSG:4326", c.InputCRS)
	assert.Equal(t, "EPSG:25832", c.WorkCRS)
	assert.Equal(t, 120*time.Second, c.ORSTimeout)
	assert.Equal(t, 5, c.OverpassRetries)
	assert.Equal(t, 60*time.Second, c.OverpassMaxDelay)
	assert.Equal(t, "artifact", c.LedgerDriver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POPULATION_KIND", "raster")
	t.Setenv("ORIGIN_FRACTION_PCT", "25")
	t.Setenv("REUSE_SELECTION", "false")
	t.Setenv("ORS_RATE_LIMIT_PER_MIN", "40")
	t.Setenv("RUN_TAG", "v2")
	t.Setenv("LEDGER_DRIVER", "sqlite")
	c, err := Load()
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, population.KindRaster, c.PopulationKind)
	assert.Equal(t, 25.0, c.OriginFractionPct)
	assert.False(t, c.ReuseSelection)
	assert.Equal(t, 40, c.ORSRatePerMinute)
	assert.Equal(t, "v2", c.RunTag)
	assert.Equal(t, "sqlite", c.LedgerDriver)
}

func TestLoadReportsParseErrors(t *testing.T) {
	t.Setenv("GRID_SPACING_M", "wide")
	t.Setenv("COMPUTE_MATRIX", "maybe")
	t.Setenv("POPULATION_KIND", "hexagon")
	t.Setenv("ORIGIN_SEED", "-1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORIGIN_SEED")
	assert.Contains(t, err.Error(), "GRID_SPACING_M")
	assert.Contains(t, err.Error(), "COMPUTE_MATRIX")
	assert.Contains(t, err.Error(), "POPULATION_KIND")
}

func TestLoadOriginSeed(t *testing.T) {
	t.Setenv("ORIGIN_SEED", "18446744073709551615")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), c.OriginSeed)
}

func TestLoadNormalizesDriverNames(t *testing.T) {
	cases := []struct{ blob, ledger, wantBlob, wantLedger string }{
		{"FS", "Artifact", "fs", "artifact"},
		{"file", "pg", "fs", "postgres"},
		{"mem", "SQLite", "memory", "sqlite"},
		{"S3", "REDIS", "s3", "redis"},
	}
	for _, tc := range cases {
		t.Run(tc.blob+"_"+tc.ledger, func(t *testing.T) {
			t.Setenv("BLOB_DRIVER", tc.blob)
			t.Setenv("LEDGER_DRIVER", tc.ledger)
			c, err := Load()
			require.NoError(t, err)
			require.NoError(t, c.Validate())
			assert.Equal(t, tc.wantBlob, c.BlobDriver)
			assert.Equal(t, tc.wantLedger, c.LedgerDriver)
		})
	}
}

func TestValidateRejectsImpossibleValues(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	bad := c
	bad.GridSpacingM = 0
	bad.OriginFractionPct = 120
	bad.WorkCRS = "EPSG:3035"
	bad.BlobDriver = "ftp"
	bad.RunTag = "a/b"
	err = bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"GRID_SPACING_M", "ORIGIN_FRACTION_PCT", "WORK_CRS", "BLOB_DRIVER", "RUN_TAG"} {
		assert.Contains(t, err.Error(), want)
	}
}
