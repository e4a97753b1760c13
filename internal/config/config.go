// 包 config：运行配置，全部来自环境变量（入口处先加载 .env）
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"access-matrix/internal/population"
	"access-matrix/internal/spatial"
)

// Config：一次运行的全部参数
type Config struct {
	Workspace        string
	RegionSource     string
	RegionField      string
	PopulationSource string
	PopulationKind   population.Kind
	PopulationField  string
	InputCRS         string
	WorkCRS          string

	BufferRadiusM     float64
	GridSpacingM      float64
	OriginFractionPct float64
	DestThreshold     float64
	ReuseSelection    bool
	ComputeMatrix     bool
	OriginSeed        uint64
	MarginPct         float64
	MinMass           float64
	MinArtifactBytes  int64
	RunTag            string
	SamplePointsDir   string
	AcquireRoads      bool

	ORSBaseURL       string
	ORSAPIKey        string
	ORSProfile       string
	ORSTimeout       time.Duration
	ORSRatePerMinute int

	OverpassURL      string
	OverpassTimeout  time.Duration
	OverpassRetries  int
	OverpassBackoff  float64
	OverpassMaxDelay time.Duration

	BlobDriver       string
	BlobRoot         string
	LedgerDriver     string
	LedgerSQLitePath string
	MetricsAddr      string
}

// 文档注释：从环境变量读取配置
// 背景：批处理任务按环境区分数据目录与外部服务，沿用“变量为空取默认值”的读取方式。
// 约束：数值解析失败即返回错误并指明变量名；合法性校验由 Validate 负责。
func Load() (Config, error) {
	var errs []error
	r := reader{errs: &errs}
	ws := r.getStr("WORKSPACE", ".")
	out := filepath.Join(ws, "output")
	c := Config{
		Workspace:         ws,
		RegionSource:      r.getStr("REGION_SOURCE", filepath.Join(ws, "input", "municipalities.geojson")),
		RegionField:       r.getStr("REGION_FIELD", "region"),
		PopulationSource:  r.getStr("POPULATION_SOURCE", filepath.Join(ws, "input", "population.geojson")),
		PopulationField:   r.getStr("POPULATION_FIELD", "Einwohner"),
		InputCRS:          r.getStr("INPUT_CRS", "EPSG:4326"),
		WorkCRS:           r.getStr("WORK_CRS", "EPSG:25832"),
		BufferRadiusM:     r.getFloat("BUFFER_RADIUS_M", 10000),
		GridSpacingM:      r.getFloat("GRID_SPACING_M", 1000),
		OriginFractionPct: r.getFloat("ORIGIN_FRACTION_PCT", 50),
		DestThreshold:     r.getFloat("DEST_THRESHOLD", 5),
		ReuseSelection:    r.getBool("REUSE_SELECTION", true),
		ComputeMatrix:     r.getBool("COMPUTE_MATRIX", true),
		OriginSeed:        r.getUint("ORIGIN_SEED", 0),
		MarginPct:         r.getFloat("TESSELLATION_MARGIN_PCT", 2),
		MinMass:           r.getFloat("MIN_MASS", 0),
		MinArtifactBytes:  int64(r.getInt("MIN_ARTIFACT_BYTES", 100)),
		RunTag:            r.getStr("RUN_TAG", ""),
		SamplePointsDir:   r.getStr("SAMPLE_POINTS_DIR", out),
		AcquireRoads:      r.getBool("ACQUIRE_ROADS", false),
		ORSBaseURL:        r.getStr("ORS_BASE_URL", "https://api.openrouteservice.org"),
		ORSAPIKey:         os.Getenv("ORS_API_KEY"),
		ORSProfile:        r.getStr("ORS_PROFILE", "driving-car"),
		ORSTimeout:        time.Duration(r.getInt("ORS_TIMEOUT_S", 120)) * time.Second,
		ORSRatePerMinute:  r.getInt("ORS_RATE_LIMIT_PER_MIN", 0),
		OverpassURL:       r.getStr("OVERPASS_URL", "https://lz4.overpass-api.de/api/interpreter"),
		OverpassTimeout:   time.Duration(r.getInt("OVERPASS_TIMEOUT_S", 600)) * time.Second,
		OverpassRetries:   r.getInt("OVERPASS_RETRIES", 5),
		OverpassBackoff:   r.getFloat("OVERPASS_BACKOFF_BASE", 2),
		OverpassMaxDelay:  time.Duration(r.getInt("OVERPASS_MAX_DELAY_S", 60)) * time.Second,
		BlobDriver:        canonical(r.getStr("BLOB_DRIVER", "fs"), blobAliases),
		BlobRoot:          r.getStr("BLOB_FS_ROOT", out),
		LedgerDriver:      canonical(r.getStr("LEDGER_DRIVER", "artifact"), ledgerAliases),
		LedgerSQLitePath:  r.getStr("LEDGER_SQLITE_PATH", filepath.Join(out, "ledger.db")),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
	}
	kind, err := population.ParseKind(r.getStr("POPULATION_KIND", string(population.KindPoint)))
	if err != nil {
		errs = append(errs, fmt.Errorf("POPULATION_KIND: %w", err))
	}
	c.PopulationKind = kind
	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return c, nil
}

// Validate：拒绝不可能的取值
func (c Config) Validate() error {
	var errs []error
	if c.GridSpacingM <= 0 {
		errs = append(errs, errors.New("GRID_SPACING_M must be > 0"))
	}
	if c.BufferRadiusM < 0 {
		errs = append(errs, errors.New("BUFFER_RADIUS_M must be >= 0"))
	}
	if c.OriginFractionPct <= 0 || c.OriginFractionPct > 100 {
		errs = append(errs, errors.New("ORIGIN_FRACTION_PCT must be in (0, 100]"))
	}
	if c.DestThreshold < 0 {
		errs = append(errs, errors.New("DEST_THRESHOLD must be >= 0"))
	}
	if c.MarginPct < 0 {
		errs = append(errs, errors.New("TESSELLATION_MARGIN_PCT must be >= 0"))
	}
	if c.MinArtifactBytes < 0 {
		errs = append(errs, errors.New("MIN_ARTIFACT_BYTES must be >= 0"))
	}
	if c.OverpassRetries < 1 {
		errs = append(errs, errors.New("OVERPASS_RETRIES must be >= 1"))
	}
	if c.OverpassBackoff <= 1 {
		errs = append(errs, errors.New("OVERPASS_BACKOFF_BASE must be > 1"))
	}
	if c.ORSRatePerMinute < 0 {
		errs = append(errs, errors.New("ORS_RATE_LIMIT_PER_MIN must be >= 0"))
	}
	if c.RegionField == "" {
		errs = append(errs, errors.New("REGION_FIELD must not be empty"))
	}
	if strings.ContainsAny(c.RunTag, `/\`) {
		errs = append(errs, errors.New("RUN_TAG must not contain path separators"))
	}
	for name, code := range map[string]string{"INPUT_CRS": c.InputCRS, "WORK_CRS": c.WorkCRS} {
		if _, err := spatial.ParseCRS(code); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	switch c.BlobDriver {
	case "fs", "s3", "memory":
	default:
		errs = append(errs, fmt.Errorf("BLOB_DRIVER %q: want fs, s3 or memory", c.BlobDriver))
	}
	switch c.LedgerDriver {
	case "artifact", "postgres", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER %q: want artifact, postgres, sqlite or redis", c.LedgerDriver))
	}
	if c.ComputeMatrix && c.ORSBaseURL == "" {
		errs = append(errs, errors.New("ORS_BASE_URL must be set when COMPUTE_MATRIX is enabled"))
	}
	return errors.Join(errs...)
}

// 驱动别名，与 artifact.Open、ledger.Open 接受的名称一致
var (
	blobAliases   = map[string]string{"file": "fs", "mem": "memory"}
	ledgerAliases = map[string]string{"pg": "postgres"}
)

// canonical：驱动名转小写并展开别名
func canonical(name string, aliases map[string]string) string {
	name = strings.ToLower(name)
	if v, ok := aliases[name]; ok {
		return v
	}
	return name
}

// reader：带默认值的环境变量读取，解析错误累积到 errs
type reader struct{ errs *[]error }

func (r reader) getStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r reader) getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r reader) getUint(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r reader) getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r reader) getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
