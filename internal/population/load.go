package population

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Kind：人口数据表达方式
type Kind string

const (
	KindPoint  Kind = "point"
	KindArea   Kind = "area"
	KindRaster Kind = "raster"
	KindCSV    Kind = "csv"
)

// ParseKind：解析 POPULATION_KIND
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPoint, KindArea, KindRaster, KindCSV:
		return k, nil
	case "":
		return KindPoint, nil
	}
	return "", fmt.Errorf("unknown population kind %q", s)
}

// 文档注释：加载人口数据为统一的人口单元
// 背景：统计数据以点（网格中心）、面（统计区）或栅格提供；聚合只需要“位置 + 人数”。
// 约束：
// - point：GeoJSON 点要素，人数取 field 属性；
// - area：GeoJSON 面要素，位置取面质心；
// - raster：ESRI ASCII Grid，位置取像元中心，NODATA 与非正值跳过；
// - csv：分号分隔，列 x_mp_100m、y_mp_100m 与 field，无法解析的行跳过。
// 坐标按 proj 投影到工作坐标系（proj 为空时不投影）。
func Load(kind Kind, data []byte, field string, proj orb.Projection) ([]spatial.PopulationUnit, error) {
	var (
		units []spatial.PopulationUnit
		err   error
	)
	switch kind {
	case KindPoint, KindArea:
		units, err = loadGeoJSON(data, field, kind == KindArea)
	case KindRaster:
		units, err = loadASCIIGrid(data)
	case KindCSV:
		units, err = loadCSV(data, field)
	default:
		return nil, fmt.Errorf("unknown population kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	if proj != nil {
		for i := range units {
			units[i].Pos = proj(units[i].Pos)
		}
	}
	return units, nil
}

func loadGeoJSON(data []byte, field string, area bool) ([]spatial.PopulationUnit, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode population: %w", err)
	}
	units := make([]spatial.PopulationUnit, 0, len(fc.Features))
	for i, f := range fc.Features {
		count, ok := spatial.NumberProp(f.Properties, field)
		if !ok || count <= 0 {
			continue
		}
		var pos orb.Point
		switch g := f.Geometry.(type) {
		case orb.Point:
			pos = g
		case orb.Polygon, orb.MultiPolygon:
			if !area {
				return nil, fmt.Errorf("decode population: feature %d is %T in point mode", i, g)
			}
			pos, _ = planar.CentroidArea(g)
		default:
			continue
		}
		units = append(units, spatial.PopulationUnit{ID: int64(i), Pos: pos, Count: count})
	}
	return units, nil
}

// loadASCIIGrid：解析 ESRI ASCII 栅格（ncols/nrows/xll*/yll*/cellsize/NODATA_value 头部）
func loadASCIIGrid(data []byte) ([]spatial.PopulationUnit, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)
	hdr := map[string]float64{}
	var first string
	for sc.Scan() {
		key := strings.ToLower(sc.Text())
		if _, err := strconv.ParseFloat(key, 64); err == nil {
			first = key
			break
		}
		if !sc.Scan() {
			return nil, errors.New("raster: truncated header")
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("raster: bad header value for %s: %w", key, err)
		}
		hdr[key] = v
	}
	ncols, nrows, cell := int(hdr["ncols"]), int(hdr["nrows"]), hdr["cellsize"]
	if ncols <= 0 || nrows <= 0 || cell <= 0 {
		return nil, errors.New("raster: ncols, nrows and cellsize are required")
	}
	x0, y0 := hdr["xllcorner"]+cell/2, hdr["yllcorner"]+cell/2
	if v, ok := hdr["xllcenter"]; ok {
		x0 = v
	}
	if v, ok := hdr["yllcenter"]; ok {
		y0 = v
	}
	nodata, hasNodata := hdr["nodata_value"]
	units := make([]spatial.PopulationUnit, 0)
	next := func() (string, bool) {
		if first != "" {
			s := first
			first = ""
			return s, true
		}
		if sc.Scan() {
			return sc.Text(), true
		}
		return "", false
	}
	for k := 0; k < ncols*nrows; k++ {
		tok, ok := next()
		if !ok {
			return nil, fmt.Errorf("raster: expected %d cells, got %d", ncols*nrows, k)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("raster: cell %d: %w", k, err)
		}
		if (hasNodata && v == nodata) || v <= 0 {
			continue
		}
		row, col := k/ncols, k%ncols
		pos := orb.Point{x0 + float64(col)*cell, y0 + float64(nrows-1-row)*cell}
		units = append(units, spatial.PopulationUnit{ID: int64(k), Pos: pos, Count: v})
	}
	return units, sc.Err()
}

// loadCSV：分号分隔的网格中心点表
func loadCSV(data []byte, field string) ([]spatial.PopulationUnit, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("population csv header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	xi, okx := col["x_mp_100m"]
	yi, oky := col["y_mp_100m"]
	vi, okv := col[field]
	if !okx || !oky || !okv {
		return nil, fmt.Errorf("population csv: need columns x_mp_100m, y_mp_100m and %s", field)
	}
	var units []spatial.PopulationUnit
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("population csv line %d: %w", line, err)
		}
		if len(rec) <= max(xi, yi, vi) {
			continue
		}
		x, e1 := strconv.ParseFloat(strings.TrimSpace(rec[xi]), 64)
		y, e2 := strconv.ParseFloat(strings.TrimSpace(rec[yi]), 64)
		v, e3 := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(rec[vi]), ",", "."), 64)
		if e1 != nil || e2 != nil || e3 != nil || v <= 0 {
			continue
		}
		units = append(units, spatial.PopulationUnit{ID: int64(line), Pos: orb.Point{x, y}, Count: v})
	}
	return units, nil
}
