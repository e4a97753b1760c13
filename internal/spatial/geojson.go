package spatial

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// 文档注释：按区域字段合并行政边界
// 背景：输入为市镇级边界，分析单元是其上一级区域；同一字段值的全部面合并为一个多面，顺序按首次出现。
// 约束：仅接受 Polygon/MultiPolygon；几何先修复再投影到工作坐标系；修复后为空的区域丢弃。
func DecodeRegions(data []byte, field string, proj orb.Projection, radius float64) ([]Region, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	var order []string
	parts := map[string]orb.MultiPolygon{}
	for i, f := range fc.Features {
		id, ok := stringProp(f.Properties, field)
		if !ok {
			return nil, fmt.Errorf("decode regions: feature %d has no %q property", i, field)
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}
		if _, seen := parts[id]; !seen {
			order = append(order, id)
		}
		parts[id] = append(parts[id], mp...)
	}
	regions := make([]Region, 0, len(order))
	for _, id := range order {
		mp := RepairMultiPolygon(parts[id])
		if proj != nil {
			mp = RepairMultiPolygon(project.MultiPolygon(mp.Clone(), proj))
		}
		if len(mp) == 0 {
			continue
		}
		regions = append(regions, NewRegion(id, mp, radius))
	}
	return regions, nil
}

// EncodePoints：点图层编码为 GeoJSON（属性 id、mass）
// 约束：坐标按工作坐标系原样写出，浮点按最短可逆表示，复读后位置逐位一致
func EncodePoints(pts []Point) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, p := range pts {
		f := geojson.NewFeature(p.Pos)
		f.Properties["id"] = p.ID
		f.Properties["mass"] = p.Mass
		fc.Append(f)
	}
	return json.Marshal(fc)
}

// DecodePoints：解析点图层；缺少 id 时按要素序号编号，缺少 mass 时记 0
func DecodePoints(data []byte, proj orb.Projection) ([]Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	pts := make([]Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		pos, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("decode points: feature %d is %T, want Point", i, f.Geometry)
		}
		if proj != nil {
			pos = proj(pos)
		}
		id := int64(i)
		if v, ok := numberProp(f.Properties, "id"); ok {
			id = int64(v)
		}
		mass, _ := numberProp(f.Properties, "mass")
		pts = append(pts, Point{ID: id, Pos: pos, Mass: mass})
	}
	return pts, nil
}

func numberProp(p geojson.Properties, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// NumberProp：读取数值属性，兼容数字与数字字符串
func NumberProp(p geojson.Properties, key string) (float64, bool) { return numberProp(p, key) }

func stringProp(p geojson.Properties, key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return "", false
}
