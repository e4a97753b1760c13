package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// 文档注释：坐标参考系与投影
// 背景：缓冲半径、网格间距与邻近判定都以米为单位，计算在米制投影下进行；路由服务与 Overpass 只接受经纬度。
// 约束：支持 EPSG:4326、EPSG:3857 与 UTM 北半球分带（EPSG:326NN、EPSG:258NN，ETRS89 按零参数基准转换处理）；
// UTM 由 proj4 定义串构建，转换失败的点投影为 NaN，由下游修复步骤剔除。
type CRS struct {
	Code      string
	ToWGS84   orb.Projection
	FromWGS84 orb.Projection
}

func identity(p orb.Point) orb.Point { return p }

// lonLatDef：经纬度（度）
const lonLatDef = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// ParseCRS：解析 EPSG 编码
func ParseCRS(code string) (CRS, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	switch c {
	case "EPSG:4326", "WGS84":
		return CRS{Code: "EPSG:4326", ToWGS84: identity, FromWGS84: identity}, nil
	case "EPSG:3857", "EPSG:900913":
		return CRS{Code: "EPSG:3857", ToWGS84: project.Mercator.ToWGS84, FromWGS84: project.WGS84.ToMercator}, nil
	}
	num, ok := strings.CutPrefix(c, "EPSG:")
	if !ok {
		return CRS{}, fmt.Errorf("unsupported crs %q", code)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return CRS{}, fmt.Errorf("unsupported crs %q", code)
	}
	var def string
	switch {
	case n > 32600 && n <= 32660:
		def = fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84 +datum=WGS84 +units=m +no_defs", n-32600)
	case n >= 25828 && n <= 25838:
		def = fmt.Sprintf("+proj=utm +zone=%d +ellps=GRS80 +towgs84=0,0,0 +units=m +no_defs", n-25800)
	default:
		return CRS{}, fmt.Errorf("unsupported crs %q", code)
	}
	inv, fwd, err := transforms(def)
	if err != nil {
		return CRS{}, fmt.Errorf("crs %s: %w", code, err)
	}
	return CRS{Code: "EPSG:" + num, ToWGS84: inv, FromWGS84: fwd}, nil
}

// transforms：构建 def 与经纬度之间的双向投影
func transforms(def string) (toWGS84, fromWGS84 orb.Projection, err error) {
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %q: %w", def, err)
	}
	ll, err := proj.Parse(lonLatDef)
	if err != nil {
		return nil, nil, fmt.Errorf("parse longlat: %w", err)
	}
	inv, err := sr.NewTransform(ll)
	if err != nil {
		return nil, nil, err
	}
	fwd, err := ll.NewTransform(sr)
	if err != nil {
		return nil, nil, err
	}
	return projection(inv), projection(fwd), nil
}

func projection(t proj.Transformer) orb.Projection {
	return func(p orb.Point) orb.Point {
		x, y, err := t(p[0], p[1])
		if err != nil {
			return orb.Point{math.NaN(), math.NaN()}
		}
		return orb.Point{x, y}
	}
}

// Transform：返回从 from 到 to 的投影；同一坐标系返回恒等投影
func Transform(from, to CRS) orb.Projection {
	if from.Code == to.Code {
		return identity
	}
	return func(p orb.Point) orb.Point { return to.FromWGS84(from.ToWGS84(p)) }
}
