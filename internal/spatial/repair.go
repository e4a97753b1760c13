package spatial

import (
	"github.com/paulmach/orb"
)

// 文档注释：几何修复
// 背景：行政边界与路网派生点常含非有限坐标、未闭合环或退化环；下游的包含判定与距离计算要求几何有效。
// 约束：对有效输入无损（不改变合法点与合法环）；无法修复的部分直接丢弃而不是报错。
// 自相交环（如“8”字形）保持原样不拆分，包含判定按奇偶规则，两瓣均视为在内。

// RepairPoints：剔除坐标非有限的点，返回修复结果与丢弃数量
func RepairPoints(pts []Point) ([]Point, int) {
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		if Finite(p.Pos) {
			out = append(out, p)
		}
	}
	return out, len(pts) - len(out)
}

// RepairMultiPolygon：逐面修复；外环无效的面整体丢弃，无效洞单独丢弃
func RepairMultiPolygon(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, poly := range mp {
		if p, ok := repairPolygon(poly); ok {
			out = append(out, p)
		}
	}
	return out
}

func repairPolygon(poly orb.Polygon) (orb.Polygon, bool) {
	if len(poly) == 0 {
		return nil, false
	}
	outer, ok := repairRing(poly[0])
	if !ok {
		return nil, false
	}
	out := orb.Polygon{outer}
	for _, h := range poly[1:] {
		if r, ok := repairRing(h); ok {
			out = append(out, r)
		}
	}
	return out, true
}

// repairRing：去除非有限点与相邻重复点并闭合；少于三个不同顶点或全部共线视为退化
// 约束：不以有向面积判退化，对称的 8 字形环有向面积为零但两瓣均有效
func repairRing(r orb.Ring) (orb.Ring, bool) {
	out := make(orb.Ring, 0, len(r)+1)
	for _, p := range r {
		if !Finite(p) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil, false
	}
	out = append(out, out[0])
	if collinear(out) {
		return nil, false
	}
	return out, true
}

func collinear(r orb.Ring) bool {
	a := r[0]
	for i := 1; i < len(r)-1; i++ {
		b := r[i]
		if b == a {
			continue
		}
		for _, c := range r[i+1:] {
			if (b[0]-a[0])*(c[1]-a[1])-(b[1]-a[1])*(c[0]-a[0]) != 0 {
				return false
			}
		}
		return true
	}
	return true
}
