package spatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// 文档注释：区域、路网采样点与人口单元的最小数据结构
// 背景：统一承载一次运行内的全部几何输入；坐标均为工作坐标系（米制投影）下的平面坐标。
// 约束：Point 的位置在生成后不可变，仅 Mass 随聚合写入；PopulationUnit 只读。
type Point struct {
	ID   int64
	Pos  orb.Point
	Mass float64
}

// PopulationUnit：人口数据的最小单元（点、面质心或栅格中心）
type PopulationUnit struct {
	ID    int64
	Pos   orb.Point
	Count float64
}

// Buffer：区域边界按半径外扩后的范围
// 约束：判定精确等价于“在边界内或到边界距离不超过半径”，因此缓冲区总包含原边界
type Buffer struct {
	Boundary orb.MultiPolygon
	Radius   float64
	bound    orb.Bound
}

// NewBuffer：构建缓冲区并预计算外包框
func NewBuffer(boundary orb.MultiPolygon, radius float64) Buffer {
	if radius < 0 {
		radius = 0
	}
	b := Buffer{Boundary: boundary, Radius: radius}
	if len(boundary) > 0 {
		b.bound = boundary.Bound().Pad(radius)
	} else {
		b.bound = orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	}
	return b
}

// Contains：点是否落在缓冲区内（边界上视为在内）
func (b Buffer) Contains(p orb.Point) bool {
	if len(b.Boundary) == 0 || !b.bound.Contains(p) {
		return false
	}
	if planar.MultiPolygonContains(b.Boundary, p) {
		return true
	}
	return b.Radius > 0 && planar.DistanceFrom(b.Boundary, p) <= b.Radius
}

// Bound：缓冲区外包框
func (b Buffer) Bound() orb.Bound { return b.bound }

// Region：按区域字段合并后的分析单元
type Region struct {
	ID       string
	Boundary orb.MultiPolygon
	Buffer   Buffer
}

// NewRegion：以边界与缓冲半径构建区域
func NewRegion(id string, boundary orb.MultiPolygon, radius float64) Region {
	return Region{ID: id, Boundary: boundary, Buffer: NewBuffer(boundary, radius)}
}

// BoundOf：点集外包框；空输入返回空框
func BoundOf(pts []orb.Point) orb.Bound {
	if len(pts) == 0 {
		return orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	}
	b := orb.Bound{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	return b
}

// UnionBound：合并两个外包框，任一为空时返回另一个
func UnionBound(a, b orb.Bound) orb.Bound {
	if a.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return a
	}
	return a.Union(b)
}

// Finite：坐标是否均为有限值
func Finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
