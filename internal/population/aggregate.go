// 包 population：人口数据加载与向路网采样点的聚合
package population

import (
	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
)

// Options：聚合参数
// MarginPct：镶嵌范围外扩比例（百分比，按范围宽高计算）；MinMass：低于该值的聚合结果记为 0，0 表示关闭
type Options struct {
	Buffer    *spatial.Buffer
	MarginPct float64
	MinMass   float64
}

// 文档注释：按最近站点镶嵌聚合人口
// 背景：每个站点的 Voronoi 单元内的人口归属该站点；单元内判定等价于“最近站点”，用 KD-Tree 求解。
// 约束：
// - 返回值对每个站点都有条目（无人口为 0）；
// - 人口单元须落在缓冲区内（给定时）且在镶嵌范围内才计入；
// - 与多个站点等距的单元归属输入顺序最靠前的站点，只计一次；
// - 纯函数，不修改输入。
func Aggregate(sites []spatial.Point, units []spatial.PopulationUnit, opt Options) map[int64]float64 {
	out := make(map[int64]float64, len(sites))
	for _, s := range sites {
		out[s.ID] = 0
	}
	if len(sites) == 0 || len(units) == 0 {
		return out
	}
	pos := make([]orb.Point, len(sites))
	for i, s := range sites {
		pos[i] = s.Pos
	}
	idx := spatial.NewSiteIndex(pos)
	extent := Extent(pos, opt.Buffer, opt.MarginPct)
	for _, u := range units {
		if !spatial.Finite(u.Pos) || u.Count <= 0 {
			continue
		}
		if !extent.Contains(u.Pos) {
			continue
		}
		if opt.Buffer != nil && !opt.Buffer.Contains(u.Pos) {
			continue
		}
		i, _ := idx.Nearest(u.Pos)
		if i < 0 {
			continue
		}
		out[sites[i].ID] += u.Count
	}
	if opt.MinMass > 0 {
		for id, m := range out {
			if m < opt.MinMass {
				out[id] = 0
			}
		}
	}
	return out
}

// Extent：镶嵌范围，为缓冲区外包框与站点外包框的并集，再按比例外扩
func Extent(sites []orb.Point, buf *spatial.Buffer, marginPct float64) orb.Bound {
	b := spatial.BoundOf(sites)
	if buf != nil {
		b = spatial.UnionBound(b, buf.Bound())
	}
	if b.IsEmpty() || marginPct <= 0 {
		return b
	}
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	pad := max(w, h) * marginPct / 100
	return b.Pad(pad)
}

// Apply：把聚合结果写回站点副本
func Apply(sites []spatial.Point, mass map[int64]float64) []spatial.Point {
	out := make([]spatial.Point, len(sites))
	for i, s := range sites {
		s.Mass = mass[s.ID]
		out[i] = s
	}
	return out
}

// Total：人口总量
func Total(units []spatial.PopulationUnit) float64 {
	var sum float64
	for _, u := range units {
		if u.Count > 0 {
			sum += u.Count
		}
	}
	return sum
}
