package spatial

import (
	"math"

	"github.com/paulmach/orb"
)

// 文档注释：KD-Tree 最近站点查询（二维平面）
// 背景：人口单元按最近站点归属，等价于落入该站点的 Voronoi 单元；逐点线性扫描在万级站点下过慢。
// 约束：按 x/y 交替中位数分割；距离相等时取输入序号最小的站点，保证边界上的单元只归属一次且结果可复现。
type kdNode struct {
	pos orb.Point
	idx int
	ax  int // 0:x,1:y
	l   *kdNode
	r   *kdNode
}

type kdEntry struct {
	pos orb.Point
	idx int
}

// SiteIndex：站点最近邻索引，只读，可并发查询
type SiteIndex struct {
	root *kdNode
	n    int
}

// NewSiteIndex：以站点坐标构建索引，序号即输入下标
func NewSiteIndex(sites []orb.Point) *SiteIndex {
	es := make([]kdEntry, len(sites))
	for i, p := range sites {
		es[i] = kdEntry{pos: p, idx: i}
	}
	return &SiteIndex{root: buildKD(es, 0), n: len(sites)}
}

// Len：站点数量
func (s *SiteIndex) Len() int { return s.n }

func buildKD(es []kdEntry, depth int) *kdNode {
	if len(es) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(es) / 2
	selectNth(es, mid, ax)
	node := &kdNode{pos: es[mid].pos, idx: es[mid].idx, ax: ax}
	node.l = buildKD(es[:mid], depth+1)
	node.r = buildKD(es[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []kdEntry, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []kdEntry, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j].pos[ax] < pv.pos[ax] {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

// Nearest：返回最近站点序号与欧氏距离；空索引返回 -1
func (s *SiteIndex) Nearest(pt orb.Point) (int, float64) {
	best := -1
	bestD := math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		dx := pt[0] - n.pos[0]
		dy := pt[1] - n.pos[1]
		d := dx*dx + dy*dy
		if d < bestD || (d == bestD && n.idx < best) {
			bestD = d
			best = n.idx
		}
		diff := pt[n.ax] - n.pos[n.ax]
		first, second := n.l, n.r
		if diff > 0 {
			first, second = n.r, n.l
		}
		dfs(first)
		// 分割面距离不超过当前最优时另一侧仍可能存在更近或等距且序号更小的站点
		if diff*diff <= bestD {
			dfs(second)
		}
	}
	dfs(s.root)
	if best < 0 {
		return -1, math.Inf(1)
	}
	return best, math.Sqrt(bestD)
}
