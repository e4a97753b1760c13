package roads

import (
	"context"
	"fmt"
	"math"

	"access-matrix/internal/spatial"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

// segment：路段中的单条线段，作为 R 树条目
type segment struct {
	idx  int
	a, b orb.Point
	rect rtreego.Rect
}

func (s *segment) Bounds() rtreego.Rect { return s.rect }

const rectEps = 1e-9

// newSegment：以线段外包框建立条目；退化维度外扩极小量
func newSegment(idx int, a, b orb.Point) (*segment, error) {
	lo := rtreego.Point{math.Min(a[0], b[0]) - rectEps, math.Min(a[1], b[1]) - rectEps}
	hi := rtreego.Point{math.Max(a[0], b[0]) + rectEps, math.Max(a[1], b[1]) + rectEps}
	r, err := rtreego.NewRectFromPoints(lo, hi)
	if err != nil {
		return nil, err
	}
	return &segment{idx: idx, a: a, b: b, rect: r}, nil
}

// closest：线段上距 p 最近的点及平方距离
func (s *segment) closest(p orb.Point) (orb.Point, float64) {
	dx, dy := s.b[0]-s.a[0], s.b[1]-s.a[1]
	l2 := dx*dx + dy*dy
	t := 0.0
	if l2 > 0 {
		t = ((p[0]-s.a[0])*dx + (p[1]-s.a[1])*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	q := orb.Point{s.a[0] + t*dx, s.a[1] + t*dy}
	ex, ey := p[0]-q[0], p[1]-q[1]
	return q, ex*ex + ey*ey
}

// SegmentIndex：路段线段的 R 树索引
type SegmentIndex struct {
	tree *rtreego.Rtree
	n    int
}

// NewSegmentIndex：把全部路段拆成线段批量建树
func NewSegmentIndex(roads []orb.LineString) (*SegmentIndex, error) {
	var objs []rtreego.Spatial
	for _, ls := range roads {
		for i := 1; i < len(ls); i++ {
			if !spatial.Finite(ls[i-1]) || !spatial.Finite(ls[i]) {
				continue
			}
			s, err := newSegment(len(objs), ls[i-1], ls[i])
			if err != nil {
				return nil, err
			}
			objs = append(objs, s)
		}
	}
	return &SegmentIndex{tree: rtreego.NewTree(2, 25, 50, objs...), n: len(objs)}, nil
}

// Len：线段数量
func (x *SegmentIndex) Len() int { return x.n }

// Snap：在 maxDist 范围内把 p 吸附到最近线段；距离相同时取序号小的线段
func (x *SegmentIndex) Snap(p orb.Point, maxDist float64) (orb.Point, bool) {
	if x.n == 0 {
		return orb.Point{}, false
	}
	win, err := rtreego.NewRectFromPoints(
		rtreego.Point{p[0] - maxDist, p[1] - maxDist},
		rtreego.Point{p[0] + maxDist, p[1] + maxDist},
	)
	if err != nil {
		return orb.Point{}, false
	}
	best, bestD, bestIdx, found := orb.Point{}, maxDist*maxDist, math.MaxInt, false
	for _, obj := range x.tree.SearchIntersect(win) {
		s := obj.(*segment)
		q, d := s.closest(p)
		if d < bestD || (d == bestD && (!found || s.idx < bestIdx)) {
			best, bestD, bestIdx, found = q, d, s.idx, true
		}
	}
	return best, found
}

// 文档注释：网格采样并吸附到路网
// 背景：在缓冲区外包框上按固定间距铺网格，取每个网格中心，吸附到半个间距内最近的道路上，得到均匀分布的路网点。
// 约束：
// - 网格自外包框左上角开始按行编号，ID = 行*列数 + 列 + 1，作为采样点的稳定标识；
// - 半个间距内没有道路的网格不产生点；吸附后不在缓冲区内的点丢弃；
// - 坐标完全相同的点只保留编号最小的一个。
func Sample(buf spatial.Buffer, idx *SegmentIndex, spacing float64) []spatial.Point {
	b := buf.Bound()
	if spacing <= 0 || b.IsEmpty() || idx == nil {
		return nil
	}
	cols := int(math.Max(1, math.Ceil((b.Max[0]-b.Min[0])/spacing)))
	rows := int(math.Max(1, math.Ceil((b.Max[1]-b.Min[1])/spacing)))
	seen := make(map[orb.Point]struct{})
	var out []spatial.Point
	for r := 0; r < rows; r++ {
		y := b.Max[1] - (float64(r)+0.5)*spacing
		for c := 0; c < cols; c++ {
			x := b.Min[0] + (float64(c)+0.5)*spacing
			q, ok := idx.Snap(orb.Point{x, y}, spacing/2)
			if !ok || !buf.Contains(q) {
				continue
			}
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, spatial.Point{ID: int64(r*cols + c + 1), Pos: q})
		}
	}
	return out
}

// WGS84Bound：工作坐标外包框换算为经纬度外包框（沿边加密采样以覆盖投影弯曲）
func WGS84Bound(b orb.Bound, toWGS84 orb.Projection) orb.Bound {
	const steps = 16
	var pts []orb.Point
	for i := 0; i <= steps; i++ {
		f := float64(i) / steps
		x := b.Min[0] + f*(b.Max[0]-b.Min[0])
		y := b.Min[1] + f*(b.Max[1]-b.Min[1])
		pts = append(pts,
			toWGS84(orb.Point{x, b.Min[1]}), toWGS84(orb.Point{x, b.Max[1]}),
			toWGS84(orb.Point{b.Min[0], y}), toWGS84(orb.Point{b.Max[0], y}),
		)
	}
	return spatial.BoundOf(pts)
}

// 文档注释：为单个区域获取路网采样点
// 流程：缓冲区外包框换算经纬度 → Overpass 下载（504 重试）→ 道路过滤并投影 → 建立线段索引 → 网格采样吸附。
// 返回：重试用尽时返回包装了 ErrRetriesExhausted 的错误，由调用方决定跳过该区域。
func Acquire(ctx context.Context, c *Client, buf spatial.Buffer, crs spatial.CRS, spacing float64) ([]spatial.Point, error) {
	bbox := WGS84Bound(buf.Bound(), crs.ToWGS84)
	data, err := c.Fetch(ctx, bbox)
	if err != nil {
		return nil, err
	}
	ways, err := Roads(data, crs.FromWGS84)
	if err != nil {
		return nil, err
	}
	idx, err := NewSegmentIndex(ways)
	if err != nil {
		return nil, fmt.Errorf("index roads: %w", err)
	}
	pts := Sample(buf, idx, spacing)
	c.log().Info("roads_sampled", "ways", len(ways), "segments", idx.Len(), "points", len(pts), "spacing_m", spacing)
	return pts, nil
}
