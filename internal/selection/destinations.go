// 包 selection：目的地阈值筛选与起点随机抽取
package selection

import (
	"access-matrix/internal/spatial"
)

// DefaultThreshold：目的地最小人口质量
const DefaultThreshold = 5.0

// 文档注释：按人口阈值筛选目的地
// 背景：人口过少的路网点对可达性贡献可忽略，只保留质量不低于阈值的点作为目的地，以压缩矩阵规模。
// 约束：先做点几何修复（剔除非有限坐标），再按 Mass >= threshold 过滤；保持输入顺序；ID 沿用原点。
// 返回：目的地与修复时丢弃的点数；结果为空是合法终态，由调用方决定如何处理。
func Destinations(points []spatial.Point, threshold float64) ([]spatial.Point, int) {
	valid, dropped := spatial.RepairPoints(points)
	out := make([]spatial.Point, 0, len(valid))
	for _, p := range valid {
		if p.Mass >= threshold {
			out = append(out, p)
		}
	}
	return out, dropped
}
