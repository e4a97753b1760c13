package roads

import (
	"encoding/xml"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// roadClasses：参与采样的 highway 取值
var roadClasses = map[string]bool{
	"motorway": true, "trunk": true, "primary": true, "secondary": true, "tertiary": true,
	"unclassified": true, "residential": true,
	"motorway_link": true, "trunk_link": true, "primary_link": true, "secondary_link": true, "tertiary_link": true,
	"living_street": true, "service": true,
}

// Accept：道路等级过滤；access=private 的路段排除
func Accept(tags osm.Tags) bool {
	return roadClasses[tags.Find("highway")] && tags.Find("access") != "private"
}

// 文档注释：解析 Overpass XML 并提取可用路段
// 背景：查询使用 out geom，节点坐标随路段一起返回，无需另行解析 node 元素。
// 约束：缺少坐标的节点跳过；少于两个点的路段丢弃；proj 非空时把经纬度投影到工作坐标系。
func Roads(data []byte, proj orb.Projection) ([]orb.LineString, error) {
	var o osm.OSM
	if err := xml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode osm: %w", err)
	}
	out := make([]orb.LineString, 0, len(o.Ways))
	for _, w := range o.Ways {
		if w == nil || !Accept(w.Tags) {
			continue
		}
		ls := make(orb.LineString, 0, len(w.Nodes))
		for _, n := range w.Nodes {
			if n.Lat == 0 && n.Lon == 0 {
				continue
			}
			p := orb.Point{n.Lon, n.Lat}
			if proj != nil {
				p = proj(p)
			}
			ls = append(ls, p)
		}
		if len(ls) >= 2 {
			out = append(out, ls)
		}
	}
	return out, nil
}
