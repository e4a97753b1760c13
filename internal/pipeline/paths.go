// 包 pipeline：逐区域编排采样、聚合、筛选与矩阵计算
package pipeline

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Paths：单个区域的产物键（相对存储根）
type Paths struct {
	Region       string
	Grid         string
	Dir          string
	Extract      string
	EW           string
	Destinations string
	MatrixDir    string
}

// RegionPaths：按区域、抽取比例、网格间距与运行标签构造产物键
// 约束：区域名先经 Segment 处理，产物总在区域目录内的单层文件名下
func RegionPaths(region string, pct, gridM float64, runTag string) Paths {
	region = Segment(region)
	p := fmtNum(pct)
	g := fmtNum(gridM)
	dir := fmt.Sprintf("%s_%sperc", region, p)
	if runTag != "" {
		dir += "_" + runTag
	}
	return Paths{
		Region:       region,
		Grid:         g,
		Dir:          dir,
		Extract:      path.Join(dir, "random_extract_"+region+".geojson"),
		EW:           path.Join(dir, region+"_ew.geojson"),
		Destinations: path.Join(dir, fmt.Sprintf("destination_points_%smgrid_%s%sperc.geojson", g, region, p)),
		MatrixDir:    path.Join(dir, "matrices"),
	}
}

// Matrix：起点结果键
func (p Paths) Matrix(originID int64) string {
	return path.Join(p.MatrixDir, fmt.Sprintf("matrix_%s_%smgrid_%d.csv", p.Region, p.Grid, originID))
}

// Temp：拆分半段的临时键
func (p Paths) Temp(originID int64, half string) string {
	return path.Join(p.MatrixDir, fmt.Sprintf("tmp_%d_%s.csv", originID, half))
}

// ErrPoints：失败起点图层键，按运行日期命名
func (p Paths) ErrPoints(now time.Time) string {
	return path.Join(p.Dir, "err_points_"+now.Format("06_01_02")+".geojson")
}

// SampleKey：路网采样点缓存键
func SampleKey(region string, gridM float64) string {
	return fmt.Sprintf("osmpoints_%smgrid_%s.geojson", fmtNum(gridM), Segment(region))
}

var segmentReplacer = strings.NewReplacer("/", "_", `\`, "_", "..", "_")

// Segment：把区域名转为单个路径段，路径分隔符与 ".." 替换为下划线
func Segment(name string) string { return segmentReplacer.Replace(name) }

func fmtNum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
