// 包 matrix：逐起点的可达性矩阵计算，含一次性拆分重试、失败记录与断点续跑
package matrix

import (
	"context"
	"errors"

	"access-matrix/internal/spatial"

	"github.com/paulmach/orb"
)

// ErrSearchInfeasible：路由服务因搜索空间超限（访问节点数超过上限）拒绝请求
// 约束：只有该类错误触发拆分；路由客户端的错误类型需在 errors.Is 下与之匹配
var ErrSearchInfeasible = errors.New("routing search exceeds service limits")

// ErrNoDestinations：目的地集合为空，矩阵阶段无事可做
var ErrNoDestinations = errors.New("no destinations")

// Request：单个起点对一组目的地的矩阵请求
type Request struct {
	Origin       spatial.Point
	Destinations []spatial.Point
	Profile      string
}

// Row：矩阵结果的一行；Reachable 为 false 时距离与时长无意义，写出为空字段
type Row struct {
	FromID     int64
	ToID       int64
	DistanceKM float64
	DurationH  float64
	Reachable  bool
}

// Router：路由服务的矩阵接口
type Router interface {
	Matrix(ctx context.Context, req Request) ([]Row, error)
}

// ErrorClass：失败分类
type ErrorClass string

const (
	ClassInfeasible ErrorClass = "infeasible"
	ClassOther      ErrorClass = "other"
	ClassStorage    ErrorClass = "storage"
)

// ErrorRecord：无法得到结果的起点
type ErrorRecord struct {
	OriginID int64
	Origin   orb.Point
	Class    ErrorClass
	Cause    string
}

// Report：一次矩阵阶段的结果汇总
// Done 含经拆分完成的起点（Split 为其子集计数）；Calls 为实际发出的路由请求数
type Report struct {
	Done    int
	Skipped int
	Split   int
	Failed  []ErrorRecord
	Calls   int
}

// Merge：累加另一份汇总
func (r *Report) Merge(o Report) {
	r.Done += o.Done
	r.Skipped += o.Skipped
	r.Split += o.Split
	r.Calls += o.Calls
	r.Failed = append(r.Failed, o.Failed...)
}
