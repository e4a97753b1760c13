package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RoutingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessmatrix_routing_requests_total",
		Help: "Total routing matrix requests by mode (full, split)",
	}, []string{"mode"})
	RoutingFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessmatrix_routing_failures_total",
		Help: "Total routing matrix failures by class",
	}, []string{"class"})
	RoutingDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "accessmatrix_routing_duration_ms",
		Help:    "Routing matrix call duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	})
	OriginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessmatrix_origins_total",
		Help: "Processed origins by outcome (done, skipped, split, failed)",
	}, []string{"outcome"})
	RegionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessmatrix_regions_total",
		Help: "Processed regions by outcome (ok, no_destinations, failed)",
	}, []string{"outcome"})
	OverpassAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "accessmatrix_overpass_attempts_total",
		Help: "Overpass download attempts by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(RoutingRequestsTotal)
	prometheus.MustRegister(RoutingFailuresTotal)
	prometheus.MustRegister(RoutingDurationMs)
	prometheus.MustRegister(OriginsTotal)
	prometheus.MustRegister(RegionsTotal)
	prometheus.MustRegister(OverpassAttemptsTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口按 METRICS_ADDR 挂载。
func Handler() http.Handler { return promhttp.Handler() }
