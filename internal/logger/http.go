// 包 logger：外部 HTTP 调用日志，统一记录出站请求的关键维度（方法、主机、路径、状态、耗时）
package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingTransport：包装 RoundTripper 以记录每次出站调用
// 背景：路由服务与 Overpass 调用耗时长且易失败，需要逐次留痕便于排查
type loggingTransport struct {
	l    *slog.Logger
	base http.RoundTripper
}

// Transport：生成出站日志传输层
// 约束：不读取请求体与响应体，避免大载荷拖慢调用；base 为空时使用 http.DefaultTransport
func Transport(l *slog.Logger, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if l == nil {
		l = L()
	}
	return &loggingTransport{l: l, base: base}
}

// RoundTrip：透传请求并记录状态与耗时
func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(r)
	dur := time.Since(start)
	if err != nil {
		t.l.Debug("http_out_error",
			"method", r.Method,
			"host", r.URL.Host,
			"path", r.URL.Path,
			"duration_ms", dur.Milliseconds(),
			"err", err,
		)
		return nil, err
	}
	t.l.Debug("http_out",
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", dur.Milliseconds(),
	)
	return resp, nil
}
