// 包 roads：路网获取（Overpass）、道路等级过滤与网格采样吸附
package roads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"access-matrix/internal/logger"
	"access-matrix/internal/metrics"

	"github.com/paulmach/orb"
)

// ErrRetriesExhausted：网关超时重试次数用尽
var ErrRetriesExhausted = errors.New("overpass: retries exhausted")

// StatusError：Overpass 返回的非 200 响应
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("overpass: status %d: %s", e.Status, e.Body)
}

// Client：Overpass 下载客户端
type Client struct {
	URL string
	// QueryTimeout：写入查询语句的服务端超时
	QueryTimeout time.Duration
	Retries      int
	BackoffBase  float64
	MaxDelay     time.Duration
	HTTP         *http.Client
	Log          *slog.Logger
	// Sleep 可替换以便测试；默认按上下文可取消地等待
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewClient：按默认参数创建客户端（5 次尝试、底数 2、最长等待 60s）
func NewClient(endpoint string, queryTimeout time.Duration) *Client {
	if queryTimeout <= 0 {
		queryTimeout = 600 * time.Second
	}
	return &Client{
		URL:          endpoint,
		QueryTimeout: queryTimeout,
		Retries:      5,
		BackoffBase:  2,
		MaxDelay:     60 * time.Second,
		HTTP:         &http.Client{Timeout: queryTimeout + time.Minute, Transport: logger.Transport(nil, nil)},
		Log:          logger.L(),
	}
}

// Query：按 WGS84 外包框构造 highway 查询（南、西、北、东）
func (c *Client) Query(bbox orb.Bound) string {
	secs := int(c.QueryTimeout / time.Second)
	if secs <= 0 {
		secs = 600
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 7, 64) }
	return fmt.Sprintf(`[out:xml][timeout:%d];way["highway"](%s,%s,%s,%s);out geom;`,
		secs, f(bbox.Min.Lat()), f(bbox.Min.Lon()), f(bbox.Max.Lat()), f(bbox.Max.Lon()))
}

// Delay：第 attempt 次失败后的等待时长 min(base^attempt, MaxDelay)
func (c *Client) Delay(attempt int) time.Duration {
	base := c.BackoffBase
	if base <= 1 {
		base = 2
	}
	secs := math.Pow(base, float64(attempt))
	if c.MaxDelay > 0 && secs > c.MaxDelay.Seconds() {
		return c.MaxDelay
	}
	return time.Duration(secs * float64(time.Second))
}

// 文档注释：下载外包框内全部 highway 路段（OSM XML）
// 背景：公共 Overpass 实例在高峰期频繁返回 504 网关超时，稍后重试通常成功；其它错误重试无益。
// 约束：
// - 仅 HTTP 504 触发重试，最多 Retries 次尝试，两次尝试之间等待 Delay(attempt)；
// - 次数用尽返回包装了 ErrRetriesExhausted 的错误；
// - 其它状态码与网络错误立即返回，不重试。
func (c *Client) Fetch(ctx context.Context, bbox orb.Bound) ([]byte, error) {
	retries := c.Retries
	if retries <= 0 {
		retries = 1
	}
	query := c.Query(bbox)
	for attempt := 1; ; attempt++ {
		body, err := c.once(ctx, query)
		if err == nil {
			metrics.OverpassAttemptsTotal.WithLabelValues("ok").Inc()
			return body, nil
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != http.StatusGatewayTimeout {
			metrics.OverpassAttemptsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.OverpassAttemptsTotal.WithLabelValues("gateway_timeout").Inc()
		if attempt >= retries {
			c.log().Error("overpass_giving_up", "attempts", attempt)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
		d := c.Delay(attempt)
		c.log().Warn("overpass_retry", "attempt", attempt, "delay_s", d.Seconds())
		if err := c.sleep(ctx, d); err != nil {
			return nil, err
		}
	}
}

func (c *Client) once(ctx context.Context, query string) ([]byte, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) log() *slog.Logger {
	if c.Log == nil {
		return logger.L()
	}
	return c.Log
}
