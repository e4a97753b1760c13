// 包 ors：openrouteservice 矩阵接口客户端，负责坐标换算、错误分类与每分钟限流
package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"access-matrix/internal/logger"
	"access-matrix/internal/matrix"

	"github.com/paulmach/orb"
)

// CodeSearchInfeasible：矩阵搜索访问节点数超限的业务错误码
const CodeSearchInfeasible = 6020

// APIError：路由服务返回的错误
// 约束：Code 为 6020 或消息包含访问节点超限描述时，在 errors.Is 下匹配 matrix.ErrSearchInfeasible
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ors: status %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ors: status %d: %s", e.Status, e.Message)
}

// Is：搜索空间超限归类
func (e *APIError) Is(target error) bool {
	if target != matrix.ErrSearchInfeasible {
		return false
	}
	return e.Code == CodeSearchInfeasible ||
		strings.Contains(strings.ToLower(e.Message), "exceeds the limit of visited nodes")
}

// Client：矩阵接口客户端，实现 matrix.Router
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	// ToWGS84：工作坐标到经纬度的投影；为空时坐标按经纬度原样发送
	ToWGS84 orb.Projection
	Log     *slog.Logger
	limiter *minuteLimiter
}

// New：创建客户端
// 参数：ratePerMin 为每分钟请求上限，0 表示不限流；timeout 非正时取 120s
func New(baseURL, apiKey string, timeout time.Duration, ratePerMin int, toWGS84 orb.Projection) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout, Transport: logger.Transport(nil, nil)},
		ToWGS84: toWGS84,
		Log:     logger.L(),
	}
	if ratePerMin > 0 {
		c.limiter = &minuteLimiter{capacity: ratePerMin}
	}
	return c
}

type matrixBody struct {
	Locations    [][2]float64 `json:"locations"`
	Sources      []int        `json:"sources"`
	Destinations []int        `json:"destinations"`
	Metrics      []string     `json:"metrics"`
	Units        string       `json:"units"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

type errorResponse struct {
	Error json.RawMessage `json:"error"`
}

// 文档注释：单起点对多目的地的距离/时长矩阵
// 背景：每次请求只有一个起点（sources=[0]），目的地按请求顺序排列，结果行与目的地一一对应。
// 返回：距离单位千米，时长换算为小时；服务返回 null 的单元标记为不可达。
// 约束：HTTP 非 200 时返回 *APIError，由调用方通过 errors.Is 判定是否可拆分重试。
func (c *Client) Matrix(ctx context.Context, req matrix.Request) ([]matrix.Row, error) {
	if len(req.Destinations) == 0 {
		return nil, errors.New("ors: no destinations")
	}
	profile := req.Profile
	if profile == "" {
		profile = "driving-car"
	}
	body := matrixBody{
		Locations:    make([][2]float64, 0, len(req.Destinations)+1),
		Sources:      []int{0},
		Destinations: make([]int, len(req.Destinations)),
		Metrics:      []string{"distance", "duration"},
		Units:        "km",
	}
	body.Locations = append(body.Locations, c.lonLat(req.Origin.Pos))
	for i, d := range req.Destinations {
		body.Locations = append(body.Locations, c.lonLat(d.Pos))
		body.Destinations[i] = i + 1
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}
	}
	u := c.BaseURL + "/v2/matrix/" + profile
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		hreq.Header.Set("Authorization", c.APIKey)
	}
	c.log().Debug("ors_req", "origin", req.Origin.ID, "destinations", len(req.Destinations), "profile", profile)
	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		c.log().Error("ors_http_error", "origin", req.Origin.ID, "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := parseError(resp.StatusCode, raw)
		c.log().Warn("ors_api_error", "origin", req.Origin.ID, "status", apiErr.Status, "code", apiErr.Code, "message", apiErr.Message)
		return nil, apiErr
	}
	var mr matrixResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		c.log().Error("ors_decode_error", "origin", req.Origin.ID, "err", err)
		return nil, fmt.Errorf("ors: decode matrix: %w", err)
	}
	if len(mr.Distances) != 1 || len(mr.Durations) != 1 ||
		len(mr.Distances[0]) != len(req.Destinations) || len(mr.Durations[0]) != len(req.Destinations) {
		return nil, fmt.Errorf("ors: unexpected matrix shape for %d destinations", len(req.Destinations))
	}
	rows := make([]matrix.Row, len(req.Destinations))
	for i, d := range req.Destinations {
		row := matrix.Row{FromID: req.Origin.ID, ToID: d.ID}
		dist, dur := mr.Distances[0][i], mr.Durations[0][i]
		if dist != nil && dur != nil {
			row.DistanceKM = *dist
			row.DurationH = *dur / 3600
			row.Reachable = true
		}
		rows[i] = row
	}
	return rows, nil
}

func (c *Client) lonLat(p orb.Point) [2]float64 {
	if c.ToWGS84 != nil {
		p = c.ToWGS84(p)
	}
	return [2]float64{p[0], p[1]}
}

func (c *Client) log() *slog.Logger {
	if c.Log == nil {
		return logger.L()
	}
	return c.Log
}

// parseError：兼容 {"error":{"code":..,"message":..}} 与 {"error":"..."} 两种错误体
func parseError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var er errorResponse
	if err := json.Unmarshal(raw, &er); err == nil && len(er.Error) > 0 {
		var obj struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(er.Error, &obj) == nil && (obj.Code != 0 || obj.Message != "") {
			e.Code, e.Message = obj.Code, obj.Message
			return e
		}
		var s string
		if json.Unmarshal(er.Error, &s) == nil {
			e.Message = s
			return e
		}
	}
	e.Message = strings.TrimSpace(string(raw))
	if len(e.Message) > 512 {
		e.Message = e.Message[:512]
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
