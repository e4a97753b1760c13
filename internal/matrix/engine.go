package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"access-matrix/internal/artifact"
	"access-matrix/internal/ledger"
	"access-matrix/internal/logger"
	"access-matrix/internal/metrics"
	"access-matrix/internal/spatial"
)

// state：单个起点的处理状态
type state int

const (
	statePending state = iota
	stateSkip
	stateRequesting
	stateSplitRequesting
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateSkip:
		return "skip"
	case stateRequesting:
		return "requesting"
	case stateSplitRequesting:
		return "split_requesting"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

// 临时分片标识
const (
	HalfA = "A"
	HalfB = "B"
)

// Engine：矩阵计算引擎
// 约束：严格串行，一次只有一个路由请求在途；不持有锁，不做并发
type Engine struct {
	Router    Router
	Store     artifact.Store
	Ledger    ledger.Ledger
	Profile   string
	Region    string
	ResultKey func(originID int64) string
	TempKey   func(originID int64, half string) string
	Log       *slog.Logger
}

// origin 处理的中间量
type originRun struct {
	origin spatial.Point
	key    string
	rows   []Row
	split  bool
	err    error
	class  ErrorClass
}

// 文档注释：逐起点计算矩阵
// 背景：每个起点一次整体请求；仅当路由服务报告搜索空间超限时，把目的地按顺序对半拆成两段各请求一次，合并后发布。
// 约束：
// - 已完成（完成记录判定）的起点直接跳过，不发请求；
// - 拆分至多一次；任一半段失败即记为失败，不再继续拆分；
// - 结果原子发布后才标记完成；临时分片在成功或失败后都会清理；
// - 失败起点写入返回值，不中断后续起点；上下文取消时立即返回已完成部分与 ctx.Err()。
func (e *Engine) Run(ctx context.Context, origins, dests []spatial.Point) (Report, error) {
	var rep Report
	if len(dests) == 0 {
		return rep, ErrNoDestinations
	}
	if e.Router == nil || e.Store == nil || e.ResultKey == nil {
		return rep, errors.New("matrix engine: router, store and result key are required")
	}
	if e.Ledger == nil {
		e.Ledger = ledger.NewArtifact(e.Store, ledger.DefaultMinBytes)
	}
	if e.Log == nil {
		e.Log = logger.L()
	}
	if e.TempKey == nil {
		e.TempKey = func(id int64, half string) string {
			return path.Join(path.Dir(e.ResultKey(id)), fmt.Sprintf("tmp_%d_%s.csv", id, half))
		}
	}
	for i, o := range origins {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		st, run := e.process(ctx, o, dests, &rep)
		switch st {
		case stateSkip:
			rep.Skipped++
			metrics.OriginsTotal.WithLabelValues("skipped").Inc()
			e.Log.Debug("matrix_skip", "region", e.Region, "origin", o.ID)
		case stateDone:
			rep.Done++
			outcome := "done"
			if run.split {
				rep.Split++
				outcome = "split"
			}
			metrics.OriginsTotal.WithLabelValues(outcome).Inc()
			e.Log.Info("matrix_done", "region", e.Region, "origin", o.ID, "rows", len(run.rows), "split", run.split, "progress", fmt.Sprintf("%d/%d", i+1, len(origins)))
		case stateFailed:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rep, ctxErr
			}
			rec := ErrorRecord{OriginID: o.ID, Origin: o.Pos, Class: run.class, Cause: run.err.Error()}
			rep.Failed = append(rep.Failed, rec)
			metrics.OriginsTotal.WithLabelValues("failed").Inc()
			metrics.RoutingFailuresTotal.WithLabelValues(string(run.class)).Inc()
			e.Log.Error("matrix_failed", "region", e.Region, "origin", o.ID, "class", run.class, "err", run.err)
		}
	}
	return rep, nil
}

// process：单个起点的状态机，返回终态
func (e *Engine) process(ctx context.Context, o spatial.Point, dests []spatial.Point, rep *Report) (state, *originRun) {
	run := &originRun{origin: o, key: e.ResultKey(o.ID)}
	st := statePending
	for {
		switch st {
		case statePending:
			done, err := e.Ledger.Completed(ctx, run.key)
			if err != nil {
				e.Log.Warn("ledger_read_error", "region", e.Region, "origin", o.ID, "err", err)
			}
			if done {
				return stateSkip, run
			}
			st = stateRequesting
		case stateRequesting:
			rows, err := e.request(ctx, o, dests, "full", rep)
			switch {
			case err == nil:
				run.rows = rows
				st = e.publish(ctx, run)
			case errors.Is(err, ErrSearchInfeasible) && ctx.Err() == nil:
				e.Log.Warn("matrix_split_begin", "region", e.Region, "origin", o.ID, "destinations", len(dests), "err", err)
				st = stateSplitRequesting
			default:
				run.err, run.class = err, classify(err)
				st = stateFailed
			}
		case stateSplitRequesting:
			run.split = true
			st = e.splitOnce(ctx, run, dests, rep)
		case stateDone, stateFailed:
			return st, run
		}
	}
}

// splitOnce：按顺序对半拆分，两段各请求一次并合并；不再进入拆分
func (e *Engine) splitOnce(ctx context.Context, run *originRun, dests []spatial.Point, rep *Report) state {
	o := run.origin
	if len(dests) < 2 {
		run.err = fmt.Errorf("cannot split %d destination(s): %w", len(dests), ErrSearchInfeasible)
		run.class = ClassInfeasible
		return stateFailed
	}
	mid := len(dests) / 2
	halves := []struct {
		name  string
		dests []spatial.Point
	}{{HalfA, dests[:mid]}, {HalfB, dests[mid:]}}
	var tmpKeys []string
	defer func() {
		for _, k := range tmpKeys {
			if err := e.Store.Delete(context.WithoutCancel(ctx), k); err != nil {
				e.Log.Warn("matrix_tmp_cleanup_error", "region", e.Region, "origin", o.ID, "key", k, "err", err)
			}
		}
	}()
	merged := make([]Row, 0, len(dests))
	for _, h := range halves {
		rows, err := e.request(ctx, o, h.dests, "split", rep)
		if err != nil {
			run.err = fmt.Errorf("half %s (%d destinations): %w", h.name, len(h.dests), err)
			run.class = classify(err)
			return stateFailed
		}
		data, err := EncodeCSV(rows)
		if err != nil {
			run.err, run.class = err, ClassOther
			return stateFailed
		}
		k := e.TempKey(o.ID, h.name)
		tmpKeys = append(tmpKeys, k)
		if err := e.Store.Put(ctx, k, data); err != nil {
			run.err = fmt.Errorf("persist half %s: %w", h.name, err)
			run.class = ClassStorage
			return stateFailed
		}
		merged = append(merged, rows...)
	}
	run.rows = merged
	return e.publish(ctx, run)
}

// request：发出一次路由请求并校验行数
func (e *Engine) request(ctx context.Context, o spatial.Point, dests []spatial.Point, mode string, rep *Report) ([]Row, error) {
	rep.Calls++
	metrics.RoutingRequestsTotal.WithLabelValues(mode).Inc()
	t0 := time.Now()
	rows, err := e.Router.Matrix(ctx, Request{Origin: o, Destinations: dests, Profile: e.Profile})
	metrics.RoutingDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	if err != nil {
		return nil, err
	}
	if len(rows) != len(dests) {
		return nil, fmt.Errorf("routing returned %d rows for %d destinations", len(rows), len(dests))
	}
	return rows, nil
}

// publish：原子发布结果并写完成记录
func (e *Engine) publish(ctx context.Context, run *originRun) state {
	data, err := EncodeCSV(run.rows)
	if err != nil {
		run.err, run.class = err, ClassOther
		return stateFailed
	}
	if err := e.Store.Put(ctx, run.key, data); err != nil {
		run.err = fmt.Errorf("publish %s: %w", run.key, err)
		run.class = ClassStorage
		return stateFailed
	}
	if err := e.Ledger.MarkCompleted(ctx, run.key, e.Region, int64(len(data))); err != nil {
		e.Log.Warn("ledger_write_error", "region", e.Region, "origin", run.origin.ID, "err", err)
	}
	return stateDone
}

func classify(err error) ErrorClass {
	if errors.Is(err, ErrSearchInfeasible) {
		return ClassInfeasible
	}
	return ClassOther
}
