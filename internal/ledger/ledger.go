// 包 ledger：逐起点矩阵的完成记录，断点续跑时据此跳过已完成起点
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"access-matrix/internal/artifact"
)

// 文档注释：完成记录接口
// 背景：重跑时不再请求已有结果的起点；完成判定与结果存储解耦，便于切换为数据库记录。
// 约束：Completed 只读；MarkCompleted 在结果原子发布之后调用，重复标记幂等。
type Ledger interface {
	Completed(ctx context.Context, key string) (bool, error)
	MarkCompleted(ctx context.Context, key, region string, size int64) error
	Name() string
}

// DefaultMinBytes：产物被视为完成的最小字节数（仅表头的空结果低于该值）
const DefaultMinBytes = 100

// Artifact：以产物本身为完成记录，存在且不小于 MinBytes 即视为完成
type Artifact struct {
	Store    artifact.Store
	MinBytes int64
}

// NewArtifact：构建产物记录；minBytes 非正时取默认值
func NewArtifact(s artifact.Store, minBytes int64) *Artifact {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Artifact{Store: s, MinBytes: minBytes}
}

func (l *Artifact) Name() string { return "artifact" }

func (l *Artifact) Completed(ctx context.Context, key string) (bool, error) {
	info, err := l.Store.Stat(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size >= l.MinBytes, nil
}

// MarkCompleted：产物写入即完成，无需额外记录
func (l *Artifact) MarkCompleted(context.Context, string, string, int64) error { return nil }

// Options：按驱动构建记录所需的依赖
type Options struct {
	Driver   string
	Store    artifact.Store
	MinBytes int64
}

// Open：按驱动名构建记录（artifact|postgres|sqlite|redis）
// 约束：postgres/redis 读取 PG_*/REDIS_* 环境变量；sqlitePath 仅 sqlite 驱动使用；返回的关闭函数总是非空
func Open(ctx context.Context, opt Options, sqlitePath string) (Ledger, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(opt.Driver) {
	case "", "artifact":
		return NewArtifact(opt.Store, opt.MinBytes), noop, nil
	case "postgres", "pg":
		l, err := OpenPostgresFromEnv(ctx, opt.MinBytes)
		if err != nil {
			return nil, noop, err
		}
		return l, l.Close, nil
	case "sqlite":
		l, err := OpenSQLite(ctx, sqlitePath, opt.MinBytes)
		if err != nil {
			return nil, noop, err
		}
		return l, l.Close, nil
	case "redis":
		l := OpenRedisFromEnv(opt.MinBytes)
		return l, l.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown ledger driver %q", opt.Driver)
}
