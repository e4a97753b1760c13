package ledger

import (
	"context"
	"errors"

	"access-matrix/internal/utils"

	"github.com/redis/go-redis/v9"
)

// Redis：完成记录保存在一个哈希中，字段为产物键，值为字节数
type Redis struct {
	rdb      *redis.Client
	hash     string
	minBytes int64
}

// NewRedis：基于已有客户端构建记录
func NewRedis(rdb *redis.Client, hash string, minBytes int64) *Redis {
	if hash == "" {
		hash = "accessmatrix:completions"
	}
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Redis{rdb: rdb, hash: hash, minBytes: minBytes}
}

// OpenRedisFromEnv：按 REDIS_* 环境变量连接
func OpenRedisFromEnv(minBytes int64) *Redis {
	return NewRedis(utils.OpenRedisFromEnv(), "", minBytes)
}

func (l *Redis) Name() string { return "redis" }

func (l *Redis) Completed(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.HGet(ctx, l.hash, key).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= l.minBytes, nil
}

func (l *Redis) MarkCompleted(ctx context.Context, key, _ string, size int64) error {
	return l.rdb.HSet(ctx, l.hash, key, size).Err()
}

// Close：关闭客户端
func (l *Redis) Close() error { return l.rdb.Close() }
