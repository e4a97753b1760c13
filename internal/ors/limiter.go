package ors

import (
	"context"
	"sync"
	"time"
)

// 文档注释：简单令牌桶限流（每分钟）
// 背景：公共路由服务按分钟限额，超出时阻塞等待下一分钟刷新。
type minuteLimiter struct {
	capacity int
	used     int
	lastMin  int64
	mu       sync.Mutex
	now      func() time.Time
}

func (ml *minuteLimiter) allow() bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	now := time.Now
	if ml.now != nil {
		now = ml.now
	}
	nowMin := now().Unix() / 60
	if ml.lastMin != nowMin {
		ml.lastMin = nowMin
		ml.used = 0
	}
	if ml.used < ml.capacity {
		ml.used++
		return true
	}
	return false
}

// wait：阻塞直到允许或上下文结束
func (ml *minuteLimiter) wait(ctx context.Context) error {
	for !ml.allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil
}
