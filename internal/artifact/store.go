// 包 artifact：结果产物存储（矩阵 CSV、点图层、错误图层），支持本地文件、S3 兼容对象存储与内存三种驱动
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound：产物不存在
var ErrNotFound = errors.New("artifact: not found")

// Info：产物元信息
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// 文档注释：产物存储接口
// 背景：逐起点的矩阵结果是断点续跑的最小单位，发布必须原子化，读者要么看到完整内容要么看不到。
// 约束：
// - Put 原子发布并覆盖同名产物；
// - Get/Stat 对不存在的键返回 ErrNotFound（可用 errors.Is 判定）；
// - Delete 对不存在的键不报错；
// - 键为以 / 分隔的相对路径，不得包含 ..。
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) error
	Driver() string
}

// Open：按驱动名构建存储
// 约束：fs 驱动根目录为 root；s3 驱动读取 BLOB_S3_* 环境变量；memory 仅用于测试与试运行
func Open(ctx context.Context, driver, root string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "fs", "file":
		return NewFS(root)
	case "s3":
		return OpenS3FromEnv(ctx)
	case "memory", "mem":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown blob driver %q", driver)
}

// sanitizeKey：禁止路径穿越与绝对路径
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q contains '..'", key)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	return key, nil
}
