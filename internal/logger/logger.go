// 包 logger：统一初始化与获取日志器，避免各模块重复配置；通过环境变量控制日志级别、输出格式与运行日志文件
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// 默认日志器：在进程级复用，避免多处初始化导致输出不一致
var defaultLogger *slog.Logger

// 运行日志文件句柄：仅在 LOG_DIR 配置时打开，由 Close 释放
var runLog *os.File

// Setup：初始化默认日志器
// 背景：集中化日志配置，便于按环境统一调整级别与格式；批处理运行需要留存一份运行日志
// 约束：始终输出到标准错误；LOG_DIR 非空时额外写入 run_log_<yy_mm_dd_HHMMSS>.txt，打开失败时仅告警不中断
func Setup() *slog.Logger {
	var w io.Writer = os.Stderr
	var openErr error
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		if f, err := openRunLog(dir, time.Now()); err == nil {
			runLog = f
			w = io.MultiWriter(os.Stderr, f)
		} else {
			openErr = err
		}
	}
	defaultLogger = New(w, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	if openErr != nil {
		defaultLogger.Warn("run_log_open_error", "err", openErr)
	}
	return defaultLogger
}

// New：按级别与格式构建日志器
// 背景：测试与工具需要把日志写到指定目标（缓冲区、文件）
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(h)
}

// L：获取默认日志器
// 背景：为业务代码提供快捷访问；若未初始化则回退到 Setup
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}

// Close：关闭运行日志文件
func Close() error {
	if runLog == nil {
		return nil
	}
	err := runLog.Close()
	runLog = nil
	return err
}

func openRunLog(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := "run_log_" + now.Format("06_01_02_150405") + ".txt"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
