package migrate

import (
	"context"
	"database/sql"

	"access-matrix/internal/logger"
)

// 背景：首次运行自动创建完成记录表，PostgreSQL 与 SQLite 共用同一份语句
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matrix_completions (
            artifact_key TEXT PRIMARY KEY,
            region TEXT NOT NULL DEFAULT '',
            size_bytes BIGINT NOT NULL,
            completed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_matrix_completions_region ON matrix_completions(region)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
