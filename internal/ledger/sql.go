package ledger

import (
	"context"
	"database/sql"
	"errors"

	"access-matrix/internal/migrate"
	"access-matrix/internal/utils"
)

// SQL：数据库完成记录（PostgreSQL 或 SQLite），表 matrix_completions
type SQL struct {
	db       *sql.DB
	name     string
	minBytes int64
	qGet     string
	qPut     string
}

// NewSQL：基于已打开的连接构建记录并确保表结构
// 约束：postgres 使用 $n 占位符，sqlite 使用 ?；两者均支持 ON CONFLICT 幂等写入
func NewSQL(ctx context.Context, db *sql.DB, dialect string, minBytes int64) (*SQL, error) {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	l := &SQL{db: db, name: dialect, minBytes: minBytes}
	if dialect == "postgres" {
		l.qGet = `SELECT size_bytes FROM matrix_completions WHERE artifact_key = $1`
		l.qPut = `INSERT INTO matrix_completions(artifact_key, region, size_bytes) VALUES($1,$2,$3)
            ON CONFLICT (artifact_key) DO UPDATE SET size_bytes=EXCLUDED.size_bytes, region=EXCLUDED.region, completed_at=now()`
	} else {
		l.qGet = `SELECT size_bytes FROM matrix_completions WHERE artifact_key = ?`
		l.qPut = `INSERT INTO matrix_completions(artifact_key, region, size_bytes) VALUES(?,?,?)
            ON CONFLICT (artifact_key) DO UPDATE SET size_bytes=excluded.size_bytes, region=excluded.region, completed_at=CURRENT_TIMESTAMP`
	}
	return l, nil
}

// OpenPostgresFromEnv：按 PG_* 环境变量连接
func OpenPostgresFromEnv(ctx context.Context, minBytes int64) (*SQL, error) {
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	l, err := NewSQL(ctx, db, "postgres", minBytes)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// OpenSQLite：打开本地 SQLite 文件作为记录
func OpenSQLite(ctx context.Context, path string, minBytes int64) (*SQL, error) {
	db, err := utils.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	l, err := NewSQL(ctx, db, "sqlite", minBytes)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQL) Name() string { return l.name }

func (l *SQL) Completed(ctx context.Context, key string) (bool, error) {
	var size int64
	err := l.db.QueryRowContext(ctx, l.qGet, key).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return size >= l.minBytes, nil
}

func (l *SQL) MarkCompleted(ctx context.Context, key, region string, size int64) error {
	_, err := l.db.ExecContext(ctx, l.qPut, key, region, size)
	return err
}

// Close：关闭底层连接
func (l *SQL) Close() error { return l.db.Close() }
