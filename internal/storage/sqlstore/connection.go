package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config 描述数据库连接参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func openDatabase(ctx context.Context, cfg Config, d dialect) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", d.name)
	}

	dsn := cfg.DSN
	if d.name == DriverMySQL {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("解析 MySQL DSN 失败: %w", err)
		}
		// CAS 依赖 RowsAffected 返回匹配行数而不是变更行数。
		parsed.ClientFoundRows = true
		dsn = parsed.FormatDSN()
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", d.name, err)
	}

	if d.name == DriverSQLite {
		// SQLite 单写者，内存库每个连接都是独立的数据库。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(10)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", d.name, err)
	}
	return db, nil
}
