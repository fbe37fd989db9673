package sqlstore

import (
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// 支持的驱动。
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// dialect 封装不同数据库之间语法差异的部分。
type dialect struct {
	name             string
	ensureSession    string
	touchSession     string
	upsertIntent     string
	upsertMemory     string
	upsertCredential string
	isDuplicate      func(error) bool
}

var mysqlDialect = dialect{
	name:          DriverMySQL,
	ensureSession: `INSERT IGNORE INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
	touchSession: `INSERT INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`,
	upsertIntent: `INSERT INTO pending_intents (user_id, kind, intent_json, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE kind = VALUES(kind), intent_json = VALUES(intent_json), updated_at = VALUES(updated_at)`,
	upsertMemory: `INSERT INTO memories (user_id, mkey, value, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`,
	upsertCredential: `INSERT INTO credentials (user_id, provider, token_json, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE token_json = VALUES(token_json), updated_at = VALUES(updated_at)`,
	isDuplicate: func(err error) bool {
		var mysqlErr *mysql.MySQLError
		return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
	},
}

var sqliteDialect = dialect{
	name:          DriverSQLite,
	ensureSession: `INSERT OR IGNORE INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
	touchSession: `INSERT INTO sessions (user_id, created_at, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET updated_at = excluded.updated_at`,
	upsertIntent: `INSERT INTO pending_intents (user_id, kind, intent_json, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET kind = excluded.kind, intent_json = excluded.intent_json, updated_at = excluded.updated_at`,
	upsertMemory: `INSERT INTO memories (user_id, mkey, value, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id, mkey) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
	upsertCredential: `INSERT INTO credentials (user_id, provider, token_json, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id, provider) DO UPDATE SET token_json = excluded.token_json, updated_at = excluded.updated_at`,
	isDuplicate: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !stdErrors.As(err, &sqliteErr) {
			return false
		}
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
		return false
	},
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMySQL:
		return mysqlDialect, nil
	case DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	}
	return dialect{}, fmt.Errorf("不支持的数据库驱动: %s", driver)
}
