// 包 migrate：数据库模式来源表的初始化
package migrate

import (
	"context"
	"database/sql"

	"hexmap/internal/logger"
	"hexmap/internal/source"
)

// 文档注释：创建区域单元表
// 背景：gen-pg 读取 (region TEXT, cell BIGINT)；单元以有符号 64 位存储，按位与无符号索引一一对应。
// 约束：使用 IF NOT EXISTS，与既有结构共存；索引覆盖按区域排序读取。
func EnsureSchema(ctx context.Context, db *sql.DB, table string) error {
	if err := source.ValidTableName(table); err != nil {
		return err
	}
	idx := "idx_" + indexSuffix(table) + "_region"
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
            region TEXT NOT NULL,
            cell BIGINT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS ` + idx + ` ON ` + table + `(region, cell)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "table", table, "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done", "table", table)
	return nil
}

func indexSuffix(table string) string {
	b := []byte(table)
	for i, c := range b {
		if c == '.' {
			b[i] = '_'
		}
	}
	return string(b)
}
