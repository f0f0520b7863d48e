package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"

	"hexmap/internal/cell"
	"hexmap/internal/logger"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName：表名只允许标识符，可带一级 schema 前缀
func ValidTableName(table string) error {
	if !tableNameRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrBadTableName, table)
	}
	return nil
}

// 文档注释：从 PostgreSQL 读取单元集合
// 背景：表结构为 (region TEXT, cell BIGINT)，每个不同的 region 构成一个来源；单元以有符号整数存储，读出后按位还原。
// 约束：表名只允许标识符（可带 schema 前缀），拼接前校验；结果按名称字节序排序，与文件模式一致而不依赖数据库排序规则。
// 异常：查询失败、扫描失败、非法单元值直接返回错误。
func LoadPostgres(ctx context.Context, db *sql.DB, table string) ([]Source, error) {
	if err := ValidTableName(table); err != nil {
		return nil, err
	}
	logger.L().Debug("pg_source_begin", "table", table)
	rows, err := db.QueryContext(ctx, "SELECT region, cell FROM "+table+" ORDER BY region")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	idx := make(map[string]int)
	var out []Source
	for rows.Next() {
		var region string
		var v int64
		if err := rows.Scan(&region, &v); err != nil {
			return nil, err
		}
		c, err := cell.New(uint64(v))
		if err != nil {
			return nil, fmt.Errorf("%s: region %q: %w", table, region, err)
		}
		i, ok := idx[region]
		if !ok {
			i = len(out)
			idx[region] = i
			out = append(out, Source{Name: region, Value: region})
		}
		out[i].Cells = append(out[i].Cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	logger.L().Debug("pg_source_done", "table", table, "regions", len(out))
	return out, nil
}
