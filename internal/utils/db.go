// 包 utils：外部连接工具（PostgreSQL、Redis、TLS 证书），统一从环境变量读取参数
package utils

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

// 文档注释：由环境变量拼接 PostgreSQL DSN
// 背景：PG_HOST/PG_PORT/PG_USER/PG_PASSWORD/PG_DB/PG_SSLMODE；PG_DSN 存在时直接使用。
// 约束：密码经 URL 转义，允许包含 @ / : 等字符。
func BuildPostgresDSNFromEnv() string {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   envOr("PG_HOST", "localhost") + ":" + envOr("PG_PORT", "5432"),
		Path:   "/" + envOr("PG_DB", "hexmap"),
	}
	if pass := os.Getenv("PG_PASSWORD"); pass != "" {
		u.User = url.UserPassword(envOr("PG_USER", "postgres"), pass)
	} else {
		u.User = url.User(envOr("PG_USER", "postgres"))
	}
	u.RawQuery = "sslmode=" + envOr("PG_SSLMODE", "disable")
	return u.String()
}

// 文档注释：打开并探活 PostgreSQL 连接
// 背景：构建命令只做一次顺序读取，连接池保持很小；PG_MAX_OPEN_CONNS 可覆盖。
// 异常：Ping 在 PG_CONNECT_TIMEOUT_S（默认 10 秒）内未成功返回错误并关闭连接。
func OpenPostgresFromEnv(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("postgres", BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	maxOpen := 4
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			maxOpen = n
		}
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	timeout := 10 * time.Second
	if v := os.Getenv("PG_CONNECT_TIMEOUT_S"); v != "" {
		if n, e := strconv.Atoi(v); e == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
