// 包 config：汇总环境变量与可选 YAML 文件为统一配置，构建命令与查询服务共用
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hexmap/internal/cell"
	"hexmap/internal/logger"
)

var ErrInvalid = errors.New("invalid config")

// 文档注释：运行配置
// 背景：字段同时支持 YAML 键与环境变量；YAML 文件由 HEXMAP_CONFIG 指定，环境变量覆盖文件中的值，命令行参数再覆盖二者。
type Config struct {
	Resolution  int    `yaml:"resolution"`
	Workers     int    `yaml:"workers"`
	Mmap        bool   `yaml:"mmap"`
	PGTable     string `yaml:"pg_table"`
	MMDBPath    string `yaml:"mmdb_path"`
	MapPath     string `yaml:"map_path"`
	Addr        string `yaml:"addr"`
	APIBase     string `yaml:"api_base"`
	CacheTTLSec int    `yaml:"cache_ttl_s"`
	LocalCache  int    `yaml:"local_cache_size"`
	ReloadSec   int    `yaml:"reload_interval_s"`
	AdminToken  string `yaml:"admin_token"`
	RateLimit   int    `yaml:"rate_limit_qps"`
	TLS         TLS    `yaml:"tls"`
}

// TLS：查询服务证书配置；证书不存在时生成自签名证书
type TLS struct {
	Enable   bool   `yaml:"enable"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

func Default() Config {
	return Config{
		Resolution:  7,
		PGTable:     "region_cells",
		MapPath:     "data/regions.h3map",
		Addr:        ":8080",
		APIBase:     "/api",
		CacheTTLSec: 3600,
		LocalCache:  4096,
		TLS: TLS{
			CertPath: "data/certs/server.crt",
			KeyPath:  "data/certs/server.key",
		},
	}
}

// Load：读取进程环境
func Load() (Config, error) { return LoadFrom(os.Getenv) }

// 文档注释：按「默认值 → YAML 文件 → 环境变量」顺序合成配置
// 异常：YAML 文件不可读或解析失败返回错误；环境变量数值无法解析时忽略并记录 warn；最终校验失败返回 ErrInvalid。
func LoadFrom(getenv func(string) string) (Config, error) {
	c := Default()
	if p := getenv("HEXMAP_CONFIG"); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return c, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config file %s: %w", p, err)
		}
	}
	envInt(getenv, "HEXMAP_RESOLUTION", &c.Resolution)
	envInt(getenv, "HEXMAP_WORKERS", &c.Workers)
	envBool(getenv, "HEXMAP_MMAP", &c.Mmap)
	envStr(getenv, "HEXMAP_PG_TABLE", &c.PGTable)
	envStr(getenv, "GEOIP_MMDB_PATH", &c.MMDBPath)
	envStr(getenv, "HEXMAP_MAP_PATH", &c.MapPath)
	envStr(getenv, "ADDR", &c.Addr)
	envStr(getenv, "API_BASE", &c.APIBase)
	envInt(getenv, "LOOKUP_CACHE_TTL_S", &c.CacheTTLSec)
	envInt(getenv, "LOOKUP_LOCAL_CACHE_SIZE", &c.LocalCache)
	envInt(getenv, "HEXMAP_RELOAD_INTERVAL_S", &c.ReloadSec)
	envStr(getenv, "ADMIN_TOKEN", &c.AdminToken)
	envInt(getenv, "RATE_LIMIT_QPS", &c.RateLimit)
	envBool(getenv, "TLS_ENABLE", &c.TLS.Enable)
	envStr(getenv, "TLS_CERT_PATH", &c.TLS.CertPath)
	envStr(getenv, "TLS_KEY_PATH", &c.TLS.KeyPath)
	return c, c.Validate()
}

// Validate：校验取值范围
func (c Config) Validate() error {
	if err := ValidateResolution(c.Resolution); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	}
	if c.CacheTTLSec < 0 || c.LocalCache < 0 || c.ReloadSec < 0 {
		return fmt.Errorf("%w: negative cache or reload setting", ErrInvalid)
	}
	if !strings.HasPrefix(c.APIBase, "/") {
		return fmt.Errorf("%w: api base %q must start with /", ErrInvalid, c.APIBase)
	}
	return nil
}

func ValidateResolution(res int) error {
	if res < 0 || res > cell.MaxResolution {
		return fmt.Errorf("%w: resolution %d outside 0..%d", ErrInvalid, res, cell.MaxResolution)
	}
	return nil
}

// CacheTTL：查询结果缓存有效期；0 表示关闭缓存
func (c Config) CacheTTL() time.Duration { return time.Duration(c.CacheTTLSec) * time.Second }

// ReloadInterval：产物文件变更轮询间隔；0 表示只在 /reload 时重新加载
func (c Config) ReloadInterval() time.Duration { return time.Duration(c.ReloadSec) * time.Second }

func envStr(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func envInt(getenv func(string) string, key string, dst *int) {
	v := getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.L().Warn("config_env_invalid", "key", key, "value", v)
		return
	}
	*dst = n
}

func envBool(getenv func(string) string, key string, dst *bool) {
	v := getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		logger.L().Warn("config_env_invalid", "key", key, "value", v)
		return
	}
	*dst = b
}
