// 查询服务入口：读取配置、打开产物与可选依赖（GeoIP、Redis）并启动 HTTP 服务；路由注册在 internal/api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hexmap/internal/api"
	"hexmap/internal/artifact"
	"hexmap/internal/config"
	"hexmap/internal/geoip"
	"hexmap/internal/logger"
	"hexmap/internal/metrics"
	"hexmap/internal/middleware"
	"hexmap/internal/utils"
	"hexmap/internal/version"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok", "version", version.Version, "commit", version.Commit)

	cfg, err := config.Load()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)
	l.Debug("config_map_path", "path", cfg.MapPath, "mmap", cfg.Mmap)

	opts := artifact.Options{Mmap: cfg.Mmap}
	var maps artifact.Dynamic
	// 背景：产物缺失或损坏不阻止启动；查询返回 503，直到 /reload 成功
	if err := maps.Reload(cfg.MapPath, opts); err != nil {
		l.Error("map_open_error", "path", cfg.MapPath, "err", err)
	}
	defer maps.Close()
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go maps.Watch(watchCtx, cfg.MapPath, opts, cfg.ReloadInterval())

	var geo geoip.Locator
	if cfg.MMDBPath != "" {
		gr, err := geoip.Open(cfg.MMDBPath)
		if err != nil {
			l.Error("geoip_open_error", "path", cfg.MMDBPath, "err", err)
		} else {
			defer gr.Close()
			md := gr.Metadata()
			l.Info("geoip_ready", "path", cfg.MMDBPath, "type", md.DatabaseType, "build_epoch", md.BuildEpoch)
			geo = gr
		}
	} else {
		l.Info("geoip_disabled")
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	apiMux := api.BuildRoutes(api.Deps{
		Maps:           &maps,
		Reload:         &maps,
		Geo:            geo,
		Cache:          rc,
		CacheTTL:       cfg.CacheTTL(),
		LocalCacheSize: cfg.LocalCache,
		Resolution:     cfg.Resolution,
		MapPath:        cfg.MapPath,
		MapOptions:     opts,
		AdminToken:     cfg.AdminToken,
	})
	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if maps.Current() == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.RateLimit(cfg.RateLimit, handler)
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		l.Info("shutdown_begin")
		_ = s.Shutdown(ctx)
	}()

	if cfg.TLS.Enable {
		if err := utils.EnsureSelfSignedCert(cfg.TLS.CertPath, cfg.TLS.KeyPath, "hexmap.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLS.CertPath)
		err = s.ListenAndServeTLS(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}
