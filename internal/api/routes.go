// 包 api：查询服务路由；独立 ServeMux，由主入口挂载到 API_BASE 前缀下
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"hexmap/internal/artifact"
	"hexmap/internal/cell"
	"hexmap/internal/geoip"
	"hexmap/internal/logger"
	"hexmap/internal/metrics"
)

// Querier：当前产物上的点查询
type Querier interface {
	Lookup(c cell.Cell) (artifact.Hit, bool, error)
}

// Reloader：重新加载产物
type Reloader interface {
	Reload(path string, opts artifact.Options) error
}

// 文档注释：路由依赖
// 背景：LocalCacheSize 为进程内缓存条目数（0 关闭）；Cache 为 nil 时不使用 Redis；CacheTTL 为 0 时两级缓存均关闭。
// Geo 为 nil 时 /ip 返回 503；AdminToken 为空时 /reload 一律拒绝。
type Deps struct {
	Maps           Querier
	Reload         Reloader
	Geo            geoip.Locator
	Cache          *redis.Client
	CacheTTL       time.Duration
	LocalCacheSize int
	Resolution     int
	MapPath        string
	MapOptions     artifact.Options
	AdminToken     string
}

type lookupResult struct {
	Cell       string   `json:"cell"`
	Resolution int      `json:"resolution"`
	Found      bool     `json:"found"`
	Value      string   `json:"value,omitempty"`
	Label      *int     `json:"label,omitempty"`
	Matched    string   `json:"matched,omitempty"`
	IP         string   `json:"ip,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Network    string   `json:"network,omitempty"`
}

type server struct {
	d     Deps
	gen   atomic.Int64
	local *lru[lookupResult]
}

// BuildRoutes：构建并返回 API 路由
func BuildRoutes(d Deps) *http.ServeMux { return newServer(d).routes() }

func newServer(d Deps) *server {
	s := &server{d: d}
	if d.CacheTTL > 0 {
		s.local = newLRU[lookupResult](d.LocalCacheSize, d.CacheTTL)
	}
	return s
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", s.handleLookup)
	mux.HandleFunc("/ip", s.handleIP)
	mux.HandleFunc("/reload", s.handleReload)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// 查询参数：cell=<hex> 或 lat=&lng=[&res=]
func (s *server) parseCell(r *http.Request) (cell.Cell, error) {
	q := r.URL.Query()
	if h := q.Get("cell"); h != "" {
		return cell.Parse(h)
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return 0, errors.New("missing or invalid lat")
	}
	lng, err := strconv.ParseFloat(q.Get("lng"), 64)
	if err != nil {
		return 0, errors.New("missing or invalid lng")
	}
	res := s.d.Resolution
	if v := q.Get("res"); v != "" {
		if res, err = strconv.Atoi(v); err != nil {
			return 0, errors.New("invalid res")
		}
	}
	return cell.FromLatLng(lat, lng, res)
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	c, err := s.parseCell(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, status, err := s.lookup(r.Context(), c)
	if err != nil {
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.d.Geo == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("geoip database not configured"))
		return
	}
	ip, err := geoip.ParseIP(getClientIP(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, loc, err := geoip.CellFor(s.d.Geo, ip, s.d.Resolution)
	if errors.Is(err, geoip.ErrNoLocation) {
		writeJSON(w, http.StatusOK, lookupResult{IP: ip.String()})
		return
	}
	if err != nil {
		logger.L().Warn("geoip_error", "ip", ip.String(), "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	res, status, err := s.lookup(r.Context(), c)
	if err != nil {
		writeError(w, status, err)
		return
	}
	res.IP = ip.String()
	res.Lat, res.Lng = &loc.Lat, &loc.Lng
	if loc.Network != nil {
		res.Network = loc.Network.String()
	}
	writeJSON(w, http.StatusOK, res)
}

// 文档注释：带缓存的查询
// 背景：先查进程内缓存，再查 Redis；缓存键包含加载代次，重新加载后旧结果自然失效；未命中结果同样缓存。
// 返回：错误时附带 HTTP 状态（未加载 503，产物损坏 500）。
func (s *server) lookup(ctx context.Context, c cell.Cell) (lookupResult, int, error) {
	key := "hexmap:" + strconv.FormatInt(s.generation(), 10) + ":" + c.String()
	if res, ok := s.local.Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues("local").Inc()
		return res, http.StatusOK, nil
	}
	if s.d.Cache != nil && s.d.CacheTTL > 0 {
		if b, err := s.d.Cache.Get(ctx, key).Bytes(); err == nil {
			var res lookupResult
			if json.Unmarshal(b, &res) == nil {
				metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
				s.local.Set(key, res)
				return res, http.StatusOK, nil
			}
		}
		metrics.CacheMissesTotal.Inc()
	}
	hit, ok, err := s.d.Maps.Lookup(c)
	if errors.Is(err, artifact.ErrNotLoaded) {
		return lookupResult{}, http.StatusServiceUnavailable, err
	}
	if err != nil {
		logger.L().Error("lookup_error", "cell", c.String(), "err", err)
		return lookupResult{}, http.StatusInternalServerError, err
	}
	res := lookupResult{Cell: c.String(), Resolution: c.Resolution(), Found: ok}
	if ok {
		label := int(hit.Label)
		res.Value = hit.Value
		res.Label = &label
		res.Matched = hit.Cell.String()
	} else {
		logger.L().Debug("lookup_miss", "cell", c.String())
	}
	s.local.Set(key, res)
	if s.d.Cache != nil && s.d.CacheTTL > 0 {
		if b, err := json.Marshal(res); err == nil {
			s.d.Cache.Set(ctx, key, b, s.d.CacheTTL)
		}
	}
	return res, http.StatusOK, nil
}

// 加载代次：Dynamic 自带计数（文件轮询重新加载也会递增），其余实现退回本地计数
func (s *server) generation() int64 {
	if g, ok := s.d.Maps.(interface{ Generation() int64 }); ok {
		return g.Generation()
	}
	return s.gen.Load()
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	t := r.Header.Get("x-admin-token")
	if s.d.AdminToken == "" || t != s.d.AdminToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if s.d.Reload == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("reload not supported"))
		return
	}
	if err := s.d.Reload.Reload(s.d.MapPath, s.d.MapOptions); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.gen.Add(1)
	w.WriteHeader(http.StatusNoContent)
}
