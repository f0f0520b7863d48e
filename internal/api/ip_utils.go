package api

import (
	"net"
	"net/http"
	"strings"
)

// 常见反向代理头，按可信度排列
var proxyHeaders = []string{
	"x-forwarded-for",
	"cf-connecting-ip",
	"x-real-ip",
	"x-client-ip",
	"x-edge-client-ip",
}

// 文档注释：获取待定位的 IP
// 背景：优先显式参数 ip，其次常见代理头，再次 Forwarded 的 for= 字段，最后回退远端地址。
// 约束：代理头可被伪造；仅用于「查询自己所在区域」的便捷场景，不用于鉴权。
func getClientIP(r *http.Request) string {
	if q := r.URL.Query().Get("ip"); q != "" {
		return q
	}
	for _, k := range proxyHeaders {
		if x := r.Header.Get(k); x != "" {
			return strings.TrimSpace(strings.Split(x, ",")[0])
		}
	}
	if x := r.Header.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := x[i+4:]
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\" ")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
