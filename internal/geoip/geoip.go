// 包 geoip：IP 地址到经纬度与 H3 单元的换算，底层为 MaxMind City 数据库
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"

	"hexmap/internal/cell"
)

var (
	ErrBadIP      = errors.New("invalid ip address")
	ErrNoLocation = errors.New("ip has no location")
	ErrNotCityDB  = errors.New("mmdb has no city records")
)

// Location：定位结果；Network 为命中记录所在网段，测试桩可留空
type Location struct {
	Lat, Lng float64
	Network  *net.IPNet
}

// Locator：IP 定位接口
type Locator interface {
	Locate(ip net.IP) (Location, error)
}

// 文档注释：MaxMind City 数据库定位器
// 背景：直接用 maxminddb 的 LookupNetwork 解码到 geoip2.City，一次查询同时得到坐标与所在网段。
// 约束：Reader 线程安全，可被查询服务并发使用；Close 之后不得再定位。
type Resolver struct {
	db *maxminddb.Reader
}

// Open：打开数据库并校验类型
// 异常：ASN、ISP 等不含城市记录的库返回 ErrNotCityDB。
func Open(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mmdb %s: %w", path, err)
	}
	if !HasCityRecords(db.Metadata.DatabaseType) {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s is %q", ErrNotCityDB, path, db.Metadata.DatabaseType)
	}
	return &Resolver{db: db}, nil
}

// HasCityRecords：按数据库类型判断记录是否带 location 字段（City、Country、Enterprise 系列）
func HasCityRecords(dbType string) bool {
	for _, k := range []string{"City", "Country", "Enterprise", "Location"} {
		if strings.Contains(dbType, k) {
			return true
		}
	}
	return false
}

// 文档注释：定位
// 异常：库中无该地址的记录，或记录无坐标（精度半径与经纬度均为 0），返回 ErrNoLocation。
func (r *Resolver) Locate(ip net.IP) (Location, error) {
	var rec geoip2.City
	network, ok, err := r.db.LookupNetwork(ip, &rec)
	if err != nil {
		return Location{}, err
	}
	loc := rec.Location
	if !ok || (loc.AccuracyRadius == 0 && loc.Latitude == 0 && loc.Longitude == 0) {
		return Location{}, fmt.Errorf("%w: %s", ErrNoLocation, ip)
	}
	return Location{Lat: loc.Latitude, Lng: loc.Longitude, Network: network}, nil
}

// Metadata：数据库元信息（类型、构建时间），用于启动日志
func (r *Resolver) Metadata() maxminddb.Metadata { return r.db.Metadata }

func (r *Resolver) Close() error { return r.db.Close() }

// ParseIP：解析 IPv4/IPv6 文本，允许带端口或方括号
func ParseIP(s string) (net.IP, error) {
	s = strings.TrimSpace(s)
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrBadIP, s)
	}
	return ip, nil
}

// CellFor：定位并换算为指定层级单元
func CellFor(l Locator, ip net.IP, res int) (cell.Cell, Location, error) {
	loc, err := l.Locate(ip)
	if err != nil {
		return 0, Location{}, err
	}
	c, err := cell.FromLatLng(loc.Lat, loc.Lng, res)
	if err != nil {
		return 0, Location{}, err
	}
	return c, loc, nil
}
