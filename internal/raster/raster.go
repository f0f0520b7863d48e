// 包 raster：面要素栅格化为 H3 单元（中心点落在面内的单元即视为覆盖）
package raster

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/uber/h3-go/v4"

	"hexmap/internal/cell"
)

// DefaultResolution：国家/省级区域适用的默认层级
const DefaultResolution = 7

var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// 文档注释：面要素栅格化
// 背景：仅支持 Polygon/MultiPolygon；第一环为外环，其余为洞；GeoJSON 闭合点在转换时去除。
// 返回：原始单元集合（可能含重复，多面之间尤甚），由调用方负责规整。
// 约束：退化环（少于 3 个顶点）跳过；栅格化精度完全由 h3 决定，不做额外裁剪保证。
func Cells(g orb.Geometry, res int) ([]cell.Cell, error) {
	if res < 0 || res > cell.MaxResolution {
		return nil, fmt.Errorf("%w: %d", cell.ErrInvalidResolution, res)
	}
	switch geom := g.(type) {
	case orb.Polygon:
		return polygonCells(geom, res)
	case orb.MultiPolygon:
		var out []cell.Cell
		for _, p := range geom {
			cs, err := polygonCells(p, res)
			if err != nil {
				return nil, err
			}
			out = append(out, cs...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

func polygonCells(p orb.Polygon, res int) ([]cell.Cell, error) {
	if len(p) == 0 {
		return nil, nil
	}
	outer := toLoop(p[0])
	if len(outer) < 3 {
		return nil, nil
	}
	gp := h3.GeoPolygon{GeoLoop: outer}
	for _, ring := range p[1:] {
		if hole := toLoop(ring); len(hole) >= 3 {
			gp.Holes = append(gp.Holes, hole)
		}
	}
	hs, err := h3.PolygonToCells(gp, res)
	if err != nil {
		return nil, err
	}
	out := make([]cell.Cell, 0, len(hs))
	for _, h := range hs {
		out = append(out, cell.Cell(uint64(h)))
	}
	return out, nil
}

// orb 点为 [经度, 纬度]；h3 需要纬度在前
func toLoop(r orb.Ring) h3.GeoLoop {
	pts := r
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	loop := make(h3.GeoLoop, 0, len(pts))
	for _, pt := range pts {
		loop = append(loop, h3.NewLatLng(pt.Lat(), pt.Lon()))
	}
	return loop
}
