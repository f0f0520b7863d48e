package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"hexmap/internal/raster"
)

// 文档注释：读取 GeoJSON 要素集合
// 背景：一次性解析整个文档；要素级校验（几何/属性缺失）推迟到栅格化阶段，由并行流水线统一上报。
func LoadFeatures(path string) ([]*geojson.Feature, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fc.Features, nil
}

// 文档注释：要素转来源（栅格化 + 属性序列化）
// 背景：名称取要素序号，值为属性对象的 JSON 文本（键有序，保证产物可复现）。
// 异常：几何或属性为 null 时返回带序号的错误；非面几何返回 ErrUnsupportedGeometry。
func FeatureSource(i int, f *geojson.Feature, res int) (Source, error) {
	if f == nil || f.Geometry == nil {
		return Source{}, fmt.Errorf("feature %d: %w", i, ErrMissingGeometry)
	}
	if f.Properties == nil {
		return Source{}, fmt.Errorf("feature %d: %w", i, ErrMissingProperties)
	}
	cells, err := raster.Cells(f.Geometry, res)
	if errors.Is(err, raster.ErrUnsupportedGeometry) {
		return Source{}, fmt.Errorf("feature %d: %w: %s", i, ErrUnsupportedGeometry, f.Geometry.GeoJSONType())
	}
	if err != nil {
		return Source{}, fmt.Errorf("feature %d: %w", i, err)
	}
	val, err := json.Marshal(map[string]interface{}(f.Properties))
	if err != nil {
		return Source{}, fmt.Errorf("feature %d: properties: %w", i, err)
	}
	return Source{Name: strconv.Itoa(i), Value: string(val), Cells: cells}, nil
}
