// 包 source：单元集合来源读取（二进制 h3idz 压缩集合、GeoJSON 要素集合、PostgreSQL 表）
// 背景：各来源统一产出「名称 + 查找表值 + 原始单元」，由构建层负责规整、分配标签与写入。
package source

import (
	"errors"

	"hexmap/internal/cell"
)

var (
	ErrMissingGeometry     = errors.New("feature has no geometry")
	ErrMissingProperties   = errors.New("feature has no properties")
	ErrUnsupportedGeometry = errors.New("feature geometry is not a polygon")
	ErrBadTableName        = errors.New("invalid table name")
)

// 文档注释：单个来源
// 背景：Name 决定处理顺序（二进制/数据库模式按名称升序），Value 为写入查找表的字符串。
// 约束：Cells 为原始集合，可含重复与混合层级。
type Source struct {
	Name  string
	Value string
	Cells []cell.Cell
}
