// 包 cell：H3 单元索引的最小封装，集中处理校验、层级与坐标换算，其余模块不直接依赖 h3-go
package cell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/uber/h3-go/v4"
)

// MaxResolution：H3 最细层级
const MaxResolution = 15

// BaseCellCount：H3 的 0 级单元数量
const BaseCellCount = 122

// NumDigits：每一级子单元位（0–6）
const NumDigits = 7

var (
	ErrInvalidCell       = errors.New("invalid h3 cell index")
	ErrInvalidResolution = errors.New("invalid h3 resolution")
)

// 文档注释：H3 单元索引
// 背景：以 64 位整数表示单元；使用前必须通过 New/Parse 校验，非法值直接拒绝，不做纠正。
// 约束：层级、基础单元与各级位直接按位读取，避免在查询热路径上调用 cgo。
type Cell uint64

// New：校验并构造单元
func New(v uint64) (Cell, error) {
	c := Cell(v)
	if !c.h3().IsValid() {
		return 0, fmt.Errorf("%w: %x", ErrInvalidCell, v)
	}
	return c, nil
}

// Parse：解析十六进制字符串形式的单元（允许 0x 前缀）
func Parse(s string) (Cell, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, s)
	}
	return New(v)
}

// FromLatLng：经纬度（WGS84，度）换算为指定层级单元
func FromLatLng(lat, lng float64, res int) (Cell, error) {
	if res < 0 || res > MaxResolution {
		return 0, fmt.Errorf("%w: %d", ErrInvalidResolution, res)
	}
	hc, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), res)
	if err != nil {
		return 0, err
	}
	return Cell(uint64(hc)), nil
}

func (c Cell) h3() h3.Cell { return h3.Cell(int64(c)) }

// Resolution：读取层级位（52–55）
func (c Cell) Resolution() int { return int((uint64(c) >> 52) & 0xF) }

// BaseCell：读取基础单元编号（45–51）
func (c Cell) BaseCell() int { return int((uint64(c) >> 45) & 0x7F) }

// Digit：读取第 res 级子单元位，res 取值 1–15
func (c Cell) Digit(res int) int {
	return int((uint64(c) >> (uint(MaxResolution-res) * 3)) & 0x7)
}

// IsPentagon：是否五边形单元（五边形只有 6 个子单元）
func (c Cell) IsPentagon() bool { return c.h3().IsPentagon() }

// Parent：指定层级的祖先；res 等于自身层级时返回自身
func (c Cell) Parent(res int) (Cell, error) {
	if res < 0 || res > c.Resolution() {
		return 0, fmt.Errorf("%w: %d (cell res %d)", ErrInvalidResolution, res, c.Resolution())
	}
	if res == c.Resolution() {
		return c, nil
	}
	p, err := c.h3().Parent(res)
	if err != nil {
		return 0, err
	}
	return Cell(uint64(p)), nil
}

// Children：指定层级的全部后代
func (c Cell) Children(res int) ([]Cell, error) {
	if res < c.Resolution() || res > MaxResolution {
		return nil, fmt.Errorf("%w: %d (cell res %d)", ErrInvalidResolution, res, c.Resolution())
	}
	hs, err := c.h3().Children(res)
	if err != nil {
		return nil, err
	}
	out := make([]Cell, len(hs))
	for i, h := range hs {
		out[i] = Cell(uint64(h))
	}
	return out, nil
}

// ChildCount：下一级子单元数量
func (c Cell) ChildCount() int {
	if c.IsPentagon() {
		return NumDigits - 1
	}
	return NumDigits
}

// LatLng：单元中心点
func (c Cell) LatLng() (lat, lng float64, err error) {
	ll, err := c.h3().LatLng()
	if err != nil {
		return 0, 0, err
	}
	return ll.Lat, ll.Lng, nil
}

// String：十六进制表示，与 h3 工具链保持一致
func (c Cell) String() string { return strconv.FormatUint(uint64(c), 16) }
