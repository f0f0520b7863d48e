// 包 hextree：以 H3 单元为键的前缀树（七叉树），提供内存构建与磁盘编码两种形态
// 背景：每个基础单元对应一棵树，逐级按子单元位下钻；叶子存储值，覆盖其下全部后代单元。
package hextree

import (
	"errors"
	"io"

	"hexmap/internal/cell"
)

var (
	ErrBadMagic = errors.New("hextree: bad magic or version")
	ErrCorrupt  = errors.New("hextree: corrupt node")
)

// Encoder：将单个值写入磁盘编码
type Encoder[V any] func(w io.Writer, v V) error

// Decoder：从磁盘编码读回单个值
type Decoder[V any] func(r io.Reader) (V, error)

// EncodeByte / DecodeByte：单字节值编解码（用于标签）
func EncodeByte(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func DecodeByte(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

type node[V comparable] struct {
	leaf     bool
	val      V
	children [cell.NumDigits]*node[V]
}

// 文档注释：内存前缀树
// 背景：构建阶段独占使用，不支持并发写入；同一单元后写覆盖先写。
// 约束：向已有粗粒度叶子下插入更细单元时，先将叶子拆分为完整子节点再覆盖目标路径，保持其余兄弟的覆盖不变；
// 插入后若某节点全部子节点为同值叶子则回收为单个叶子。
type Map[V comparable] struct {
	roots [cell.BaseCellCount]*node[V]
}

func New[V comparable]() *Map[V] { return &Map[V]{} }

// Insert：写入单元与值
func (m *Map[V]) Insert(c cell.Cell, v V) error {
	res := c.Resolution()
	slot := &m.roots[c.BaseCell()]
	path := make([]*node[V], 0, res)
	for d := 0; d < res; d++ {
		n := *slot
		switch {
		case n == nil:
			n = &node[V]{}
			*slot = n
		case n.leaf:
			if err := split(n, c, d); err != nil {
				return err
			}
		}
		path = append(path, n)
		slot = &n.children[c.Digit(d+1)]
	}
	*slot = &node[V]{leaf: true, val: v}
	for d := len(path) - 1; d >= 0; d-- {
		ok, err := collapse(path[d], c, d)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// 将深度 d 处的叶子拆分为全部合法子叶子
func split[V comparable](n *node[V], c cell.Cell, d int) error {
	anc, err := c.Parent(d)
	if err != nil {
		return err
	}
	pent := anc.IsPentagon()
	for i := range n.children {
		if pent && i == 1 {
			continue
		}
		n.children[i] = &node[V]{leaf: true, val: n.val}
	}
	n.leaf = false
	var zero V
	n.val = zero
	return nil
}

func collapse[V comparable](n *node[V], c cell.Cell, d int) (bool, error) {
	anc, err := c.Parent(d)
	if err != nil {
		return false, err
	}
	pent := anc.IsPentagon()
	var first *node[V]
	for i, ch := range n.children {
		if pent && i == 1 {
			continue
		}
		if ch == nil || !ch.leaf {
			return false, nil
		}
		if first == nil {
			first = ch
		} else if ch.val != first.val {
			return false, nil
		}
	}
	n.leaf = true
	n.val = first.val
	n.children = [cell.NumDigits]*node[V]{}
	return true, nil
}

// Get：查询单元；返回命中的存储单元（自身或祖先）与值
func (m *Map[V]) Get(c cell.Cell) (cell.Cell, V, bool) {
	var zero V
	n := m.roots[c.BaseCell()]
	for d := 0; n != nil; d++ {
		if n.leaf {
			p, err := c.Parent(d)
			if err != nil {
				return 0, zero, false
			}
			return p, n.val, true
		}
		if d == c.Resolution() {
			return 0, zero, false
		}
		n = n.children[c.Digit(d+1)]
	}
	return 0, zero, false
}

// Len：叶子数量
func (m *Map[V]) Len() int {
	total := 0
	var walk func(n *node[V])
	walk = func(n *node[V]) {
		if n == nil {
			return
		}
		if n.leaf {
			total++
			return
		}
		for _, ch := range n.children {
			walk(ch)
		}
	}
	for _, r := range m.roots {
		walk(r)
	}
	return total
}
