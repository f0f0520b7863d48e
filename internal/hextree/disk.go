package hextree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"hexmap/internal/cell"
)

// 文件格式（小端）：
// - Magic "HXTR"(4) + Version(u8)
// - 122 个基础单元根偏移（u64，0 表示空）
// - 节点区：叶子 = tag(0x01) + 值编码；分支 = tag(0x02) + 7 个子偏移（u64，0 表示空，按子单元位索引）
// 偏移均相对于树起点；树固定写在文件头部，故等同于文件偏移。
var magic = [4]byte{'H', 'X', 'T', 'R'}

const (
	version    = 1
	tagLeaf    = 0x01
	tagBranch  = 0x02
	headerSize = 4 + 1 + cell.BaseCellCount*8
	branchSize = 1 + cell.NumDigits*8
)

// 文档注释：写出磁盘编码
// 背景：节点按后序写入缓冲区，父节点写入时子偏移已确定；头部根表最后回填，整体一次写出。
// 返回：写出字节数；值编码失败或写入失败直接返回错误。
func (m *Map[V]) WriteTo(w io.Writer, enc Encoder[V]) (int64, error) {
	var body bytes.Buffer
	var emit func(n *node[V]) (uint64, error)
	emit = func(n *node[V]) (uint64, error) {
		if n.leaf {
			off := uint64(headerSize + body.Len())
			body.WriteByte(tagLeaf)
			if err := enc(&body, n.val); err != nil {
				return 0, err
			}
			return off, nil
		}
		var kids [cell.NumDigits]uint64
		for i, ch := range n.children {
			if ch == nil {
				continue
			}
			o, err := emit(ch)
			if err != nil {
				return 0, err
			}
			kids[i] = o
		}
		off := uint64(headerSize + body.Len())
		var rec [branchSize]byte
		rec[0] = tagBranch
		for i, o := range kids {
			binary.LittleEndian.PutUint64(rec[1+i*8:], o)
		}
		body.Write(rec[:])
		return off, nil
	}

	hdr := make([]byte, headerSize)
	copy(hdr, magic[:])
	hdr[4] = version
	for b, r := range m.roots {
		if r == nil {
			continue
		}
		o, err := emit(r)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(hdr[5+b*8:], o)
	}
	n, err := w.Write(hdr)
	total := int64(n)
	if err != nil {
		return total, err
	}
	n2, err := body.WriteTo(w)
	return total + n2, err
}

// 文档注释：磁盘前缀树只读句柄
// 背景：仅持有 ReaderAt，每次查询按层级随机读节点，不将整棵树载入内存；可被多个 goroutine 并发查询。
type DiskTree[V any] struct {
	r   io.ReaderAt
	dec Decoder[V]
}

// Open：校验头部并返回只读句柄
func Open[V any](r io.ReaderAt, dec Decoder[V]) (*DiskTree[V], error) {
	var hdr [5]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if !bytes.Equal(hdr[:4], magic[:]) || hdr[4] != version {
		return nil, ErrBadMagic
	}
	return &DiskTree[V]{r: r, dec: dec}, nil
}

func (t *DiskTree[V]) readOffset(at int64) (int64, error) {
	var b [8]byte
	if n, err := t.r.ReadAt(b[:], at); n < len(b) {
		return 0, fmt.Errorf("%w: offset at %d: %v", ErrCorrupt, at, err)
	}
	o := binary.LittleEndian.Uint64(b[:])
	if o != 0 && o < headerSize {
		return 0, fmt.Errorf("%w: offset %d points into header", ErrCorrupt, o)
	}
	if o > math.MaxInt64 {
		return 0, fmt.Errorf("%w: offset %d", ErrCorrupt, o)
	}
	return int64(o), nil
}

// 文档注释：点查询
// 背景：自基础单元根逐级下钻；遇到叶子即命中（叶子覆盖全部后代），返回命中的存储单元与值。
// 返回：found=false 表示无记录（包括目标比存储单元更粗的情况）；读盘失败或节点标记非法返回 ErrCorrupt。
func (t *DiskTree[V]) Get(c cell.Cell) (cell.Cell, V, bool, error) {
	var zero V
	off, err := t.readOffset(int64(5 + c.BaseCell()*8))
	if err != nil {
		return 0, zero, false, err
	}
	for d := 0; off != 0; d++ {
		var tag [1]byte
		if n, err := t.r.ReadAt(tag[:], off); n < 1 {
			return 0, zero, false, fmt.Errorf("%w: tag at %d: %v", ErrCorrupt, off, err)
		}
		switch tag[0] {
		case tagLeaf:
			v, err := t.dec(io.NewSectionReader(t.r, off+1, math.MaxInt64-off-1))
			if err != nil {
				return 0, zero, false, fmt.Errorf("%w: value at %d: %v", ErrCorrupt, off+1, err)
			}
			p, err := c.Parent(d)
			if err != nil {
				return 0, zero, false, err
			}
			return p, v, true, nil
		case tagBranch:
			if d == c.Resolution() {
				return 0, zero, false, nil
			}
			off, err = t.readOffset(off + 1 + int64(c.Digit(d+1))*8)
			if err != nil {
				return 0, zero, false, err
			}
		default:
			return 0, zero, false, fmt.Errorf("%w: tag 0x%02x at %d", ErrCorrupt, tag[0], off)
		}
	}
	return 0, zero, false, nil
}
