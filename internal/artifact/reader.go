package artifact

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"hexmap/internal/cell"
	"hexmap/internal/codec"
	"hexmap/internal/hextree"
	"hexmap/internal/metrics"
)

var (
	ErrTruncated       = errors.New("artifact: file too short for trailing pointer")
	ErrBadLUT          = errors.New("artifact: bad lookup table")
	ErrNoInternedValue = errors.New("artifact: label has no interned value")
)

// Options：打开选项；Mmap 为 true 时以只读内存映射代替 ReadAt 系统调用
type Options struct {
	Mmap bool
}

// PointQuerier：空间映射点查询接口（命中单元、标签、是否命中）
type PointQuerier interface {
	Get(c cell.Cell) (cell.Cell, uint8, bool, error)
}

// Hit：一次命中的结果；Cell 为实际存储的单元（查询单元自身或其祖先）
type Hit struct {
	Value string
	Label uint8
	Cell  cell.Cell
}

type readerAtCloser interface {
	io.ReaderAt
	io.Closer
}

// 文档注释：已打开的产物
// 背景：查找表在打开时整体解码进内存（最多 256 项）；空间映射保持在磁盘上按需随机读取。
// 约束：Lookup 只使用 ReadAt，可被多个 goroutine 并发调用；Close 之后不得再查询。
type Map struct {
	path string
	size int64
	src  readerAtCloser
	tree PointQuerier
	lut  []string
}

// 文档注释：打开产物
// 背景：读取末尾 8 字节得到查找表偏移，校验其不越界后解码 [偏移, 长度-8) 区间，再以 [0, 偏移) 打开空间映射。
// 异常：文件不足 8 字节返回 ErrTruncated；偏移越界或查找表无法解码返回 ErrBadLUT；映射头部非法返回 hextree.ErrBadMagic。
func Open(path string, opts Options) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := st.Size()
	if size < TailSize {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w (%d bytes)", path, ErrTruncated, size)
	}
	var src readerAtCloser = f
	if opts.Mmap {
		mm, err := mmapFile(f, size)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: mmap: %w", path, err)
		}
		src = mm
	}
	m, err := openFrom(src, size)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = path
	return m, nil
}

func openFrom(src readerAtCloser, size int64) (*Map, error) {
	var tail [TailSize]byte
	if n, err := src.ReadAt(tail[:], size-TailSize); n < TailSize {
		return nil, fmt.Errorf("%w: read tail: %v", ErrTruncated, err)
	}
	ptr := binary.LittleEndian.Uint64(tail[:])
	end := uint64(size - TailSize)
	if ptr > end {
		return nil, fmt.Errorf("%w: pointer %d past end %d", ErrBadLUT, ptr, end)
	}
	var lut []string
	dec := codec.NewDecoder(io.NewSectionReader(src, int64(ptr), int64(end-ptr)))
	if err := dec.Decode(&lut); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLUT, err)
	}
	tree, err := hextree.Open[uint8](io.NewSectionReader(src, 0, int64(ptr)), hextree.DecodeByte)
	if err != nil {
		return nil, err
	}
	return &Map{size: size, src: src, tree: tree, lut: lut}, nil
}

// 文档注释：点查询
// 返回：未命中时 found=false 且 err=nil（无记录不是错误，也不会落到标签 0）；标签超出查找表返回 ErrNoInternedValue。
func (m *Map) Lookup(c cell.Cell) (Hit, bool, error) {
	start := time.Now()
	defer func() { metrics.LookupDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000) }()
	at, label, ok, err := m.tree.Get(c)
	if err != nil {
		metrics.LookupsTotal.WithLabelValues("error").Inc()
		return Hit{}, false, err
	}
	if !ok {
		metrics.LookupsTotal.WithLabelValues("miss").Inc()
		return Hit{}, false, nil
	}
	if int(label) >= len(m.lut) {
		metrics.LookupsTotal.WithLabelValues("error").Inc()
		return Hit{}, false, fmt.Errorf("%w: label %d, table has %d", ErrNoInternedValue, label, len(m.lut))
	}
	metrics.LookupsTotal.WithLabelValues("hit").Inc()
	return Hit{Value: m.lut[label], Label: label, Cell: at}, true, nil
}

// Labels：查找表副本
func (m *Map) Labels() []string {
	out := make([]string, len(m.lut))
	copy(out, m.lut)
	return out
}

func (m *Map) Path() string { return m.path }

func (m *Map) Size() int64 { return m.size }

func (m *Map) Close() error { return m.src.Close() }
