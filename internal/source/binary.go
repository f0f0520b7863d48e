package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"hexmap/internal/cell"
)

// ErrTruncatedStream：压缩流在 gzip 尾部之前中断（如下载不完整）
var ErrTruncatedStream = errors.New("gzip stream truncated")

// 文档注释：二进制单元集合文件
// 背景：文件为 gzip 压缩的 8 字节小端单元序列，无头无尾；区域名取文件名首个 "." 之前的部分。
type BinarySet struct {
	Name string
	Path string
}

// 文档注释：按区域名升序列出输入文件
// 背景：处理顺序决定重叠单元的归属（后写覆盖），排序保证重复构建结果一致；同名时保持输入顺序。
func ListBinary(paths []string) []BinarySet {
	sets := make([]BinarySet, 0, len(paths))
	for _, p := range paths {
		sets = append(sets, BinarySet{Name: RegionName(p), Path: p})
	}
	sort.SliceStable(sets, func(i, j int) bool { return sets[i].Name < sets[j].Name })
	return sets
}

// RegionName：文件名首个 "." 之前的部分；以 "." 开头的文件名该点不计为分隔符
func RegionName(path string) string {
	base := filepath.Base(path)
	start := 0
	if strings.HasPrefix(base, ".") {
		start = 1
	}
	if i := strings.IndexByte(base[start:], '.'); i >= 0 {
		return base[:start+i]
	}
	return base
}

// 文档注释：流式单元读取器
// 背景：逐条读取 8 字节记录并校验；完整压缩流末尾不足 8 字节的残缺记录视为流结束，不报错。
// 异常：gzip 数据损坏、压缩流截断（ErrTruncatedStream）与非法单元值直接返回错误。
type CellReader struct {
	zr  *gzip.Reader
	src io.Reader
	buf [8]byte
}

func NewCellReader(r io.Reader) (*CellReader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &CellReader{zr: zr, src: streamReader{zr}}, nil
}

// streamReader：把解压器的 io.ErrUnexpectedEOF 改写为 ErrTruncatedStream，
// 使其与 io.ReadFull 自身的残缺记录信号区分开
type streamReader struct{ r io.Reader }

func (s streamReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncatedStream
	}
	return n, err
}

// Next：读取下一个单元；ok=false 表示流结束
func (cr *CellReader) Next() (cell.Cell, bool, error) {
	_, err := io.ReadFull(cr.src, cr.buf[:])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	c, err := cell.New(binary.LittleEndian.Uint64(cr.buf[:]))
	if err != nil {
		return 0, false, err
	}
	return c, true, nil
}

func (cr *CellReader) Close() error { return cr.zr.Close() }

// ReadBinary：读取整个文件的原始单元
func ReadBinary(path string) ([]cell.Cell, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cr, err := NewCellReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer cr.Close()
	var out []cell.Cell
	for {
		c, ok, err := cr.Next()
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, len(out), err)
		}
		if !ok {
			return out, nil
		}
		out = append(out, c)
	}
}

// WriteBinary：将单元写为 gzip 压缩的二进制集合（用于生成测试数据与导出）
func WriteBinary(w io.Writer, cells []cell.Cell) error {
	zw := gzip.NewWriter(w)
	var b [8]byte
	for _, c := range cells {
		binary.LittleEndian.PutUint64(b[:], uint64(c))
		if _, err := zw.Write(b[:]); err != nil {
			return err
		}
	}
	return zw.Close()
}
