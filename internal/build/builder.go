// 包 build：标签分配与空间映射组装，串起来源读取、规整、并行栅格化与产物写出
package build

import (
	"errors"
	"fmt"
	"io"
	"time"

	"hexmap/internal/artifact"
	"hexmap/internal/cell"
	"hexmap/internal/cellset"
	"hexmap/internal/hextree"
	"hexmap/internal/logger"
	"hexmap/internal/metrics"
	"hexmap/internal/source"
)

// MaxSources：单字节标签可寻址的来源数量上限
const MaxSources = 256

var (
	ErrTooManySources = errors.New("too many sources for one-byte labels")
	ErrWorkerPanic    = errors.New("rasterization worker panicked")
)

// 文档注释：空间映射（构建侧）
// 背景：插入单元与标签，最终序列化为产物头部；同一单元后插入者覆盖。
type SpatialMap interface {
	Insert(c cell.Cell, label uint8) error
	WriteTo(w io.Writer) (int64, error)
}

type labelTree struct{ m *hextree.Map[uint8] }

func (t labelTree) Insert(c cell.Cell, label uint8) error { return t.m.Insert(c, label) }

func (t labelTree) WriteTo(w io.Writer) (int64, error) { return t.m.WriteTo(w, hextree.EncodeByte) }

// NewSpatialMap：以前缀树实现的空间映射
func NewSpatialMap() SpatialMap { return labelTree{m: hextree.New[uint8]()} }

// Summary：构建结果摘要
type Summary struct {
	Sources int
	Cells   int
	Bytes   int64
	Digest  string
}

// 文档注释：标签组装器
// 背景：按调用顺序为来源分配 0 起的连续标签，并将已规整单元写入空间映射；空间映射只由组装器持有。
// 约束：不可并发调用；超过 MaxSources 个来源返回 ErrTooManySources。
type Builder struct {
	mode  string
	start time.Time
	tree  SpatialMap
	lut   []string
	cells int
}

func NewBuilder(mode string) *Builder {
	return &Builder{mode: mode, start: time.Now(), tree: NewSpatialMap()}
}

// Add：登记一个来源并插入其已规整的单元
func (b *Builder) Add(name, value string, cells []cell.Cell) error {
	if len(b.lut) >= MaxSources {
		return fmt.Errorf("%w: source %q would be #%d", ErrTooManySources, name, len(b.lut)+1)
	}
	label := uint8(len(b.lut))
	b.lut = append(b.lut, value)
	for _, c := range cells {
		if err := b.tree.Insert(c, label); err != nil {
			return fmt.Errorf("source %q: insert %s: %w", name, c, err)
		}
	}
	b.cells += len(cells)
	metrics.BuildSourcesTotal.WithLabelValues(b.mode).Inc()
	metrics.BuildCellsTotal.WithLabelValues(b.mode).Add(float64(len(cells)))
	logger.L().Debug("source_done", "mode", b.mode, "name", name, "label", label, "cells", len(cells))
	return nil
}

// AddSource：规整原始单元后登记
func (b *Builder) AddSource(src source.Source) error {
	cells, err := cellset.Normalize(src.Cells)
	if err != nil {
		return fmt.Errorf("source %q: %w", src.Name, err)
	}
	return b.Add(src.Name, src.Value, cells)
}

// Labels：当前查找表（按标签下标）
func (b *Builder) Labels() []string { return b.lut }

// WriteFile：写出产物并返回摘要
func (b *Builder) WriteFile(path string) (Summary, error) {
	res, err := artifact.WriteFile(path, b.tree, b.lut)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Sources: len(b.lut), Cells: b.cells, Bytes: res.Bytes, Digest: res.Digest}
	metrics.BuildDurationSec.WithLabelValues(b.mode).Observe(time.Since(b.start).Seconds())
	logger.L().Info("build_done", "mode", b.mode, "out", path, "sources", sum.Sources, "cells", sum.Cells,
		"bytes", sum.Bytes, "blake3", sum.Digest, "duration_ms", time.Since(b.start).Milliseconds())
	return sum, nil
}

func failed(mode string, err error) (Summary, error) {
	metrics.BuildFailTotal.WithLabelValues(mode).Inc()
	logger.L().Error("build_error", "mode", mode, "err", err)
	return Summary{}, err
}

// 文档注释：由二进制单元集合文件构建产物
// 背景：按区域名升序逐个读取、规整、插入；重叠单元归属名称靠后的区域。
// 约束：来源数量在读取任何文件、创建任何输出之前检查。
// 异常：任一文件读取失败即中止，不写出产物。
func Generate(out string, paths []string) (Summary, error) {
	const mode = "binary"
	sets := source.ListBinary(paths)
	if len(sets) > MaxSources {
		return failed(mode, fmt.Errorf("%w: %d inputs, limit %d", ErrTooManySources, len(sets), MaxSources))
	}
	logger.L().Info("build_begin", "mode", mode, "out", out, "sources", len(sets))
	b := NewBuilder(mode)
	for _, s := range sets {
		raw, err := source.ReadBinary(s.Path)
		if err != nil {
			return failed(mode, err)
		}
		if err := b.AddSource(source.Source{Name: s.Name, Value: s.Name, Cells: raw}); err != nil {
			return failed(mode, err)
		}
	}
	sum, err := b.WriteFile(out)
	if err != nil {
		return failed(mode, err)
	}
	return sum, nil
}

// GenerateSources：由已读入的来源构建产物（数据库模式），来源顺序即处理顺序
func GenerateSources(out, mode string, srcs []source.Source) (Summary, error) {
	if len(srcs) > MaxSources {
		return failed(mode, fmt.Errorf("%w: %d sources, limit %d", ErrTooManySources, len(srcs), MaxSources))
	}
	logger.L().Info("build_begin", "mode", mode, "out", out, "sources", len(srcs))
	b := NewBuilder(mode)
	for _, s := range srcs {
		if err := b.AddSource(s); err != nil {
			return failed(mode, err)
		}
	}
	sum, err := b.WriteFile(out)
	if err != nil {
		return failed(mode, err)
	}
	return sum, nil
}

// WorldOptions：几何模式参数；Workers<=0 时取 CPU 数
type WorldOptions struct {
	Resolution int
	Workers    int
}

// 文档注释：由 GeoJSON 要素集合构建产物
// 背景：要素经并行流水线栅格化与规整，消费者按要素序号依次登记；重叠单元归属序号靠后的要素。
// 约束：要素数量超过 MaxSources 时在栅格化之前失败。
// 异常：任一要素校验、栅格化或属性序列化失败（含 worker panic）即中止，不写出产物。
func GenerateWorld(out, path string, opts WorldOptions) (Summary, error) {
	const mode = "geometry"
	features, err := source.LoadFeatures(path)
	if err != nil {
		return failed(mode, err)
	}
	if len(features) > MaxSources {
		return failed(mode, fmt.Errorf("%w: %d features, limit %d", ErrTooManySources, len(features), MaxSources))
	}
	logger.L().Info("build_begin", "mode", mode, "out", out, "sources", len(features),
		"resolution", opts.Resolution, "workers", opts.Workers)
	b := NewBuilder(mode)
	err = Rasterize(features, opts.Resolution, opts.Workers, func(r Result) error {
		return b.Add(r.Name, r.Value, r.Cells)
	})
	if err != nil {
		return failed(mode, err)
	}
	sum, err := b.WriteFile(out)
	if err != nil {
		return failed(mode, err)
	}
	return sum, nil
}
