// 包 artifact：查找产物的写出与查询
// 文件布局：[空间映射编码][CBOR 查找表][u64 小端查找表偏移]；产物生成后不可修改，每次构建整体重写。
package artifact

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"hexmap/internal/codec"
	"hexmap/internal/logger"
)

// TailSize：尾部偏移指针字节数
const TailSize = 8

// 文档注释：写出结果
// 背景：Digest 为整个产物字节的 BLAKE3 摘要（十六进制），用于核对重复构建是否逐字节一致。
type Result struct {
	Bytes  int64
	Digest string
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// 文档注释：写出产物
// 背景：先写空间映射（编码对本层不透明），记录当前位置作为查找表偏移，再写 CBOR 字符串数组与 8 字节尾指针。
// 约束：lut 按标签下标排列；nil 视为空表，写为空数组而非 null。
// 异常：任一步写入失败直接返回，调用方负责丢弃不完整输出。
func Write(w io.Writer, tree io.WriterTo, lut []string) (Result, error) {
	if lut == nil {
		lut = []string{}
	}
	h := blake3.New()
	cw := &countingWriter{w: io.MultiWriter(w, h)}
	if _, err := tree.WriteTo(cw); err != nil {
		return Result{}, fmt.Errorf("write tree: %w", err)
	}
	lutOff := cw.n
	if err := codec.NewEncoder(cw).Encode(lut); err != nil {
		return Result{}, fmt.Errorf("write lut: %w", err)
	}
	var tail [TailSize]byte
	binary.LittleEndian.PutUint64(tail[:], uint64(lutOff))
	if _, err := cw.Write(tail[:]); err != nil {
		return Result{}, fmt.Errorf("write tail: %w", err)
	}
	return Result{Bytes: cw.n, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// 文档注释：原子写出产物文件
// 背景：写入 <path>.tmp，落盘后重命名覆盖目标；任一步失败删除临时文件，目标路径不会出现半成品。
func WriteFile(path string, tree io.WriterTo, lut []string) (Result, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Result{}, err
	}
	fail := func(err error) (Result, error) {
		_ = f.Close()
		_ = os.Remove(tmp)
		return Result{}, err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	res, err := Write(bw, tree, lut)
	if err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Result{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return Result{}, err
	}
	logger.L().Info("artifact_written", "path", path, "bytes", res.Bytes, "labels", len(lut), "blake3", res.Digest)
	return res, nil
}
