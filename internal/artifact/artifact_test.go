package artifact

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"hexmap/internal/cell"
	"hexmap/internal/hextree"
)

type treeWriter struct{ m *hextree.Map[uint8] }

func (t treeWriter) WriteTo(w io.Writer) (int64, error) { return t.m.WriteTo(w, hextree.EncodeByte) }

func siblings(t *testing.T) []cell.Cell {
	t.Helper()
	a, err := cell.Parse("85283473fffffff")
	require.NoError(t, err)
	p, err := a.Parent(4)
	require.NoError(t, err)
	kids, err := p.Children(5)
	require.NoError(t, err)
	require.Len(t, kids, 7)
	return kids
}

func writeMap(t *testing.T, path string, entries map[cell.Cell]uint8, lut []string) Result {
	t.Helper()
	m := hextree.New[uint8]()
	for c, l := range entries {
		require.NoError(t, m.Insert(c, l))
	}
	res, err := WriteFile(path, treeWriter{m: m}, lut)
	require.NoError(t, err)
	return res
}

func TestWriteOpenLookup(t *testing.T) {
	kids := siblings(t)
	path := filepath.Join(t.TempDir(), "regions.bin")
	res := writeMap(t, path, map[cell.Cell]uint8{kids[0]: 0, kids[1]: 1}, []string{"alpha", "beta"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(raw)), res.Bytes)
	sum := blake3.Sum256(raw)
	require.Equal(t, hex.EncodeToString(sum[:]), res.Digest)
	_, err = os.Stat(path + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)

	for _, opts := range []Options{{}, {Mmap: true}} {
		m, err := Open(path, opts)
		require.NoError(t, err)
		require.Equal(t, []string{"alpha", "beta"}, m.Labels())

		hit, ok, err := m.Lookup(kids[0])
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "alpha", hit.Value)
		require.Equal(t, uint8(0), hit.Label)

		grand, err := kids[1].Children(7)
		require.NoError(t, err)
		hit, ok, err = m.Lookup(grand[3])
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "beta", hit.Value)
		require.Equal(t, kids[1], hit.Cell)

		_, ok, err = m.Lookup(kids[2])
		require.NoError(t, err)
		require.False(t, ok)
		require.NoError(t, m.Close())
	}
}

func TestEmptyLUT(t *testing.T) {
	kids := siblings(t)
	path := filepath.Join(t.TempDir(), "empty.bin")
	writeMap(t, path, nil, nil)

	m, err := Open(path, Options{})
	require.NoError(t, err)
	defer m.Close()
	require.Empty(t, m.Labels())
	_, ok, err := m.Lookup(kids[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPointerPastEOF(t *testing.T) {
	kids := siblings(t)
	path := filepath.Join(t.TempDir(), "bad.bin")
	writeMap(t, path, map[cell.Cell]uint8{kids[0]: 0}, []string{"alpha"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(raw[len(raw)-TailSize:], uint64(len(raw)+100))
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path, Options{})
	require.ErrorIs(t, err, ErrBadLUT)
}

func TestUndecodableLUT(t *testing.T) {
	kids := siblings(t)
	path := filepath.Join(t.TempDir(), "bad.bin")
	writeMap(t, path, map[cell.Cell]uint8{kids[0]: 0}, []string{"alpha"})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// 指针指向尾部自身之前 1 字节，区间内容不是字符串数组
	binary.LittleEndian.PutUint64(raw[len(raw)-TailSize:], uint64(len(raw)-TailSize-1))
	raw[len(raw)-TailSize-1] = 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = Open(path, Options{})
	require.ErrorIs(t, err, ErrBadLUT)
}

func TestLabelOutOfRange(t *testing.T) {
	kids := siblings(t)
	path := filepath.Join(t.TempDir(), "short-lut.bin")
	writeMap(t, path, map[cell.Cell]uint8{kids[0]: 5}, []string{"only"})

	m, err := Open(path, Options{})
	require.NoError(t, err)
	defer m.Close()
	_, ok, err := m.Lookup(kids[0])
	require.ErrorIs(t, err, ErrNoInternedValue)
	require.False(t, ok)
}

func TestTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4, 5}, 0o644))
	_, err := Open(path, Options{})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestBadTreeHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	raw := []byte("NOPE\x01\x80")
	raw = binary.LittleEndian.AppendUint64(raw, 5)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	_, err := Open(path, Options{})
	require.ErrorIs(t, err, hextree.ErrBadMagic)
}

func TestWriteFileFailureLeavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "out.bin")
	_, err := WriteFile(path, treeWriter{m: hextree.New[uint8]()}, nil)
	require.Error(t, err)
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDynamicReload(t *testing.T) {
	kids := siblings(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.bin")
	second := filepath.Join(dir, "second.bin")
	writeMap(t, first, map[cell.Cell]uint8{kids[0]: 0}, []string{"alpha"})
	writeMap(t, second, map[cell.Cell]uint8{kids[0]: 0}, []string{"gamma"})

	var d Dynamic
	_, _, err := d.Lookup(kids[0])
	require.ErrorIs(t, err, ErrNotLoaded)

	require.NoError(t, d.Reload(first, Options{}))
	hit, ok, err := d.Lookup(kids[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alpha", hit.Value)

	require.Error(t, d.Reload(filepath.Join(dir, "absent.bin"), Options{}))
	hit, _, err = d.Lookup(kids[0])
	require.NoError(t, err)
	require.Equal(t, "alpha", hit.Value)

	require.NoError(t, d.Reload(second, Options{}))
	hit, _, err = d.Lookup(kids[0])
	require.NoError(t, err)
	require.Equal(t, "gamma", hit.Value)
	require.Equal(t, second, d.Current().Path())
	require.NoError(t, d.Close())
}

func TestReloadIfChanged(t *testing.T) {
	kids := siblings(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "live.bin")
	writeMap(t, path, map[cell.Cell]uint8{kids[0]: 0}, []string{"alpha"})

	var d Dynamic
	require.NoError(t, d.Reload(path, Options{}))
	defer d.Close()
	gen := d.Generation()
	last, ok := stampOf(path)
	require.True(t, ok)

	require.False(t, d.reloadIfChanged(path, Options{}, &last))
	require.Equal(t, gen, d.Generation())

	writeMap(t, path, map[cell.Cell]uint8{kids[0]: 0, kids[1]: 1}, []string{"alpha", "beta"})
	// 大小变化即视为新版本，不依赖文件系统时间精度
	require.True(t, d.reloadIfChanged(path, Options{}, &last))
	require.Equal(t, gen+1, d.Generation())
	hit, ok, err := d.Lookup(kids[1])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "beta", hit.Value)

	require.NoError(t, os.Remove(path))
	require.False(t, d.reloadIfChanged(path, Options{}, &last))
}
