package build

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"

	"hexmap/internal/artifact"
	"hexmap/internal/cell"
	"hexmap/internal/source"
)

func siblings(t *testing.T) []cell.Cell {
	t.Helper()
	a, err := cell.Parse("85283473fffffff")
	require.NoError(t, err)
	p, err := a.Parent(4)
	require.NoError(t, err)
	kids, err := p.Children(5)
	require.NoError(t, err)
	return kids
}

func writeSet(t *testing.T, path string, cells ...cell.Cell) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, source.WriteBinary(f, cells))
	require.NoError(t, f.Close())
}

func lookup(t *testing.T, path string, c cell.Cell) (string, bool) {
	t.Helper()
	m, err := artifact.Open(path, artifact.Options{})
	require.NoError(t, err)
	defer m.Close()
	hit, ok, err := m.Lookup(c)
	require.NoError(t, err)
	return hit.Value, ok
}

func TestGenerateOverlapLaterWins(t *testing.T) {
	kids := siblings(t)
	a, b, c, d := kids[0], kids[1], kids[2], kids[3]
	dir := t.TempDir()
	// 输入顺序与名称顺序相反，结果仍按名称升序处理
	writeSet(t, filepath.Join(dir, "beta.h3idz"), b, c)
	writeSet(t, filepath.Join(dir, "alpha.h3idz"), a, b)
	out := filepath.Join(dir, "regions.bin")

	sum, err := Generate(out, []string{filepath.Join(dir, "beta.h3idz"), filepath.Join(dir, "alpha.h3idz")})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Sources)
	require.Equal(t, 4, sum.Cells)

	v, ok := lookup(t, out, a)
	require.True(t, ok)
	require.Equal(t, "alpha", v)
	v, ok = lookup(t, out, c)
	require.True(t, ok)
	require.Equal(t, "beta", v)
	v, ok = lookup(t, out, b)
	require.True(t, ok)
	require.Equal(t, "beta", v)

	_, ok = lookup(t, out, d)
	require.False(t, ok)
}

func TestGenerateDigestStable(t *testing.T) {
	kids := siblings(t)
	dir := t.TempDir()
	writeSet(t, filepath.Join(dir, "alpha.h3idz"), kids[0], kids[1], kids[0])
	writeSet(t, filepath.Join(dir, "beta.h3idz"), kids[1], kids[2])
	inputs := []string{filepath.Join(dir, "alpha.h3idz"), filepath.Join(dir, "beta.h3idz")}

	s1, err := Generate(filepath.Join(dir, "one.bin"), inputs)
	require.NoError(t, err)
	s2, err := Generate(filepath.Join(dir, "two.bin"), []string{inputs[1], inputs[0]})
	require.NoError(t, err)
	require.Equal(t, s1.Digest, s2.Digest)
	require.Equal(t, s1.Bytes, s2.Bytes)
}

func TestGenerateCompactsFullSiblingSet(t *testing.T) {
	kids := siblings(t)
	dir := t.TempDir()
	writeSet(t, filepath.Join(dir, "whole.h3idz"), kids...)
	out := filepath.Join(dir, "regions.bin")

	sum, err := Generate(out, []string{filepath.Join(dir, "whole.h3idz")})
	require.NoError(t, err)
	require.Equal(t, 1, sum.Cells)

	parent, err := kids[0].Parent(4)
	require.NoError(t, err)
	m, err := artifact.Open(out, artifact.Options{})
	require.NoError(t, err)
	defer m.Close()
	hit, ok, err := m.Lookup(kids[6])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, parent, hit.Cell)
}

func TestGenerateCapacity(t *testing.T) {
	kids := siblings(t)
	cells, err := kids[0].Children(8)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(cells), MaxSources)

	dir := t.TempDir()
	paths := make([]string, 0, MaxSources+1)
	for i := 0; i < MaxSources; i++ {
		p := filepath.Join(dir, fmt.Sprintf("r%03d.h3idz", i))
		writeSet(t, p, cells[i])
		paths = append(paths, p)
	}
	out := filepath.Join(dir, "full.bin")
	sum, err := Generate(out, paths)
	require.NoError(t, err)
	require.Equal(t, MaxSources, sum.Sources)
	v, ok := lookup(t, out, cells[MaxSources-1])
	require.True(t, ok)
	require.Equal(t, "r255", v)

	over := filepath.Join(dir, "over.bin")
	_, err = Generate(over, append(paths, filepath.Join(dir, "r256.h3idz")))
	require.ErrorIs(t, err, ErrTooManySources)
	_, err = os.Stat(over)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(over + ".tmp")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestGenerateBadInputWritesNothing(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.h3idz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0o644))
	out := filepath.Join(dir, "out.bin")

	_, err := Generate(out, []string{bad})
	require.Error(t, err)
	_, err = os.Stat(out)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestGenerateSources(t *testing.T) {
	kids := siblings(t)
	out := filepath.Join(t.TempDir(), "pg.bin")
	sum, err := GenerateSources(out, "postgres", []source.Source{
		{Name: "east", Value: "east", Cells: []cell.Cell{kids[0]}},
		{Name: "west", Value: "west", Cells: []cell.Cell{kids[0], kids[1]}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, sum.Sources)
	v, _ := lookup(t, out, kids[0])
	require.Equal(t, "west", v)
}

const world = `{"type":"FeatureCollection","features":[
  {"type":"Feature","properties":{"name":"first"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
  {"type":"Feature","properties":{"name":"second"},"geometry":{"type":"MultiPolygon","coordinates":[[[[1,1],[3,1],[3,3],[1,3],[1,1]]]]}},
  {"type":"Feature","properties":{"name":"far"},"geometry":{"type":"Polygon","coordinates":[[[20,20],[21,20],[21,21],[20,21],[20,20]]]}}
]}`

func writeWorld(t *testing.T, doc string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "world.geojson")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	return p
}

func TestGenerateWorld(t *testing.T) {
	in := writeWorld(t, world)
	out := filepath.Join(t.TempDir(), "world.bin")
	sum, err := GenerateWorld(out, in, WorldOptions{Resolution: 5, Workers: 3})
	require.NoError(t, err)
	require.Equal(t, 3, sum.Sources)

	at := func(lat, lng float64) (string, bool) {
		c, err := cell.FromLatLng(lat, lng, 5)
		require.NoError(t, err)
		return lookup(t, out, c)
	}
	v, ok := at(0.5, 0.5)
	require.True(t, ok)
	require.Equal(t, `{"name":"first"}`, v)
	v, ok = at(1.5, 1.5)
	require.True(t, ok)
	require.Equal(t, `{"name":"second"}`, v)
	v, ok = at(20.5, 20.5)
	require.True(t, ok)
	require.Equal(t, `{"name":"far"}`, v)
	_, ok = at(-40, 100)
	require.False(t, ok)
}

func TestGenerateWorldWorkerCountIndependent(t *testing.T) {
	in := writeWorld(t, world)
	dir := t.TempDir()
	one, err := GenerateWorld(filepath.Join(dir, "one.bin"), in, WorldOptions{Resolution: 5, Workers: 1})
	require.NoError(t, err)
	many, err := GenerateWorld(filepath.Join(dir, "many.bin"), in, WorldOptions{Resolution: 5, Workers: 8})
	require.NoError(t, err)
	require.Equal(t, one.Digest, many.Digest)
}

func TestGenerateWorldMissingProperties(t *testing.T) {
	in := writeWorld(t, `{"type":"FeatureCollection","features":[
  {"type":"Feature","properties":{"name":"ok"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
  {"type":"Feature","properties":null,"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,3],[2,2]]]}}
]}`)
	out := filepath.Join(t.TempDir(), "world.bin")
	_, err := GenerateWorld(out, in, WorldOptions{Resolution: 5, Workers: 2})
	require.ErrorIs(t, err, source.ErrMissingProperties)
	require.Contains(t, err.Error(), "feature 1")
	_, err = os.Stat(out)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRasterizeRecoversPanic(t *testing.T) {
	orig := featureSource
	t.Cleanup(func() { featureSource = orig })
	featureSource = func(i int, f *geojson.Feature, res int) (source.Source, error) {
		if i == 2 {
			panic("boom")
		}
		return orig(i, f, res)
	}

	fc, err := geojson.UnmarshalFeatureCollection([]byte(world))
	require.NoError(t, err)
	var emitted []int
	err = Rasterize(fc.Features, 5, 2, func(r Result) error {
		emitted = append(emitted, r.Index)
		return nil
	})
	require.ErrorIs(t, err, ErrWorkerPanic)
	require.Contains(t, err.Error(), "feature 2")
	for i, idx := range emitted {
		require.Equal(t, i, idx)
	}
}

func TestRasterizeOrdered(t *testing.T) {
	fc, err := geojson.UnmarshalFeatureCollection([]byte(world))
	require.NoError(t, err)
	var emitted []int
	err = Rasterize(fc.Features, 4, 0, func(r Result) error {
		emitted = append(emitted, r.Index)
		require.NotEmpty(t, r.Cells)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, emitted)

	require.NoError(t, Rasterize(nil, 4, 4, func(Result) error { return nil }))
}

func TestBuilderRejects257th(t *testing.T) {
	b := NewBuilder("test")
	for i := 0; i < MaxSources; i++ {
		require.NoError(t, b.Add(fmt.Sprint(i), fmt.Sprint(i), nil))
	}
	require.ErrorIs(t, b.Add("extra", "extra", nil), ErrTooManySources)
	require.Len(t, b.Labels(), MaxSources)
}
