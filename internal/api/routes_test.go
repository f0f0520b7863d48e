package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hexmap/internal/artifact"
	"hexmap/internal/build"
	"hexmap/internal/cell"
	"hexmap/internal/geoip"
	"hexmap/internal/source"
)

type fixedLocator struct {
	loc geoip.Location
	err error
}

func (f fixedLocator) Locate(net.IP) (geoip.Location, error) { return f.loc, f.err }

type fixture struct {
	mux  *http.ServeMux
	dyn  *artifact.Dynamic
	path string
	in   cell.Cell
	out  cell.Cell
}

func newFixture(t *testing.T, geo fixedLocator) *fixture {
	t.Helper()
	in, err := cell.FromLatLng(37.7749, -122.4194, 5)
	require.NoError(t, err)
	parent, err := in.Parent(4)
	require.NoError(t, err)
	kids, err := parent.Children(5)
	require.NoError(t, err)
	var out cell.Cell
	for _, k := range kids {
		if k != in {
			out = k
			break
		}
	}

	dir := t.TempDir()
	set := filepath.Join(dir, "bay.h3idz")
	f, err := os.Create(set)
	require.NoError(t, err)
	require.NoError(t, source.WriteBinary(f, []cell.Cell{in}))
	require.NoError(t, f.Close())
	path := filepath.Join(dir, "regions.h3map")
	_, err = build.Generate(path, []string{set})
	require.NoError(t, err)

	dyn := &artifact.Dynamic{}
	require.NoError(t, dyn.Reload(path, artifact.Options{}))
	t.Cleanup(func() { _ = dyn.Close() })

	mux := BuildRoutes(Deps{
		Maps:       dyn,
		Reload:     dyn,
		Geo:        geo,
		Resolution: 5,
		MapPath:    path,
		AdminToken: "secret",
	})
	return &fixture{mux: mux, dyn: dyn, path: path, in: in, out: out}
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, lookupResult) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var res lookupResult
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	}
	return rec, res
}

func TestLookupByCell(t *testing.T) {
	fx := newFixture(t, fixedLocator{})
	rec, res := get(t, fx.mux, "/lookup?cell="+fx.in.String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Found)
	require.Equal(t, "bay", res.Value)
	require.NotNil(t, res.Label)
	require.Equal(t, 0, *res.Label)

	rec, res = get(t, fx.mux, "/lookup?cell="+fx.out.String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, res.Found)
	require.Nil(t, res.Label)

	rec, _ = get(t, fx.mux, "/lookup?cell=zz")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupByLatLng(t *testing.T) {
	fx := newFixture(t, fixedLocator{})
	rec, res := get(t, fx.mux, "/lookup?lat=37.7749&lng=-122.4194")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Found)
	require.Equal(t, 5, res.Resolution)

	// 更细层级的后代单元返回存储的祖先
	grand, err := fx.in.Children(9)
	require.NoError(t, err)
	rec, res = get(t, fx.mux, "/lookup?cell="+grand[10].String())
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Found)
	require.Equal(t, 9, res.Resolution)
	require.Equal(t, fx.in.String(), res.Matched)

	rec, _ = get(t, fx.mux, "/lookup?lat=abc&lng=1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupIP(t *testing.T) {
	_, block, err := net.ParseCIDR("203.0.113.0/24")
	require.NoError(t, err)
	fx := newFixture(t, fixedLocator{loc: geoip.Location{Lat: 37.7749, Lng: -122.4194, Network: block}})
	rec, res := get(t, fx.mux, "/ip?ip=203.0.113.9")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Found)
	require.Equal(t, "203.0.113.9", res.IP)
	require.NotNil(t, res.Lat)
	require.Equal(t, "203.0.113.0/24", res.Network)

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ip":"198.51.100.7"`)

	rec, _ = get(t, fx.mux, "/ip?ip=bogus")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookupIPNoGeo(t *testing.T) {
	fx := newFixture(t, fixedLocator{})
	mux := BuildRoutes(Deps{Maps: fx.dyn, Resolution: 5})
	rec, _ := get(t, mux, "/ip?ip=203.0.113.9")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLookupIPLocateError(t *testing.T) {
	fx := newFixture(t, fixedLocator{err: errors.New("mmdb closed")})
	rec, _ := get(t, fx.mux, "/ip?ip=203.0.113.9")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNotLoaded(t *testing.T) {
	mux := BuildRoutes(Deps{Maps: &artifact.Dynamic{}, Resolution: 5})
	c, err := cell.FromLatLng(0, 0, 5)
	require.NoError(t, err)
	rec, _ := get(t, mux, "/lookup?cell="+c.String())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReload(t *testing.T) {
	fx := newFixture(t, fixedLocator{})

	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.Header.Set("x-admin-token", "secret")
	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reload", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ip", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	require.Equal(t, "192.0.2.1", getClientIP(r))

	r.Header.Set("Forwarded", `for="192.0.2.60";proto=http`)
	require.Equal(t, "192.0.2.60", getClientIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.9")
	require.Equal(t, "192.0.2.9", getClientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/ip?ip=192.0.2.77", nil)
	require.Equal(t, "192.0.2.77", getClientIP(r))
}

func TestLookupLocalCacheKeyedByGeneration(t *testing.T) {
	fx := newFixture(t, fixedLocator{})
	s := newServer(Deps{
		Maps:           fx.dyn,
		Reload:         fx.dyn,
		CacheTTL:       time.Minute,
		LocalCacheSize: 16,
		Resolution:     5,
		MapPath:        fx.path,
		AdminToken:     "secret",
	})
	mux := s.routes()

	for i := 0; i < 3; i++ {
		rec, res := get(t, mux, "/lookup?cell="+fx.in.String())
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, res.Found)
	}
	require.Equal(t, 1, s.local.Len())

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.Header.Set("x-admin-token", "secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, res := get(t, mux, "/lookup?cell="+fx.in.String())
	require.Equal(t, "bay", res.Value)
	require.Equal(t, 2, s.local.Len())
}
