package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	log = logrus.New()
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestProxy(t *testing.T, upstream string, archive *fakeArchive) *TileProxy {
	t.Helper()
	tm := TileMap{
		Name:   "test",
		Min:    0,
		Max:    20,
		Format: "png",
		URL:    upstream + "/{z}/{x}/{y}.png",
	}
	return NewTileProxy("127.0.0.1:0", tm, NewCorrectionSource(archive, DefaultFeatureBudget), testStyle("osm", 1))
}

func proxyGet(p *TileProxy, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	p.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestProxyServesFixedTile(t *testing.T) {
	raster := encodePNG(t, whiteTile(256, 256))
	upstream := rasterServer(t, raster)

	mt := maptile.New(0, 0, 1)
	archive := &fakeArchive{
		maxZoom: 5,
		tiles: map[maptile.Tile][]byte{
			mt: mvtTileBytes(t, "to-add-osm", testLine([2]float64{0, 2048}, [2]float64{4096, 2048})),
		},
	}
	p := newTestProxy(t, upstream.URL, archive)

	rec := proxyGet(p, "/tiles/1/0/0.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content-type = %q, want image/png", ct)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	if countColored(t, rec.Body.Bytes()) == 0 {
		t.Error("fixed tile should contain drawn correction")
	}
}

func TestProxyFallbackOnCorrectionFailure(t *testing.T) {
	raster := encodePNG(t, whiteTile(64, 64))
	upstream := rasterServer(t, raster)

	p := newTestProxy(t, upstream.URL, &fakeArchive{maxZoom: 5, failN: 100})
	rec := proxyGet(p, "/tiles/1/0/0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want fallback 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), raster) {
		t.Error("fallback must serve the upstream raster unchanged")
	}
}

func TestProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p := newTestProxy(t, upstream.URL, &fakeArchive{maxZoom: 5})
	rec := proxyGet(p, "/tiles/1/0/0")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestProxyBadTilePath(t *testing.T) {
	upstream := rasterServer(t, encodePNG(t, whiteTile(64, 64)))
	p := newTestProxy(t, upstream.URL, &fakeArchive{maxZoom: 5})

	for _, path := range []string{
		"/tiles/abc/0/0",
		"/tiles/1/-1/0",
		"/tiles/99/0/0",
		"/tiles/1/0/xyz.png",
	} {
		if rec := proxyGet(p, path); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}
