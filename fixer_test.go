package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
)

func testStyle(suffix string, delFactor float64) *StyleConfig {
	return &StyleConfig{
		LineWidthStops: []WidthStop{{Zoom: 0, Width: 4}, {Zoom: 10, Width: 4}},
		LineStyles: []LineStyle{{
			Color:          "red",
			LayerSuffix:    suffix,
			WidthFraction:  1,
			Alpha:          1,
			StartZoom:      0,
			EndZoom:        math.Inf(1),
			DelWidthFactor: delFactor,
		}},
	}
}

func whiteTile(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// countColored 统计非白像素
func countColored(t *testing.T, data []byte) int {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r>>8 < 250 || g>>8 < 250 || bl>>8 < 250 {
				n++
			}
		}
	}
	return n
}

func lineFeature(extent float64, pts ...[2]float64) Feature {
	ring := make([]orb.Point, len(pts))
	for i, p := range pts {
		ring[i] = orb.Point{p[0], p[1]}
	}
	return Feature{Rings: [][]orb.Point{ring}, Extent: extent}
}

func TestEraseStraightLine(t *testing.T) {
	// 256x256 白底, 宽 4 黑色横线
	img := whiteTile(256, 256)
	for y := 126; y < 130; y++ {
		for x := 0; x < 256; x++ {
			img.Set(x, y, color.Black)
		}
	}
	raster := encodePNG(t, img)
	before := countColored(t, raster)
	if before == 0 {
		t.Fatal("fixture has no colored pixels")
	}

	corrections := CorrectionResult{
		"to-del-osm": []Feature{lineFeature(4096, [2]float64{0, 2048}, [2]float64{4096, 2048})},
	}

	fixed, err := NewTileFixer().FixTile(context.Background(), corrections, raster, testStyle("osm", 1), 5)
	if err != nil {
		t.Fatalf("fix tile: %v", err)
	}
	after := countColored(t, fixed)
	if after >= before/2 {
		t.Errorf("colored pixels %d -> %d, want >50%% reduction", before, after)
	}
}

func TestEraseSerpentine(t *testing.T) {
	// 用 gg 画一条宽 4 黑色蛇形线
	dc := gg.NewContext(256, 256)
	dc.ClearWithColor(gg.RGBA{R: 1, G: 1, B: 1, A: 1})
	dc.SetRGBA(0, 0, 0, 1)
	dc.SetLineWidth(4)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	var pts [][2]float64
	for x := 8.0; x <= 248; x += 8 {
		pts = append(pts, [2]float64{x, 128 + 64*math.Sin(x/24)})
	}
	dc.MoveTo(pts[0][0], pts[0][1])
	for _, p := range pts[1:] {
		dc.LineTo(p[0], p[1])
	}
	if err := dc.Stroke(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		t.Fatal(err)
	}
	raster := buf.Bytes()
	before := countColored(t, raster)

	// 同一条折线换算到 extent 坐标做删除要素
	extentPts := make([][2]float64, len(pts))
	for i, p := range pts {
		extentPts[i] = [2]float64{p[0] * 16, p[1] * 16}
	}
	corrections := CorrectionResult{
		"to-del-osm": []Feature{lineFeature(4096, extentPts...)},
	}

	fixed, err := NewTileFixer().FixTile(context.Background(), corrections, raster, testStyle("osm", 1.5), 5)
	if err != nil {
		t.Fatalf("fix tile: %v", err)
	}
	after := countColored(t, fixed)
	if float64(after) >= float64(before)*0.6 {
		t.Errorf("colored pixels %d -> %d, want >40%% reduction", before, after)
	}
}

func TestDeletionPrecedesAddition(t *testing.T) {
	raster := encodePNG(t, whiteTile(256, 256))

	diag := lineFeature(4096, [2]float64{0, 0}, [2]float64{4096, 4096})
	corrections := CorrectionResult{
		"to-del-osm": []Feature{diag},
		"to-add-osm": []Feature{diag},
	}

	fixed, err := NewTileFixer().FixTile(context.Background(), corrections, raster, testStyle("osm", 1.5), 5)
	if err != nil {
		t.Fatalf("fix tile: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(fixed))
	if err != nil {
		t.Fatal(err)
	}
	// 同时位于删除与添加路径上的像素必须是添加的描边色
	r, g, b, _ := img.At(128, 128).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Errorf("pixel on both paths = (%d,%d,%d), want addition red", r>>8, g>>8, b>>8)
	}
}

func TestFixTilePassThrough(t *testing.T) {
	raster := encodePNG(t, whiteTile(64, 64))

	// 无活跃样式
	style := testStyle("osm", 1)
	style.LineStyles[0].StartZoom = 10
	corrections := CorrectionResult{
		"to-del-osm": []Feature{lineFeature(4096, [2]float64{0, 0}, [2]float64{10, 10})},
	}
	out, err := NewTileFixer().FixTile(context.Background(), corrections, raster, style, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raster) {
		t.Error("no active styles must return raster unchanged")
	}

	// 有样式但无相关图层要素
	out, err = NewTileFixer().FixTile(context.Background(), CorrectionResult{
		"to-add-other": []Feature{lineFeature(4096, [2]float64{0, 0}, [2]float64{10, 10})},
	}, raster, testStyle("osm", 1), 5)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, raster) {
		t.Error("irrelevant layers must return raster unchanged")
	}
}

func TestFixTileCancelled(t *testing.T) {
	raster := encodePNG(t, whiteTile(64, 64))
	corrections := CorrectionResult{
		"to-del-osm": []Feature{lineFeature(4096, [2]float64{0, 2048}, [2]float64{4096, 2048})},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTileFixer().FixTile(ctx, corrections, raster, testStyle("osm", 1), 5)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled before decode", err)
	}
}

func TestFixTileKeepsJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, whiteTile(256, 256), nil); err != nil {
		t.Fatal(err)
	}
	corrections := CorrectionResult{
		"to-add-osm": []Feature{lineFeature(4096, [2]float64{0, 2048}, [2]float64{4096, 2048})},
	}
	fixed, err := NewTileFixer().FixTile(context.Background(), corrections, buf.Bytes(), testStyle("osm", 1), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(fixed) < 2 || fixed[0] != 0xff || fixed[1] != 0xd8 {
		t.Error("jpeg input must re-encode as jpeg")
	}
}

func TestExtendEndpoint(t *testing.T) {
	// 内部端点沿远离邻点方向延伸
	p := extendEndpoint(orb.Point{2048, 2048}, orb.Point{2048, 1024}, 100, 4096)
	if p != (orb.Point{2048, 2148}) {
		t.Errorf("extended = %v, want (2048, 2148)", p)
	}

	// 贴近瓦片边缘的端点不动 (1% extent = 40.96)
	edge := orb.Point{10, 2048}
	if got := extendEndpoint(edge, orb.Point{500, 2048}, 100, 4096); got != edge {
		t.Errorf("edge endpoint moved: %v", got)
	}
	top := orb.Point{2048, 4090}
	if got := extendEndpoint(top, orb.Point{2048, 2000}, 100, 4096); got != top {
		t.Errorf("edge endpoint moved: %v", got)
	}

	// 重合点无方向, 不动
	same := orb.Point{2048, 2048}
	if got := extendEndpoint(same, same, 100, 4096); got != same {
		t.Errorf("degenerate endpoint moved: %v", got)
	}
}

func TestExtendFeaturesCopies(t *testing.T) {
	f := lineFeature(4096, [2]float64{1024, 2048}, [2]float64{3072, 2048})
	out := extendFeatures([]Feature{f}, 8, 256)

	// 8px * 4096/256 = 128 extent 单位
	got := out[0].Rings[0]
	if got[0] != (orb.Point{896, 2048}) || got[1] != (orb.Point{3200, 2048}) {
		t.Errorf("extended ring = %v", got)
	}
	// 原要素不可变
	if f.Rings[0][0] != (orb.Point{1024, 2048}) {
		t.Error("extendFeatures mutated input")
	}
}

func TestHasRelevantFeatures(t *testing.T) {
	styles := []LineStyle{{LayerSuffix: "osm"}}
	if HasRelevantFeatures(CorrectionResult{}, styles) {
		t.Error("empty corrections should be irrelevant")
	}
	if HasRelevantFeatures(CorrectionResult{"to-add-ne": {lineFeature(4096)}}, styles) {
		t.Error("other suffix should be irrelevant")
	}
	if !HasRelevantFeatures(CorrectionResult{"to-del-osm": {lineFeature(4096)}}, styles) {
		t.Error("matching del layer should be relevant")
	}
}
