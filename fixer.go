package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"

	_ "golang.org/x/image/webp" // webp 解码注册, 上游瓦片偶见 webp
)

// TileFixer 栅格修正引擎: 先擦除错误边界, 再按样式重绘正确边界
// 持有可复用的工作缓冲, 单个实例不能同时处理两张瓦片
type TileFixer struct {
	mask    []bool
	hist    [3][256]int
	maskCtx *gg.Context
}

// NewTileFixer 创建修正引擎
func NewTileFixer() *TileFixer {
	return &TileFixer{}
}

// FixTile 对一张栅格瓦片执行擦除+重绘
// 硬性顺序约束: 某一 suffix 的全部擦除完成后才允许任何绘制
func (f *TileFixer) FixTile(ctx context.Context, corrections CorrectionResult, raster []byte, style *StyleConfig, zoom float64) ([]byte, error) {
	active := style.ActiveStylesAt(zoom)
	if len(active) == 0 {
		// 多数瓦片没有可用修正, 原样返回
		return raster, nil
	}
	if !HasRelevantFeatures(corrections, active) {
		return raster, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := decodeRaster(raster)
	if err != nil {
		return nil, fmt.Errorf("decode raster tile: %w", err)
	}
	// 瓦片尺寸以解码结果为准, 不做假设
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	base := ResolveLineWidth(zoom, style.LineWidthStops, style.minWidth())

	// 按 suffix 分组取最大擦除宽度, 保持首次出现顺序
	var suffixOrder []string
	delFractions := make(map[string]float64)
	for _, st := range active {
		if _, ok := delFractions[st.LayerSuffix]; !ok {
			suffixOrder = append(suffixOrder, st.LayerSuffix)
			delFractions[st.LayerSuffix] = 0
		}
		if v := st.WidthFraction * st.DelWidthFactor; v > delFractions[st.LayerSuffix] {
			delFractions[st.LayerSuffix] = v
		}
	}

	// 第一阶段: 擦除
	hasDel := make(map[string]bool)
	for _, suffix := range suffixOrder {
		delWidth := base * delFractions[suffix]
		feats := corrections[LayerDelPrefix+suffix]
		if len(feats) == 0 || delWidth <= 0 {
			continue
		}
		if err := f.eraseFeatures(img, feats, delWidth); err != nil {
			return nil, err
		}
		hasDel[suffix] = true
	}

	// CPU 密集绘制前再次检查取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 第二阶段: 按样式声明序绘制, 后画的覆盖先画的
	var dc *gg.Context
	for _, st := range active {
		feats := corrections[LayerAddPrefix+st.LayerSuffix]
		if len(feats) == 0 {
			continue
		}
		if st.LineExtensionFactor > 0 && hasDel[st.LayerSuffix] {
			extPx := base * delFractions[st.LayerSuffix] * st.LineExtensionFactor
			feats = extendFeatures(feats, extPx, float64(w))
		}
		if dc == nil {
			dc = gg.NewContextForImage(img)
		}
		if err := strokeFeatures(dc, feats, st, base*st.WidthFraction, w, h); err != nil {
			return nil, err
		}
	}
	if dc != nil {
		img = dc.Image().(*image.RGBA)
	}

	return encodeRaster(img, format)
}

// HasRelevantFeatures 判断修正数据里是否存在任一活跃样式相关的图层要素
func HasRelevantFeatures(corrections CorrectionResult, styles []LineStyle) bool {
	for _, st := range styles {
		if len(corrections[LayerAddPrefix+st.LayerSuffix]) > 0 ||
			len(corrections[LayerDelPrefix+st.LayerSuffix]) > 0 {
			return true
		}
	}
	return false
}

// decodeRaster 解码栅格瓦片, 返回像素与原始格式名
func decodeRaster(data []byte) (*image.RGBA, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, format, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, format, nil
}

// encodeRaster 按原始格式回编码
// webp 上游仅支持解码, 回退为 png
func encodeRaster(img *image.RGBA, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode raster tile: %w", err)
	}
	return buf.Bytes(), nil
}

// extendFeatures 延伸线段端点, 避免重绘线与被擦除原线在瓦片内部出现缺口
// 贴近瓦片边缘 (1% extent 以内) 的端点由相邻瓦片补全, 不延伸
func extendFeatures(feats []Feature, extPx, tilePx float64) []Feature {
	out := make([]Feature, len(feats))
	for i, f := range feats {
		length := extPx * f.Extent / tilePx
		rings := make([][]orb.Point, len(f.Rings))
		for j, ring := range f.Rings {
			nr := make([]orb.Point, len(ring))
			copy(nr, ring)
			if len(nr) >= 2 {
				nr[0] = extendEndpoint(nr[0], nr[1], length, f.Extent)
				last := len(nr) - 1
				nr[last] = extendEndpoint(nr[last], nr[last-1], length, f.Extent)
			}
			rings[j] = nr
		}
		out[i] = Feature{
			ID:         f.ID,
			Properties: f.Properties,
			Rings:      rings,
			Extent:     f.Extent,
		}
	}
	return out
}

func extendEndpoint(p, neighbor orb.Point, length, extent float64) orb.Point {
	edge := extent * 0.01
	if p[0] <= edge || p[0] >= extent-edge || p[1] <= edge || p[1] >= extent-edge {
		return p
	}
	dx := p[0] - neighbor[0]
	dy := p[1] - neighbor[1]
	d := math.Hypot(dx, dy)
	if d == 0 {
		return p
	}
	return orb.Point{p[0] + dx/d*length, p[1] + dy/d*length}
}

// strokeFeatures 把要素按样式描边到画布
func strokeFeatures(dc *gg.Context, feats []Feature, st LineStyle, width float64, w, h int) error {
	r, g, b, a, err := ParseColor(st.Color)
	if err != nil {
		return fmt.Errorf("style %q: %w", st.LayerSuffix, err)
	}
	alpha := st.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}

	dc.SetRGBA(r, g, b, a*alpha)
	dc.SetLineWidth(width)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)
	if len(st.DashArray) > 0 {
		dc.SetDash(st.DashArray...)
	} else {
		dc.ClearDash()
	}

	for _, f := range feats {
		sx := float64(w) / f.Extent
		sy := float64(h) / f.Extent
		for _, ring := range f.Rings {
			if len(ring) < 2 {
				continue
			}
			dc.MoveTo(ring[0][0]*sx, ring[0][1]*sy)
			for _, p := range ring[1:] {
				dc.LineTo(p[0]*sx, p[1]*sy)
			}
		}
	}
	return dc.Stroke()
}
