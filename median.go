package main

import (
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"
)

// eraseFeatures 用中值模糊擦除待删除线条, 保留周边纹理
// 仅修改掩膜内像素, 采样只取掩膜外像素, 原地执行是安全的
func (f *TileFixer) eraseFeatures(img *image.RGBA, feats []Feature, delWidth float64) error {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	if err := f.rasterizeMask(feats, delWidth, w, h); err != nil {
		return fmt.Errorf("rasterize deletion mask: %w", err)
	}

	radius := int(math.Max(2, math.Ceil(delWidth/2)+1))

	// 只在删除要素包围盒内工作
	x0, y0, x1, y1 := featureBounds(feats, w, h, radius)
	if x0 > x1 || y0 > y1 {
		return nil
	}

	pix := img.Pix
	stride := img.Stride
	target := 0
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if !f.mask[y*w+x] {
				continue
			}

			for c := 0; c < 3; c++ {
				for i := range f.hist[c] {
					f.hist[c][i] = 0
				}
			}
			count := 0

			ny0, ny1 := clampInt(y-radius, 0, h-1), clampInt(y+radius, 0, h-1)
			nx0, nx1 := clampInt(x-radius, 0, w-1), clampInt(x+radius, 0, w-1)
			for ny := ny0; ny <= ny1; ny++ {
				row := ny * w
				pr := ny * stride
				for nx := nx0; nx <= nx1; nx++ {
					if f.mask[row+nx] {
						continue
					}
					i := pr + nx*4
					f.hist[0][pix[i]]++
					f.hist[1][pix[i+1]]++
					f.hist[2][pix[i+2]]++
					count++
				}
			}

			// 样本不足时保持原像素
			if count < 3 {
				continue
			}
			target = count / 2
			i := y*stride + x*4
			pix[i] = histMedian(&f.hist[0], target)
			pix[i+1] = histMedian(&f.hist[1], target)
			pix[i+2] = histMedian(&f.hist[2], target)
			// alpha 不动
		}
	}
	return nil
}

// rasterizeMask 把删除要素按 delWidth 圆帽圆角描边成二值掩膜
// 描边失败时掩膜作废, 不能继续擦除
func (f *TileFixer) rasterizeMask(feats []Feature, delWidth float64, w, h int) error {
	if f.maskCtx == nil || f.maskCtx.Width() != w || f.maskCtx.Height() != h {
		f.maskCtx = gg.NewContext(w, h)
	} else {
		f.maskCtx.Clear()
		f.maskCtx.ClearPath()
	}
	mc := f.maskCtx
	mc.SetRGBA(1, 1, 1, 1)
	mc.SetLineWidth(delWidth)
	mc.SetLineCap(gg.LineCapRound)
	mc.SetLineJoin(gg.LineJoinRound)
	mc.ClearDash()

	for _, ft := range feats {
		sx := float64(w) / ft.Extent
		sy := float64(h) / ft.Extent
		for _, ring := range ft.Rings {
			if len(ring) < 2 {
				continue
			}
			mc.MoveTo(ring[0][0]*sx, ring[0][1]*sy)
			for _, p := range ring[1:] {
				mc.LineTo(p[0]*sx, p[1]*sy)
			}
		}
	}
	if err := mc.Stroke(); err != nil {
		return err
	}

	need := w * h
	if cap(f.mask) < need {
		f.mask = make([]bool, need)
	} else {
		f.mask = f.mask[:need]
	}

	mi := mc.Image().(*image.RGBA)
	for i := 0; i < need; i++ {
		f.mask[i] = mi.Pix[i*4+3] > 127
	}
	return nil
}

// featureBounds 要素像素包围盒, 外扩 pad 并裁剪到瓦片范围
func featureBounds(feats []Feature, w, h, pad int) (x0, y0, x1, y1 int) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, f := range feats {
		sx := float64(w) / f.Extent
		sy := float64(h) / f.Extent
		for _, ring := range f.Rings {
			for _, p := range ring {
				minX = math.Min(minX, p[0]*sx)
				minY = math.Min(minY, p[1]*sy)
				maxX = math.Max(maxX, p[0]*sx)
				maxY = math.Max(maxY, p[1]*sy)
			}
		}
	}
	if math.IsInf(minX, 1) {
		return 1, 1, 0, 0
	}
	x0 = clampInt(int(math.Floor(minX))-pad, 0, w-1)
	y0 = clampInt(int(math.Floor(minY))-pad, 0, h-1)
	x1 = clampInt(int(math.Ceil(maxX))+pad, 0, w-1)
	y1 = clampInt(int(math.Ceil(maxY))+pad, 0, h-1)
	return x0, y0, x1, y1
}

// histMedian 直方图桶排中值, target 为中位样本序号
func histMedian(hist *[256]int, target int) uint8 {
	cum := 0
	for v := 0; v < 256; v++ {
		cum += hist[v]
		if cum > target {
			return uint8(v)
		}
	}
	return 255
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
