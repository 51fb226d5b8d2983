package main

import (
	"github.com/paulmach/orb"

	"github.com/paulmach/orb/maptile"
)

// DefaultExtent 矢量瓦片默认坐标范围
const DefaultExtent = 4096

// ZoomMin 最小级别
const ZoomMin = 0

// ZoomMax 最大级别
const ZoomMax = 20

// Tile 自定义瓦片存储
type Tile struct {
	T maptile.Tile
	C []byte
}

// Layer 级别&瓦片数
type Layer struct {
	URL        string
	Zoom       int
	Count      int64
	Collection orb.Collection
	Tiles      maptile.Set
}

// Feature 单条修正要素, 坐标位于 [0, Extent] 瓦片局部坐标系
// 超采样变换后的要素可能越界, 由绘制阶段裁剪
type Feature struct {
	ID         interface{}
	Properties map[string]interface{}
	Rings      [][]orb.Point
	Extent     float64
}

// CorrectionResult 图层名 -> 修正要素列表
// 图层命名约定: to-add-<suffix> 为待绘制, to-del-<suffix> 为待擦除
type CorrectionResult map[string][]Feature

// FeatureCount 所有图层要素总数
func (c CorrectionResult) FeatureCount() int {
	n := 0
	for _, fs := range c {
		n += len(fs)
	}
	return n
}

// 修正图层名前缀
const (
	LayerAddPrefix = "to-add-"
	LayerDelPrefix = "to-del-"
)
