package main

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
)

// decodeCorrections 解码矢量瓦片为修正要素集
// 坐标保持瓦片局部坐标系 [0, extent]
func decodeCorrections(data []byte) (CorrectionResult, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, err
	}

	res := make(CorrectionResult, len(layers))
	for _, layer := range layers {
		extent := float64(layer.Extent)
		if extent == 0 {
			extent = DefaultExtent
		}
		feats := make([]Feature, 0, len(layer.Features))
		for _, gf := range layer.Features {
			rings := geometryRings(gf.Geometry)
			if len(rings) == 0 {
				continue
			}
			feats = append(feats, Feature{
				ID:         gf.ID,
				Properties: gf.Properties,
				Rings:      rings,
				Extent:     extent,
			})
		}
		res[layer.Name] = feats
	}
	return res, nil
}

// geometryRings 边界修正数据只包含线要素, 其余类型忽略
func geometryRings(g orb.Geometry) [][]orb.Point {
	switch geom := g.(type) {
	case orb.LineString:
		return [][]orb.Point{geom}
	case orb.MultiLineString:
		rings := make([][]orb.Point, 0, len(geom))
		for _, ls := range geom {
			rings = append(rings, ls)
		}
		return rings
	default:
		return nil
	}
}
