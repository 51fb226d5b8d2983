package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultMinLineWidth 线宽下限, 外推结果不允许为零或负
const DefaultMinLineWidth = 0.5

// LineStyle 单次描边样式
type LineStyle struct {
	Color               string
	LayerSuffix         string
	WidthFraction       float64
	DashArray           []float64
	Alpha               float64
	StartZoom           float64
	EndZoom             float64
	LineExtensionFactor float64
	DelWidthFactor      float64
}

// WidthStop 级别 -> 基准线宽控制点
type WidthStop struct {
	Zoom  float64
	Width float64
}

// StyleConfig 修正绘制样式配置
// LineStyles 按声明序生效, 后绘制的样式覆盖先绘制的
type StyleConfig struct {
	LineWidthStops []WidthStop
	LineStyles     []LineStyle
	MinLineWidth   float64
}

// ActiveStylesAt 返回 zoom ∈ [StartZoom, EndZoom] 的样式子集, 保持声明序
func (c *StyleConfig) ActiveStylesAt(zoom float64) []LineStyle {
	var active []LineStyle
	for _, s := range c.LineStyles {
		if zoom >= s.StartZoom && zoom <= s.EndZoom {
			active = append(active, s)
		}
	}
	return active
}

// minWidth 配置为零时取默认下限
func (c *StyleConfig) minWidth() float64 {
	if c.MinLineWidth > 0 {
		return c.MinLineWidth
	}
	return DefaultMinLineWidth
}

// ResolveLineWidth 控制点内插值, 范围外按最近一对控制点斜率外推
// 外推结果不低于 minWidth
func ResolveLineWidth(zoom float64, stops []WidthStop, minWidth float64) float64 {
	if len(stops) == 0 {
		return minWidth
	}

	sorted := make([]WidthStop, len(stops))
	copy(sorted, stops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Zoom < sorted[j].Zoom })

	if len(sorted) == 1 {
		return max(sorted[0].Width, minWidth)
	}

	var a, b WidthStop
	switch {
	case zoom <= sorted[0].Zoom:
		a, b = sorted[0], sorted[1]
	case zoom >= sorted[len(sorted)-1].Zoom:
		a, b = sorted[len(sorted)-2], sorted[len(sorted)-1]
	default:
		for i := 0; i < len(sorted)-1; i++ {
			if zoom >= sorted[i].Zoom && zoom <= sorted[i+1].Zoom {
				a, b = sorted[i], sorted[i+1]
				break
			}
		}
	}

	t := (zoom - a.Zoom) / (b.Zoom - a.Zoom)
	w := a.Width + t*(b.Width-a.Width)
	return max(w, minWidth)
}

var (
	rgbRe  = regexp.MustCompile(`^rgb\s*\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	rgbaRe = regexp.MustCompile(`^rgba\s*\(\s*(\d+)\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*([0-9.]+)\s*\)$`)
)

// 常用命名颜色
var namedColors = map[string][3]float64{
	"red":    {1, 0, 0},
	"green":  {0, 128.0 / 255, 0},
	"blue":   {0, 0, 1},
	"black":  {0, 0, 0},
	"white":  {1, 1, 1},
	"gray":   {128.0 / 255, 128.0 / 255, 128.0 / 255},
	"grey":   {128.0 / 255, 128.0 / 255, 128.0 / 255},
	"orange": {1, 165.0 / 255, 0},
	"yellow": {1, 1, 0},
}

// ParseColor 解析 CSS 颜色, 支持 #rgb/#rrggbb, rgb(), rgba() 与常用颜色名
// 返回 [0,1] 归一分量
func ParseColor(s string) (r, g, b, a float64, err error) {
	s = strings.TrimSpace(strings.ToLower(s))
	a = 1

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) != 6 {
			return 0, 0, 0, 0, fmt.Errorf("bad hex color: %q", s)
		}
		v, perr := strconv.ParseUint(hex, 16, 32)
		if perr != nil {
			return 0, 0, 0, 0, fmt.Errorf("bad hex color: %q", s)
		}
		return float64(v>>16&0xff) / 255, float64(v>>8&0xff) / 255, float64(v&0xff) / 255, 1, nil
	}

	if m := rgbRe.FindStringSubmatch(s); m != nil {
		r, _ := strconv.Atoi(m[1])
		g, _ := strconv.Atoi(m[2])
		b, _ := strconv.Atoi(m[3])
		return float64(r) / 255, float64(g) / 255, float64(b) / 255, 1, nil
	}

	if m := rgbaRe.FindStringSubmatch(s); m != nil {
		r, _ := strconv.Atoi(m[1])
		g, _ := strconv.Atoi(m[2])
		b, _ := strconv.Atoi(m[3])
		a, aerr := strconv.ParseFloat(m[4], 64)
		if aerr != nil || a < 0 || a > 1 {
			return 0, 0, 0, 0, fmt.Errorf("bad alpha in color: %q", s)
		}
		return float64(r) / 255, float64(g) / 255, float64(b) / 255, a, nil
	}

	if c, ok := namedColors[s]; ok {
		return c[0], c[1], c[2], 1, nil
	}
	return 0, 0, 0, 0, fmt.Errorf("unknown color: %q", s)
}
