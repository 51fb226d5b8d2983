package main

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// TileMap 上游瓦片地图
type TileMap struct {
	Name       string
	Min        int
	Max        int
	Format     string
	URL        string
	Subdomains []string
}

// GetTileURL 获取瓦片URL
// {s} 子域按瓦片坐标轮转, 避免单域名限流
func (m *TileMap) GetTileURL(t maptile.Tile) string {
	url := strings.Replace(m.URL, "{x}", strconv.Itoa(int(t.X)), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(int(t.Y)), -1)
	url = strings.Replace(url, "{z}", strconv.Itoa(int(t.Z)), -1)
	if len(m.Subdomains) > 0 {
		s := m.Subdomains[int(t.X+t.Y)%len(m.Subdomains)]
		url = strings.Replace(url, "{s}", s, -1)
	}
	return url
}
