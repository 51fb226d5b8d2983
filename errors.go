package main

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// TileFetchError 栅格瓦片获取失败, 无法降级 (没有底图就无图可返)
type TileFetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TileFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch tile %s: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch tile %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *TileFetchError) Unwrap() error {
	return e.Err
}

// CorrectionFetchError 修正数据读取或解码失败, 可降级为返回原始瓦片
type CorrectionFetchError struct {
	Tile maptile.Tile
	Err  error
}

func (e *CorrectionFetchError) Error() string {
	return fmt.Sprintf("corrections %d/%d/%d: %s", e.Tile.Z, e.Tile.X, e.Tile.Y, e.Err)
}

func (e *CorrectionFetchError) Unwrap() error {
	return e.Err
}
