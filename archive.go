package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// ArchiveHeader 瓦片归档头信息
type ArchiveHeader struct {
	MinZoom int
	MaxZoom int
}

// TileArchive 瓦片归档读取接口
// ReadTile 返回解压后的瓦片字节, 归档中不存在该瓦片时返回 (nil, nil)
type TileArchive interface {
	Header() (ArchiveHeader, error)
	ReadTile(ctx context.Context, z, x, y uint32) ([]byte, error)
	Close() error
}

// OpenArchive 按扩展名打开瓦片归档
func OpenArchive(path string) (TileArchive, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pmtiles":
		return OpenPMTiles(path)
	case ".mbtiles", ".db", ".sqlite":
		return OpenMBTiles(path)
	default:
		return nil, fmt.Errorf("unknown archive format: %s", path)
	}
}
