package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// MBTilesArchive mbtiles(sqlite) 归档读取器
type MBTilesArchive struct {
	db *sql.DB
}

// OpenMBTiles 打开 mbtiles 文件
func OpenMBTiles(path string) (*MBTilesArchive, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, err
	}
	return &MBTilesArchive{db: db}, nil
}

// Header 从 metadata 表读取级别范围
func (a *MBTilesArchive) Header() (ArchiveHeader, error) {
	h := ArchiveHeader{MinZoom: ZoomMin, MaxZoom: ZoomMax}

	rows, err := a.db.Query(`SELECT name, value FROM metadata WHERE name IN ('minzoom', 'maxzoom')`)
	if err != nil {
		return h, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return h, err
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			return h, fmt.Errorf("bad %s metadata: %q", name, value)
		}
		switch name {
		case "minzoom":
			h.MinZoom = v
		case "maxzoom":
			h.MaxZoom = v
		}
	}
	return h, rows.Err()
}

// ReadTile 读取瓦片数据, mbtiles 采用 TMS 行序需要翻转 y
func (a *MBTilesArchive) ReadTile(ctx context.Context, z, x, y uint32) ([]byte, error) {
	tmsY := (uint32(1) << z) - 1 - y

	var data []byte
	err := a.db.QueryRowContext(ctx,
		`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		z, x, tmsY).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// pbf 瓦片通常以 gzip 存储
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return data, nil
}

// Close 关闭数据库
func (a *MBTilesArchive) Close() error {
	return a.db.Close()
}
