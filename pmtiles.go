package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// PMTiles v3 固定头长度
const pmtilesHeaderSize = 127

var pmtilesMagic = []byte("PMTiles")

// PMTiles 压缩方式编码
const (
	pmtilesCompressionNone = 1
	pmtilesCompressionGzip = 2
)

type pmtilesHeader struct {
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafOffset          uint64
	LeafLength          uint64
	DataOffset          uint64
	DataLength          uint64
	InternalCompression byte
	TileCompression     byte
	TileType            byte
	MinZoom             byte
	MaxZoom             byte
}

// pmtilesEntry 目录项, RunLength 为 0 时指向下级叶子目录
type pmtilesEntry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// PMTilesArchive PMTiles v3 本地归档读取器
type PMTilesArchive struct {
	f      *os.File
	header pmtilesHeader
	root   []pmtilesEntry
}

// OpenPMTiles 打开本地 pmtiles 文件并解析头与根目录
func OpenPMTiles(path string) (*PMTilesArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	a := &PMTilesArchive{f: f}
	if err := a.readHeader(); err != nil {
		f.Close()
		return nil, err
	}

	rootRaw, err := a.readChunk(a.header.RootOffset, a.header.RootLength, a.header.InternalCompression)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read root directory: %w", err)
	}
	a.root, err = deserializeDirectory(rootRaw)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse root directory: %w", err)
	}
	return a, nil
}

func (a *PMTilesArchive) readHeader() error {
	buf := make([]byte, pmtilesHeaderSize)
	if _, err := a.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(buf[:7], pmtilesMagic) {
		return fmt.Errorf("not a pmtiles file")
	}
	if buf[7] != 3 {
		return fmt.Errorf("unsupported pmtiles version: %d", buf[7])
	}

	le := binary.LittleEndian
	a.header = pmtilesHeader{
		RootOffset:          le.Uint64(buf[8:16]),
		RootLength:          le.Uint64(buf[16:24]),
		MetadataOffset:      le.Uint64(buf[24:32]),
		MetadataLength:      le.Uint64(buf[32:40]),
		LeafOffset:          le.Uint64(buf[40:48]),
		LeafLength:          le.Uint64(buf[48:56]),
		DataOffset:          le.Uint64(buf[56:64]),
		DataLength:          le.Uint64(buf[64:72]),
		InternalCompression: buf[97],
		TileCompression:     buf[98],
		TileType:            buf[99],
		MinZoom:             buf[100],
		MaxZoom:             buf[101],
	}
	return nil
}

// Header 归档元信息
func (a *PMTilesArchive) Header() (ArchiveHeader, error) {
	return ArchiveHeader{
		MinZoom: int(a.header.MinZoom),
		MaxZoom: int(a.header.MaxZoom),
	}, nil
}

// ReadTile 查找并读取瓦片, 目录最多递归 3 层叶子目录
func (a *PMTilesArchive) ReadTile(ctx context.Context, z, x, y uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int(z) < int(a.header.MinZoom) || int(z) > int(a.header.MaxZoom) {
		return nil, nil
	}

	id := zxyToTileID(z, x, y)
	dir := a.root
	for depth := 0; depth < 4; depth++ {
		e, ok := findTileEntry(dir, id)
		if !ok {
			return nil, nil
		}
		if e.RunLength > 0 {
			return a.readChunk(a.header.DataOffset+e.Offset, uint64(e.Length), a.header.TileCompression)
		}
		leafRaw, err := a.readChunk(a.header.LeafOffset+e.Offset, uint64(e.Length), a.header.InternalCompression)
		if err != nil {
			return nil, fmt.Errorf("read leaf directory: %w", err)
		}
		dir, err = deserializeDirectory(leafRaw)
		if err != nil {
			return nil, fmt.Errorf("parse leaf directory: %w", err)
		}
	}
	return nil, fmt.Errorf("pmtiles directory depth exceeded")
}

// Close 关闭归档文件
func (a *PMTilesArchive) Close() error {
	return a.f.Close()
}

func (a *PMTilesArchive) readChunk(offset, length uint64, compression byte) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := a.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	switch compression {
	case pmtilesCompressionNone:
		return buf, nil
	case pmtilesCompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("unsupported pmtiles compression: %d", compression)
	}
}

// deserializeDirectory 解析 varint 编码目录
// 布局: 条目数, tileID 增量序列, runLength 序列, length 序列, offset 序列
func deserializeDirectory(data []byte) ([]pmtilesEntry, error) {
	r := &varintReader{buf: data}
	n := r.read()
	if r.err != nil {
		return nil, r.err
	}
	entries := make([]pmtilesEntry, n)

	lastID := uint64(0)
	for i := range entries {
		lastID += r.read()
		entries[i].TileID = lastID
	}
	for i := range entries {
		entries[i].RunLength = uint32(r.read())
	}
	for i := range entries {
		entries[i].Length = uint32(r.read())
	}
	for i := range entries {
		v := r.read()
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return entries, nil
}

type varintReader struct {
	buf []byte
	pos int
	err error
}

func (r *varintReader) read() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.err = fmt.Errorf("truncated directory varint")
		return 0
	}
	r.pos += n
	return v
}

// findTileEntry 在有序目录中查找覆盖 id 的条目
func findTileEntry(entries []pmtilesEntry, id uint64) (pmtilesEntry, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].TileID > id
	}) - 1
	if i < 0 {
		return pmtilesEntry{}, false
	}
	e := entries[i]
	if e.RunLength == 0 {
		// 叶子目录指针
		return e, true
	}
	if id-e.TileID < uint64(e.RunLength) {
		return e, true
	}
	return pmtilesEntry{}, false
}

// zxyToTileID 瓦片坐标转 PMTiles 全局 ID
// 同层内按希尔伯特曲线排序, 加上之前各层的瓦片总数
func zxyToTileID(z, x, y uint32) uint64 {
	var acc uint64
	for t := uint32(0); t < z; t++ {
		acc += 1 << (2 * t)
	}

	tx, ty := uint64(x), uint64(y)
	var d uint64
	for s := (uint64(1) << z) / 2; s > 0; s /= 2 {
		var rx, ry uint64
		if tx&s > 0 {
			rx = 1
		}
		if ty&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		// 象限旋转
		if ry == 0 {
			if rx == 1 {
				tx = s - 1 - tx
				ty = s - 1 - ty
			}
			tx, ty = ty, tx
		}
	}
	return acc + d
}
