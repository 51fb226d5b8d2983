package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
)

var BreakPointInst *BreakPoint

func InitBreakPoint() {
	dir := conf.BreakPoint.SaveFilePath
	if dir == "" {
		dir = "breakpoint"
	}
	os.MkdirAll(dir, os.ModePerm)
	path := filepath.Join(dir, fmt.Sprintf("%s.log", conf.Tm.Name))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, os.ModePerm)
	if err != nil {
		fmt.Println(err)
		panic("break point file open is error")
	}

	// 获取断点记录
	successMap := loadBreakPoint(file)

	saveChan := make(chan maptile.Tile, conf.Task.Workers)
	BreakPointInst = &BreakPoint{
		file,
		saveChan,
		successMap,
		false,
	}

	SafeExitInst.Register(BreakPointInst.BreakPointSafeFun)

	// 开始断点任务
	go BreakPointInst.Start()
}

// 读取历史断点记录
func loadBreakPoint(file *os.File) map[string]struct{} {
	res := make(map[string]struct{})

	br := bufio.NewReader(file)
	for {
		line, isPrefix, err := br.ReadLine()
		if isPrefix {
			continue
		}
		if err == io.EOF {
			break
		}
		res[string(line)] = struct{}{}
	}
	return res
}

// BreakPoint 已完成瓦片记录, 任务中断后可续传
type BreakPoint struct {
	file       *os.File
	saveChan   chan maptile.Tile
	successMap map[string]struct{}
	isClose    bool
}

func tileKey(tile maptile.Tile) string {
	return fmt.Sprintf("%d-%d-%d", tile.X, tile.Y, tile.Z)
}

func (b *BreakPoint) IsSuccessed(tile maptile.Tile) bool {
	_, ok := b.successMap[tileKey(tile)]
	return ok
}

func (b *BreakPoint) SetSuccessed(tile maptile.Tile) {
	if b.isClose {
		return
	}
	b.saveChan <- tile
}

func (b *BreakPoint) Start() {
	log.Infof("断点记录任务已开始")
	for tile := range b.saveChan {
		b.file.WriteString(tileKey(tile) + "\n")
	}
}

func (b *BreakPoint) BreakPointSafeFun() {
	b.isClose = true
	b.file.Close()
	log.Infof("断点记录任务已安全退出")
}
