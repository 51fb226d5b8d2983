package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"
)

func InitTask() {
	start := time.Now()

	tm := TileMap{
		Name:       conf.Tm.Name,
		Min:        conf.Tm.Min,
		Max:        conf.Tm.Max,
		Format:     conf.Tm.Format,
		URL:        conf.Tm.URL,
		Subdomains: conf.Tm.Subdomains,
	}
	var layers []Layer
	for _, lrs := range conf.Lrs {
		for z := lrs.Min; z <= lrs.Max; z++ {
			c := loadCollection(lrs.Geojson)
			layer := Layer{
				URL:        conf.Tm.URL,
				Zoom:       z,
				Collection: c,
			}
			layers = append(layers, layer)
		}
	}

	registry := NewSourceRegistry(conf.Source.FeatureBudget)
	source, err := registry.GetOrCreate(conf.Source.Archive)
	if err != nil {
		log.Fatalf("open correction archive %s error ~ %s", conf.Source.Archive, err)
	}

	task := NewTask(layers, tm, source, conf.StyleConfig())
	// 注册安全退出
	SafeExitInst.Register(task.AbortFun)
	SafeExitInst.Register(func() { registry.Close() })

	// 开始批量修正
	task.Run()
	registry.Close()

	secs := time.Since(start).Seconds()
	log.Printf("\n%.3fs finished, %d tiles fixed...", secs, task.Fixed)
}

// Task 批量修正任务: 覆盖区域内逐瓦片取图+修正+落盘
type Task struct {
	ID           string
	Name         string
	File         string
	Layers       []Layer
	TileMap      TileMap
	Source       *CorrectionSource
	Style        *StyleConfig
	Total        int64
	Fixed        int64
	Bar          *pb.ProgressBar
	client       *http.Client
	workerCount  int
	timeDelay    int
	bufSize      int
	tileWG       sync.WaitGroup
	abort        chan struct{}
	abortOnce    sync.Once
	workers      chan struct{}
	fixers       sync.Pool
}

// NewTask 创建批量修正任务
func NewTask(layers []Layer, m TileMap, source *CorrectionSource, style *StyleConfig) *Task {
	if len(layers) == 0 {
		return nil
	}
	id, _ := shortid.Generate()

	task := Task{
		ID:      id,
		Name:    m.Name,
		Layers:  layers,
		TileMap: m,
		Source:  source,
		Style:   style,
		client:  &http.Client{Timeout: 30 * time.Second},
	}

	for i := 0; i < len(layers); i++ {
		if layers[i].URL == "" {
			layers[i].URL = m.URL
		}
		set, err := tilecover.Collection(layers[i].Collection, maptile.Zoom(layers[i].Zoom))
		if err != nil {
			log.Fatalf("cover zoom %d error ~ %s", layers[i].Zoom, err)
		}
		layers[i].Tiles = set
		layers[i].Count = int64(len(set))
		log.Printf("zoom: %d, tiles: %d \n", layers[i].Zoom, layers[i].Count)
		task.Total += layers[i].Count
	}

	task.workerCount = conf.Task.Workers
	task.timeDelay = conf.Task.Timedelay
	task.bufSize = conf.Task.BufSize

	task.abort = make(chan struct{})
	task.workers = make(chan struct{}, task.workerCount)
	task.fixers.New = func() interface{} { return NewTileFixer() }

	return &task
}

func (task *Task) SetupFile() error {
	if task.File == "" {
		outdir := conf.Output.Directory
		os.MkdirAll(outdir, os.ModePerm)
		task.File = outdir
	}
	return nil
}

// AbortFun 结束任务
func (task *Task) AbortFun() {
	task.abortOnce.Do(func() { close(task.abort) })
}

// Run 开启批量修正
func (task *Task) Run() {
	task.SetupFile()
	for _, layer := range task.Layers {
		task.fixLayer(layer)
	}
}

// tileFixer 单瓦片修正器
func (task *Task) tileFixer(ctx context.Context, mt maptile.Tile) {
	start := time.Now()
	// workers完成并清退
	defer func() {
		task.tileWG.Done()
		<-task.workers
	}()

	url := task.TileMap.GetTileURL(mt)
	fixer := task.fixers.Get().(*TileFixer)
	defer task.fixers.Put(fixer)

	res, err := FetchAndFixTile(ctx, task.client, url, mt, task.Source, fixer, task.Style, true)
	if err != nil {
		log.Debugf("fetch :%s error, details: %s ~", url, err)
		return
	}
	if res.CorrectionsFailed {
		log.Debugf("corrections failed %v, saved original ~ %s", mt, res.CorrectionsError)
	}
	if res.WasFixed {
		atomic.AddInt64(&task.Fixed, 1)
	}

	td := Tile{T: mt, C: res.Data}
	if err := saveToFiles(td, task.File, task.TileMap.Format); err != nil {
		log.Errorf("create %v tile file error ~ %s", mt, err)
		return
	}
	BreakPointInst.SetSuccessed(mt)

	cost := time.Since(start).Milliseconds()
	log.Debugf("tile(z:%d, x:%d, y:%d), fixed: %v, %dms , %.2f kb, %s ...\n",
		mt.Z, mt.X, mt.Y, res.WasFixed, cost, float32(len(res.Data))/1024.0, url)
}

// fixLayer 修正指定层级
func (task *Task) fixLayer(layer Layer) {
	log.Infof("Task layer zoom %d starting", layer.Zoom)
	bar := pb.New64(layer.Count).Prefix(fmt.Sprintf("Zoom %d : ", layer.Zoom)).Postfix("\n")
	bar.SetRefreshRate(time.Second)
	bar.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-task.abort
		cancel()
	}()

	var tilelist = make(chan maptile.Tile, task.bufSize)

	go func() {
		defer close(tilelist)
		for tile := range layer.Tiles {
			select {
			case tilelist <- tile:
			case <-task.abort:
				return
			}
		}
	}()

	for tile := range tilelist {
		// 如果已经在成功列表里
		if BreakPointInst.IsSuccessed(tile) {
			bar.Increment()
			continue
		}
		select {
		// 向队列发送数据
		case task.workers <- struct{}{}:
			bar.Increment()
			// 设置请求发送间隔时间
			time.Sleep(time.Duration(task.timeDelay) * time.Millisecond)
			task.tileWG.Add(1)
			go task.tileFixer(ctx, tile)
		case <-task.abort:
			log.Infof("Task %s got canceled.", task.Name)
			task.tileWG.Wait()
			return
		}
	}
	// 等待该层结束
	task.tileWG.Wait()
	bar.FinishPrint(fmt.Sprintf("Task %s Zoom %d finished ~", task.ID, layer.Zoom))
}
