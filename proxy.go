package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb/maptile"
)

// TileProxy 本地瓦片代理
// 拉取上游瓦片, 套用边界修正后返回; 修正失败时降级返回原始瓦片
type TileProxy struct {
	tm     TileMap
	source *CorrectionSource
	style  *StyleConfig
	client *http.Client
	server *http.Server
	fixers sync.Pool
}

// NewTileProxy 创建代理服务
func NewTileProxy(listen string, tm TileMap, source *CorrectionSource, style *StyleConfig) *TileProxy {
	p := &TileProxy{
		tm:     tm,
		source: source,
		style:  style,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	p.fixers.New = func() interface{} { return NewTileFixer() }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", p.handleTile)
	p.server = &http.Server{Addr: listen, Handler: mux}
	return p
}

func (p *TileProxy) handleTile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	tile, ok := parseTilePath(r)
	if !ok {
		http.Error(w, "bad tile path", http.StatusBadRequest)
		return
	}

	url := p.tm.GetTileURL(tile)

	// 修正引擎实例不可并发复用, 每个请求从池里取
	fixer := p.fixers.Get().(*TileFixer)
	defer p.fixers.Put(fixer)

	res, err := FetchAndFixTile(r.Context(), p.client, url, tile, p.source, fixer, p.style, true)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Errorf("proxy tile(z:%d, x:%d, y:%d) error ~ %s", tile.Z, tile.X, tile.Y, err)
		http.Error(w, "failed to fetch tile", http.StatusBadGateway)
		return
	}
	if res.CorrectionsFailed {
		log.Warnf("corrections failed for tile(z:%d, x:%d, y:%d), serving original ~ %s",
			tile.Z, tile.X, tile.Y, res.CorrectionsError)
	}

	// 修正后可能换了编码 (webp 回退 png), 以实际字节为准
	w.Header().Set("Content-Type", http.DetectContentType(res.Data))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(res.Data)

	log.Debugf("tile(z:%d, x:%d, y:%d), fixed: %v, %dms, %.2f kb ...",
		tile.Z, tile.X, tile.Y, res.WasFixed, time.Since(start).Milliseconds(), float32(len(res.Data))/1024.0)
}

// parseTilePath 解析 /tiles/{z}/{x}/{y} 路径, y 允许带扩展名
func parseTilePath(r *http.Request) (maptile.Tile, bool) {
	ys := r.PathValue("y")
	if i := strings.IndexByte(ys, '.'); i >= 0 {
		ys = ys[:i]
	}
	z, err1 := strconv.Atoi(r.PathValue("z"))
	x, err2 := strconv.Atoi(r.PathValue("x"))
	y, err3 := strconv.Atoi(ys)
	if err1 != nil || err2 != nil || err3 != nil ||
		z < ZoomMin || z > ZoomMax+8 || x < 0 || y < 0 {
		return maptile.Tile{}, false
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), true
}

// Serve 启动监听, 阻塞到服务关闭
func (p *TileProxy) Serve() error {
	log.Infof("tile proxy listening on %s", p.server.Addr)
	err := p.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (p *TileProxy) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.server.Shutdown(ctx)
	log.Infof("tile proxy stopped")
}

// InitProxy 初始化并运行代理服务
func InitProxy() {
	registry := NewSourceRegistry(conf.Source.FeatureBudget)
	source, err := registry.GetOrCreate(conf.Source.Archive)
	if err != nil {
		log.Fatalf("open correction archive %s error ~ %s", conf.Source.Archive, err)
	}

	tm := TileMap{
		Name:       conf.Tm.Name,
		Min:        conf.Tm.Min,
		Max:        conf.Tm.Max,
		Format:     conf.Tm.Format,
		URL:        conf.Tm.URL,
		Subdomains: conf.Tm.Subdomains,
	}

	proxy := NewTileProxy(conf.Proxy.Listen, tm, source, conf.StyleConfig())
	SafeExitInst.Register(proxy.Shutdown)
	SafeExitInst.Register(func() { registry.Close() })

	if err := proxy.Serve(); err != nil {
		log.Fatalf("tile proxy error ~ %s", err)
	}
	registry.Close()
}
