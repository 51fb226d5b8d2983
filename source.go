package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"
)

// DefaultFeatureBudget 缓存要素总量预算
const DefaultFeatureBudget = 25000

// cacheEntry 缓存项, lastUsed 为单调递增计数, seq 为插入序
type cacheEntry struct {
	data     CorrectionResult
	lastUsed uint64
	seq      uint64
	features int
}

// CorrectionSource 修正数据源: 归档读取 + 缓存 + 并发去重 + 超采样变换
type CorrectionSource struct {
	archive TileArchive
	budget  int

	mu       sync.Mutex
	cache    map[maptile.Tile]*cacheEntry
	features int
	ticks    uint64
	seq      uint64
	flight   *singleflight.Group

	zoomMu     sync.Mutex
	maxZoom    int
	zoomLoaded bool
}

// NewCorrectionSource 创建修正数据源, budget <= 0 时使用默认预算
func NewCorrectionSource(archive TileArchive, budget int) *CorrectionSource {
	if budget <= 0 {
		budget = DefaultFeatureBudget
	}
	return &CorrectionSource{
		archive: archive,
		budget:  budget,
		cache:   make(map[maptile.Tile]*cacheEntry),
		flight:  new(singleflight.Group),
	}
}

// maxDataZoom 惰性读取归档最大数据级别, 实例生命周期内只解析一次
func (s *CorrectionSource) maxDataZoom() (int, error) {
	s.zoomMu.Lock()
	defer s.zoomMu.Unlock()
	if s.zoomLoaded {
		return s.maxZoom, nil
	}
	h, err := s.archive.Header()
	if err != nil {
		// 读取失败不缓存, 下次调用重试
		return 0, err
	}
	s.maxZoom = h.MaxZoom
	s.zoomLoaded = true
	return s.maxZoom, nil
}

// Get 获取 (z,x,y) 的修正要素
// 超过归档最大级别时取父级瓦片做超采样变换, 变换后的坐标可能越界
func (s *CorrectionSource) Get(ctx context.Context, z, x, y uint32) (CorrectionResult, error) {
	maxZoom, err := s.maxDataZoom()
	if err != nil {
		return nil, &CorrectionFetchError{Tile: maptile.New(x, y, maptile.Zoom(z)), Err: err}
	}

	if int(z) <= maxZoom {
		return s.fetchTile(ctx, maptile.New(x, y, maptile.Zoom(z)))
	}

	// uint32 移位上限, 超出后 scale 归零
	delta := int(z) - maxZoom
	if delta >= 32 {
		return nil, &CorrectionFetchError{
			Tile: maptile.New(x, y, maptile.Zoom(z)),
			Err:  fmt.Errorf("overzoom delta %d out of range", delta),
		}
	}
	scale := uint32(1) << delta
	parent, err := s.fetchTile(ctx, maptile.New(x/scale, y/scale, maptile.Zoom(maxZoom)))
	if err != nil {
		return nil, err
	}
	return overzoomTransform(parent, x%scale, y%scale, scale), nil
}

// overzoomTransform 把父级瓦片要素变换到子象限坐标系
// extent 不变, 不属于该子象限的几何会落在 [0, extent] 之外
func overzoomTransform(parent CorrectionResult, offsetX, offsetY, scale uint32) CorrectionResult {
	res := make(CorrectionResult, len(parent))
	for name, feats := range parent {
		out := make([]Feature, 0, len(feats))
		for _, f := range feats {
			childExtent := f.Extent / float64(scale)
			startX := float64(offsetX) * childExtent
			startY := float64(offsetY) * childExtent

			rings := make([][]orb.Point, len(f.Rings))
			for i, ring := range f.Rings {
				nr := make([]orb.Point, len(ring))
				for j, p := range ring {
					nr[j] = orb.Point{
						(p[0] - startX) * float64(scale),
						(p[1] - startY) * float64(scale),
					}
				}
				rings[i] = nr
			}
			out = append(out, Feature{
				ID:         f.ID,
				Properties: f.Properties,
				Rings:      rings,
				Extent:     f.Extent,
			})
		}
		res[name] = out
	}
	return res
}

// fetchTile 缓存命中直接返回, 并发相同请求合并为一次归档读取
func (s *CorrectionSource) fetchTile(ctx context.Context, t maptile.Tile) (CorrectionResult, error) {
	s.mu.Lock()
	if e, ok := s.cache[t]; ok {
		s.ticks++
		e.lastUsed = s.ticks
		data := e.data
		s.mu.Unlock()
		return data, nil
	}
	flight := s.flight
	s.mu.Unlock()

	key := fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
	ch := flight.DoChan(key, func() (interface{}, error) {
		data, err := s.readAndDecode(ctx, t)
		if err != nil {
			// 失败不缓存, 瞬时错误可重试
			return nil, err
		}
		s.store(flight, t, data)
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &CorrectionFetchError{Tile: t, Err: r.Err}
		}
		return r.Val.(CorrectionResult), nil
	}
}

func (s *CorrectionSource) readAndDecode(ctx context.Context, t maptile.Tile) (CorrectionResult, error) {
	data, err := s.archive.ReadTile(ctx, uint32(t.Z), t.X, t.Y)
	if err != nil {
		return nil, err
	}
	if data == nil {
		// 空瓦片也缓存, 稀疏区域不必反复读归档
		return CorrectionResult{}, nil
	}
	return decodeCorrections(data)
}

// store 写入缓存并按要素预算淘汰最久未用项
func (s *CorrectionSource) store(flight *singleflight.Group, t maptile.Tile, data CorrectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// ClearCache 之后的旧请求不再入新缓存
	if s.flight != flight {
		return
	}

	n := data.FeatureCount()
	s.ticks++
	s.seq++
	s.cache[t] = &cacheEntry{
		data:     data,
		lastUsed: s.ticks,
		seq:      s.seq,
		features: n,
	}
	s.features += n

	for s.features > s.budget && len(s.cache) > 1 {
		var victim maptile.Tile
		var oldest *cacheEntry
		for k, e := range s.cache {
			if oldest == nil || e.lastUsed < oldest.lastUsed ||
				(e.lastUsed == oldest.lastUsed && e.seq < oldest.seq) {
				victim, oldest = k, e
			}
		}
		delete(s.cache, victim)
		s.features -= oldest.features
	}
}

// ClearCache 原子清空缓存与在途请求表
func (s *CorrectionSource) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[maptile.Tile]*cacheEntry)
	s.features = 0
	s.flight = new(singleflight.Group)
}

// CachedFeatures 当前缓存要素总数
func (s *CorrectionSource) CachedFeatures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// CachedTiles 当前缓存瓦片数
func (s *CorrectionSource) CachedTiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// Close 关闭底层归档
func (s *CorrectionSource) Close() error {
	return s.archive.Close()
}

// SourceRegistry 按归档路径共享数据源实例
// 显式对象由调用方持有, 不做进程级单例
type SourceRegistry struct {
	mu      sync.Mutex
	sources map[string]*CorrectionSource
	budget  int
}

// NewSourceRegistry 创建数据源注册表
func NewSourceRegistry(budget int) *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]*CorrectionSource),
		budget:  budget,
	}
}

// GetOrCreate 获取或创建指定归档的数据源
func (r *SourceRegistry) GetOrCreate(path string) (*CorrectionSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[path]; ok {
		return s, nil
	}
	archive, err := OpenArchive(path)
	if err != nil {
		return nil, err
	}
	s := NewCorrectionSource(archive, r.budget)
	r.sources[path] = s
	return s, nil
}

// Close 关闭全部数据源
func (r *SourceRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for path, s := range r.sources {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.sources, path)
	}
	return first
}
