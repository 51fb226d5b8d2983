package main

import (
	"context"
	"io"
	"net/http"

	"github.com/paulmach/orb/maptile"
)

// FixResult 取图+修正流水线结果
type FixResult struct {
	Data              []byte
	WasFixed          bool
	CorrectionsFailed bool
	CorrectionsError  error
}

// FetchAndFixTile 并行获取栅格瓦片与修正数据, 然后执行修正
// 栅格获取失败必定上抛; 修正失败默认降级为返回原始瓦片
func FetchAndFixTile(ctx context.Context, client *http.Client, url string, t maptile.Tile,
	source *CorrectionSource, fixer *TileFixer, style *StyleConfig, fallback bool) (*FixResult, error) {

	if style == nil || source == nil {
		data, err := fetchRasterTile(ctx, client, url)
		if err != nil {
			return nil, err
		}
		return &FixResult{Data: data}, nil
	}

	// 两路并行, 各自独立结算, 任一失败不打断另一路
	var (
		raster      []byte
		rasterErr   error
		corrections CorrectionResult
		corrErr     error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		corrections, corrErr = source.Get(ctx, uint32(t.Z), t.X, t.Y)
	}()
	raster, rasterErr = fetchRasterTile(ctx, client, url)
	<-done

	if rasterErr != nil {
		return nil, rasterErr
	}
	// 绘制前确认调用方还在等
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if corrErr != nil {
		// 合并读取以首个调用方的 ctx 驱动, 他人取消会以 context.Canceled
		// 波及仍在等待的调用方; 只有自身 ctx 已取消才按取消处理
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !fallback {
			return nil, corrErr
		}
		return &FixResult{Data: raster, CorrectionsFailed: true, CorrectionsError: corrErr}, nil
	}

	active := style.ActiveStylesAt(float64(t.Z))
	if !HasRelevantFeatures(corrections, active) {
		return &FixResult{Data: raster}, nil
	}

	fixed, err := fixer.FixTile(ctx, corrections, raster, style, float64(t.Z))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !fallback {
			return nil, err
		}
		return &FixResult{Data: raster, CorrectionsFailed: true, CorrectionsError: err}, nil
	}
	return &FixResult{Data: fixed, WasFixed: true}, nil
}

// fetchRasterTile 获取栅格瓦片字节
func fetchRasterTile(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TileFetchError{URL: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TileFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TileFetchError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TileFetchError{URL: url, Err: err}
	}
	if len(body) == 0 {
		return nil, &TileFetchError{URL: url, StatusCode: resp.StatusCode, Body: "empty tile"}
	}
	return body, nil
}
