package build

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/paulmach/orb/geojson"

	"hexmap/internal/cell"
	"hexmap/internal/cellset"
	"hexmap/internal/logger"
	"hexmap/internal/metrics"
	"hexmap/internal/source"
)

// Result：单个要素的栅格化结果（单元已规整）
type Result struct {
	Index int
	Name  string
	Value string
	Cells []cell.Cell
}

type outcome struct {
	r   Result
	err error
}

// 要素转来源；测试中替换以注入故障
var featureSource = source.FeatureSource

// 文档注释：并行栅格化流水线
// 背景：生产者按序号分发要素，固定数量的 worker 完成「栅格化 → 规整 → 属性序列化」，结果经通道回到调用方 goroutine；
// 乱序到达的结果先缓存，严格按序号依次交给 emit，保证标签、查找表与重叠归属与调度无关。
// 约束：emit 只在调用方 goroutine 中执行，是空间映射的唯一写入者；返回前所有 goroutine 均已退出。
// 异常：首个 worker 错误（含 panic，包装为 ErrWorkerPanic）或 emit 错误使剩余工作被放弃并原样返回。
func Rasterize(features []*geojson.Feature, res, workers int, emit func(Result) error) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(features) {
		workers = len(features)
	}
	if workers == 0 {
		return nil
	}
	jobs := make(chan int)
	results := make(chan outcome, workers)
	done := make(chan struct{})

	go func() {
		defer close(jobs)
		for i := range features {
			select {
			case jobs <- i:
			case <-done:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r, err := rasterizeOne(i, features[i], res)
				select {
				case results <- outcome{r: r, err: err}:
				case <-done:
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]Result)
	next := 0
	var firstErr error
	abort := func(err error) {
		firstErr = err
		close(done)
		logger.L().Warn("pipeline_abort", "next", next, "err", err)
	}
	for o := range results {
		if firstErr != nil {
			continue
		}
		if o.err != nil {
			abort(o.err)
			continue
		}
		pending[o.r.Index] = o.r
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := emit(r); err != nil {
				abort(err)
				break
			}
			next++
		}
	}
	return firstErr
}

func rasterizeOne(i int, f *geojson.Feature, res int) (r Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("feature %d: %w: %v", i, ErrWorkerPanic, p)
		}
	}()
	src, err := featureSource(i, f, res)
	if err != nil {
		return Result{}, err
	}
	cells, err := cellset.Normalize(src.Cells)
	if err != nil {
		return Result{}, fmt.Errorf("feature %d: %w", i, err)
	}
	metrics.PipelineFeaturesTotal.Inc()
	return Result{Index: i, Name: src.Name, Value: src.Value, Cells: cells}, nil
}
