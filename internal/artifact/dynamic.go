package artifact

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hexmap/internal/cell"
	"hexmap/internal/logger"
	"hexmap/internal/metrics"
)

var ErrNotLoaded = errors.New("artifact: no map loaded")

// 文档注释：可热替换的产物句柄
// 背景：查询服务在不中断读路径的前提下切换到新构建的产物；读路径通过 atomic.Pointer 无锁获取当前 Map。
// 约束：被替换的旧 Map 等待在途查询结束后再关闭；Swap 之间串行执行。
type Dynamic struct {
	cur atomic.Pointer[handle]
	mu  sync.Mutex
	gen atomic.Int64
}

type handle struct {
	m  *Map
	wg sync.WaitGroup
}

// Lookup：在当前产物上查询；未加载时返回 ErrNotLoaded
func (d *Dynamic) Lookup(c cell.Cell) (Hit, bool, error) {
	h := d.acquire()
	if h == nil {
		return Hit{}, false, ErrNotLoaded
	}
	defer h.wg.Done()
	return h.m.Lookup(c)
}

func (d *Dynamic) acquire() *handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.cur.Load()
	if h != nil {
		h.wg.Add(1)
	}
	return h
}

// Current：当前产物（仅用于读取元信息，不保证在返回后仍未被关闭）
func (d *Dynamic) Current() *Map {
	if h := d.cur.Load(); h != nil {
		return h.m
	}
	return nil
}

// Set：切换为新产物，旧产物在途查询结束后关闭
func (d *Dynamic) Set(m *Map) {
	d.mu.Lock()
	old := d.cur.Swap(&handle{m: m})
	d.gen.Add(1)
	d.mu.Unlock()
	if old != nil {
		go func() {
			old.wg.Wait()
			if err := old.m.Close(); err != nil {
				logger.L().Warn("artifact_close_error", "path", old.m.Path(), "err", err)
			}
		}()
	}
}

// 文档注释：从路径重新加载
// 背景：新产物完整打开且校验通过后才替换；失败时保留当前产物继续服务。
func (d *Dynamic) Reload(path string, opts Options) error {
	m, err := Open(path, opts)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("fail").Inc()
		logger.L().Error("artifact_reload_error", "path", path, "err", err)
		return err
	}
	d.Set(m)
	metrics.ReloadsTotal.WithLabelValues("ok").Inc()
	logger.L().Info("artifact_reloaded", "path", path, "bytes", m.Size(), "labels", len(m.lut))
	return nil
}

// Generation：每次切换产物加一，供上层缓存区分新旧结果
func (d *Dynamic) Generation() int64 { return d.gen.Load() }

type fileStamp struct {
	size int64
	mod  time.Time
}

func stampOf(path string) (fileStamp, bool) {
	st, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{size: st.Size(), mod: st.ModTime()}, true
}

// 文档注释：轮询产物文件并在变化时重新加载
// 背景：构建命令以重命名方式原子替换产物，大小或修改时间变化即视为新版本；加载失败保留当前产物，下次轮询重试。
// 约束：阻塞直到 ctx 取消；every<=0 时立即返回。
func (d *Dynamic) Watch(ctx context.Context, path string, opts Options, every time.Duration) {
	if every <= 0 {
		return
	}
	last, _ := stampOf(path)
	t := time.NewTicker(every)
	defer t.Stop()
	logger.L().Info("artifact_watch_begin", "path", path, "interval_ms", every.Milliseconds())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			d.reloadIfChanged(path, opts, &last)
		}
	}
}

func (d *Dynamic) reloadIfChanged(path string, opts Options, last *fileStamp) bool {
	cur, ok := stampOf(path)
	if !ok || (cur.size == last.size && cur.mod.Equal(last.mod)) {
		return false
	}
	if err := d.Reload(path, opts); err != nil {
		return false
	}
	*last = cur
	return true
}

// Close：关闭当前产物
func (d *Dynamic) Close() error {
	d.mu.Lock()
	h := d.cur.Swap(nil)
	d.mu.Unlock()
	if h == nil {
		return nil
	}
	h.wg.Wait()
	return h.m.Close()
}
