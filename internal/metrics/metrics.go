package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildSourcesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_build_sources_total",
		Help: "Total number of sources assembled into artifacts",
	}, []string{"mode"})
	BuildCellsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_build_cells_inserted_total",
		Help: "Total number of normalized cells inserted into spatial maps",
	}, []string{"mode"})
	BuildDurationSec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hexmap_build_duration_seconds",
		Help:    "Artifact build duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"mode"})
	BuildFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_build_fail_total",
		Help: "Total number of failed builds",
	}, []string{"mode"})
	PipelineFeaturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexmap_pipeline_features_total",
		Help: "Total number of features rasterized by the worker pool",
	})
	LookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_lookups_total",
		Help: "Total number of cell lookups by result",
	}, []string{"result"})
	LookupDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hexmap_lookup_duration_ms",
		Help:    "Lookup duration in milliseconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 50, 100},
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_cache_hits_total",
		Help: "Total lookup cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hexmap_cache_misses_total",
		Help: "Total redis lookup cache misses",
	})
	ReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hexmap_reloads_total",
		Help: "Artifact reloads by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(BuildSourcesTotal)
	prometheus.MustRegister(BuildCellsTotal)
	prometheus.MustRegister(BuildDurationSec)
	prometheus.MustRegister(BuildFailTotal)
	prometheus.MustRegister(PipelineFeaturesTotal)
	prometheus.MustRegister(LookupsTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(ReloadsTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：查询服务挂载到 {API_BASE}/metrics；构建命令只累加计数，不暴露端口。
func Handler() http.Handler { return promhttp.Handler() }
