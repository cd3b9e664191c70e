package terrain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Метрики движка терраина. Регистрируются в дефолтном регистре один раз,
// чтобы несколько экземпляров stores (в том числе в тестах) не конфликтовали.
type engineMetrics struct {
	chunksWritten  prometheus.Counter
	chunksLoaded   prometheus.Counter
	chunkLoadFails prometheus.Counter
	transfersTotal prometheus.Counter
	dirtyMarked    prometheus.Counter
	editCacheRows  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metrics     *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		metrics = &engineMetrics{
			chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "terrain",
				Name:      "chunks_written_total",
				Help:      "Общее число записанных чанков.",
			}),
			chunksLoaded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "terrain",
				Name:      "chunks_loaded_total",
				Help:      "Общее число загруженных чанков.",
			}),
			chunkLoadFails: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "terrain",
				Name:      "chunk_load_failures_total",
				Help:      "Чанки, пропущенные из-за повреждённого или отсутствующего блоба.",
			}),
			transfersTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "terrain",
				Name:      "transfers_total",
				Help:      "Выполненные переносы моделей в чанки.",
			}),
			dirtyMarked: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "terrain",
				Name:      "dirty_marked_total",
				Help:      "Отметки чанков как устаревших (включая повторные).",
			}),
			editCacheRows: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "terrain",
				Name:      "edit_cache_rows",
				Help:      "Текущее количество незакоммиченных правок в edit-кеше.",
			}),
		}
		prometheus.MustRegister(
			metrics.chunksWritten,
			metrics.chunksLoaded,
			metrics.chunkLoadFails,
			metrics.transfersTotal,
			metrics.dirtyMarked,
			metrics.editCacheRows,
		)
	})
	return metrics
}
