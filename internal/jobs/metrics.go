package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически публикует распределение задач по
// статусам в Prometheus. Экспортер опирается только на CountByStatus,
// не залезая во внутренности очереди.
type MetricsExporter struct {
	queue *Queue
	quit  chan struct{}
	done  chan struct{}

	byStatus *prometheus.GaugeVec
}

// NewMetricsExporter создаёт экспортер, но не запускает обновление.
func NewMetricsExporter(queue *Queue) *MetricsExporter {
	me := &MetricsExporter{
		queue: queue,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		byStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terrain",
			Subsystem: "jobs",
			Name:      "by_status",
			Help:      "Количество задач в каждом статусе.",
		}, []string{"status"}),
	}

	prometheus.MustRegister(me.byStatus)
	return me
}

// Start запускает периодическое обновление метрик.
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop останавливает обновление метрик.
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(m.done)

	statuses := []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}

	for {
		select {
		case <-ticker.C:
			counts := m.queue.CountByStatus()
			for _, s := range statuses {
				m.byStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
			}
		case <-m.quit:
			return
		}
	}
}
