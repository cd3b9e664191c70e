package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/terrain-engine/internal/logging"
)

// SystemMonitor периодически снимает CPU и память процесса и
// публикует их в Prometheus.
type SystemMonitor struct {
	startTime time.Time
	interval  time.Duration
	quit      chan struct{}
	done      chan struct{}

	cpuPercent prometheus.Gauge
	memAllocMB prometheus.Gauge
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge
}

// NewSystemMonitor создаёт монитор с интервалом снятия метрик
func NewSystemMonitor(interval time.Duration) *SystemMonitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	sm := &SystemMonitor{
		startTime: time.Now(),
		interval:  interval,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Subsystem: "system",
			Name:      "cpu_percent",
			Help:      "Использование CPU процессом в процентах.",
		}),
		memAllocMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Subsystem: "system",
			Name:      "mem_alloc_mb",
			Help:      "Выделенная heap-память в мегабайтах.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Число горутин.",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Subsystem: "system",
			Name:      "uptime_seconds",
			Help:      "Время работы сервера в секундах.",
		}),
	}

	prometheus.MustRegister(sm.cpuPercent, sm.memAllocMB, sm.goroutines, sm.uptime)
	return sm
}

// Start запускает снятие метрик
func (sm *SystemMonitor) Start() {
	go sm.loop()
}

// Stop останавливает монитор
func (sm *SystemMonitor) Stop() {
	close(sm.quit)
	<-sm.done
}

func (sm *SystemMonitor) loop() {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()
	defer close(sm.done)

	for {
		select {
		case <-ticker.C:
			sm.collect()
		case <-sm.quit:
			return
		}
	}
}

func (sm *SystemMonitor) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	sm.memAllocMB.Set(float64(m.Alloc) / 1024 / 1024)
	sm.goroutines.Set(float64(runtime.NumGoroutine()))
	sm.uptime.Set(time.Since(sm.startTime).Seconds())

	pct, err := sm.processCPU()
	if err != nil {
		logging.Debug("Не удалось снять CPU-метрику: %v", err)
		return
	}
	sm.cpuPercent.Set(pct)
}

// processCPU возвращает использование CPU процессом; при сбое
// пробует системную метрику
func (sm *SystemMonitor) processCPU() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	pct, err := proc.CPUPercent()
	if err != nil {
		cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
		if err != nil || len(cpuPercents) == 0 {
			return 0, err
		}
		return cpuPercents[0], nil
	}
	return pct, nil
}
