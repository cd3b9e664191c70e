package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/terrain-engine/internal/config"
	"github.com/annel0/terrain-engine/internal/jobs"
	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/notify"
	"github.com/annel0/terrain-engine/internal/observability"
	"github.com/annel0/terrain-engine/internal/storage"
	"github.com/annel0/terrain-engine/internal/terrain"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🌍 Запуск Terrain Engine Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.Storage.DataPath == "" {
		cfg.Storage.DataPath = "data"
	}

	metricsAddr := ":" + strconv.Itoa(cfg.Metrics.GetMetricsPort())
	logging.Info("📡 Конфигурация: data=%s, metrics=%s", cfg.Storage.DataPath, metricsAddr)

	// === ТЕЛЕМЕТРИЯ ===
	ctx := context.Background()
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "terrain-engine")
	if err != nil {
		logging.Warn("Телеметрия недоступна: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ХРАНИЛИЩА ===
	logging.Debug("Открытие BadgerDB...")
	badgerStore, err := storage.NewBadgerStore(cfg.Storage.DataPath)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища чанков: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища чанков: %v", err)
	}
	defer badgerStore.Close()

	chunks := terrain.NewChunkStore(badgerStore.Blobs(), badgerStore.Chunks(), cfg.Storage.Compress)

	// Репозиторий слоёв: MariaDB при наличии DSN, иначе in-memory
	var layerRepo terrain.LayerRepo
	if cfg.Maria.DSN != "" {
		mariaRepo, err := storage.NewMariaLayerRepo(cfg.Maria.DSN)
		if err != nil {
			logging.Error("❌ Ошибка подключения к MariaDB: %v", err)
			log.Fatalf("❌ Ошибка подключения к MariaDB: %v", err)
		}
		defer mariaRepo.Close()
		layerRepo = mariaRepo
		logging.Info("✅ Слои хранятся в MariaDB")
	} else {
		layerRepo = terrain.NewMemoryLayerRepo()
		logging.Warn("MariaDB не настроена, слои хранятся в памяти")
	}

	// Репозиторий flat-террейнов: MongoDB при наличии URI, иначе in-memory
	var flatRepo terrain.FlatRepo
	if cfg.Mongo.URI != "" {
		mongoRepo, err := storage.NewMongoFlatRepo(storage.MongoFlatConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			logging.Error("❌ Ошибка подключения к MongoDB: %v", err)
			log.Fatalf("❌ Ошибка подключения к MongoDB: %v", err)
		}
		defer mongoRepo.Close()
		flatRepo = mongoRepo
		logging.Info("✅ Flat-террейны хранятся в MongoDB")
	} else {
		flatRepo = terrain.NewMemoryFlatRepo()
		logging.Warn("MongoDB не настроена, flat-террейны хранятся в памяти")
	}
	flats := terrain.NewFlatStore(flatRepo)

	// Edit-кеш: Redis при наличии адреса, иначе in-memory
	var editCache terrain.EditCacheRepo
	if cfg.Redis.Addr != "" {
		redisCache, err := storage.NewRedisEditCache(&storage.RedisEditCacheConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: "terrain:edit:",
		})
		if err != nil {
			logging.Error("❌ Ошибка подключения к Redis: %v", err)
			log.Fatalf("❌ Ошибка подключения к Redis: %v", err)
		}
		defer redisCache.Close()
		editCache = redisCache
		logging.Info("✅ Правки сессий хранятся в Redis")
	} else {
		editCache = terrain.NewMemoryEditCache()
		logging.Warn("Redis не настроен, правки сессий хранятся в памяти")
	}

	// === УВЕДОМЛЕНИЯ ===
	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.NATS.URL != "" {
		natsNotifier, err := notify.NewNATSNotifier(&notify.NotifierConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		}, "server")
		if err != nil {
			logging.Warn("NATS недоступен, уведомления отключены: %v", err)
		} else {
			defer natsNotifier.Close()
			notifier = natsNotifier
			logging.Info("✅ Уведомления через NATS (%s)", cfg.NATS.URL)
		}
	}

	// === ДВИЖОК ===
	dirty := terrain.NewDirtyChunkTracker(notifier)
	compositor := terrain.NewCompositor(chunks, dirty, &cfg.Worlds)

	// Аудит задач в MariaDB, если настроена
	var archive jobs.JobArchive
	if cfg.Maria.DSN != "" {
		mariaArchive, err := storage.NewMariaJobArchive(cfg.Maria.DSN)
		if err != nil {
			logging.Warn("Аудит задач недоступен: %v", err)
		} else {
			defer mariaArchive.Close()
			archive = mariaArchive
		}
	}
	queue := jobs.NewQueue(archive)

	registry := terrain.NewLayerRegistry(layerRepo, flats, chunks, compositor, dirty, queue, &cfg.Worlds)
	sessions := terrain.NewEditSessionManager(editCache, layerRepo, chunks, dirty, notifier, &cfg.Worlds)
	_ = sessions // сессии отдаются наружу транспортом поверх движка

	// === ФОНОВЫЕ ЗАДАЧИ ===
	executors := jobs.NewExecutorRegistry()
	registerExecutors(executors, registry, layerRepo, chunks, flats, dirty, &cfg.Worlds)

	pollInterval := time.Duration(cfg.Jobs.PollInterval) * time.Millisecond
	pool := jobs.NewWorkerPool(queue, executors, cfg.Jobs.Workers, pollInterval)
	pool.Start()

	// === МЕТРИКИ ===
	jobMetrics := jobs.NewMetricsExporter(queue)
	jobMetrics.Start()

	monitor := observability.NewSystemMonitor(10 * time.Second)
	monitor.Start()

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()

	logging.Info("✅ Все сервисы запущены")

	// Ждём сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	pool.Stop()
	jobMetrics.Stop()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Error("Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}
