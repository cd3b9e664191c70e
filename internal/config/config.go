package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации движка терраина.
type Config struct {
	Storage Storage     `yaml:"storage"`
	Redis   RedisConfig `yaml:"redis"`
	NATS    NATSConfig  `yaml:"nats"`
	Mongo   MongoConfig `yaml:"mongo"`
	Maria   MariaConfig `yaml:"maria"`
	Jobs    JobsConfig  `yaml:"jobs"`
	Worlds  WorldConfig `yaml:"worlds"`
	Metrics Metrics     `yaml:"metrics"`
}

type Storage struct {
	DataPath string `yaml:"data_path"` // каталог BadgerDB для блобов чанков
	Compress bool   `yaml:"compress"`  // gzip-сжатие полезной нагрузки чанков
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"` // префикс subject'ов уведомлений
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type MariaConfig struct {
	DSN string `yaml:"dsn"` // user:pass@tcp(host:port)/dbname
}

type JobsConfig struct {
	Workers      int `yaml:"workers"`
	PollInterval int `yaml:"poll_interval_ms"`
}

// WorldConfig задаёт размеры чанков: общий дефолт плюс переопределения
// для отдельных миров.
type WorldConfig struct {
	DefaultChunkSize int            `yaml:"default_chunk_size"`
	ChunkSizes       map[string]int `yaml:"chunk_sizes"` // worldID -> размер
}

type Metrics struct {
	Port int `yaml:"port"`
}

// ChunkSize возвращает размер чанка для мира с приоритетом:
// переопределение -> дефолт конфига -> 16.
func (w *WorldConfig) ChunkSize(worldID string) int {
	if size, ok := w.ChunkSizes[worldID]; ok && size > 0 {
		return size
	}
	if w.DefaultChunkSize > 0 {
		return w.DefaultChunkSize
	}
	return 16
}

// GetMetricsPort возвращает порт метрик с поддержкой fallback значений
func (m *Metrics) GetMetricsPort() int {
	return getPortWithEnvFallback(m.Port, "TERRAIN_METRICS_PORT", 2112)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV TERRAIN_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
