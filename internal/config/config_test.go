package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestChunkSizePrecedence(t *testing.T) {
	w := WorldConfig{
		DefaultChunkSize: 32,
		ChunkSizes:       map[string]int{"world-1": 64, "broken": 0},
	}

	if got := w.ChunkSize("world-1"); got != 64 {
		t.Errorf("переопределение мира: ожидали 64, получили %d", got)
	}
	if got := w.ChunkSize("world-2"); got != 32 {
		t.Errorf("дефолт конфига: ожидали 32, получили %d", got)
	}
	// Нулевое переопределение игнорируется
	if got := w.ChunkSize("broken"); got != 32 {
		t.Errorf("нулевое переопределение: ожидали 32, получили %d", got)
	}

	empty := WorldConfig{}
	if got := empty.ChunkSize("любой"); got != 16 {
		t.Errorf("встроенный дефолт: ожидали 16, получили %d", got)
	}
}

func TestGetMetricsPort(t *testing.T) {
	m := Metrics{Port: 9100}
	if got := m.GetMetricsPort(); got != 9100 {
		t.Errorf("порт из конфига: ожидали 9100, получили %d", got)
	}

	m = Metrics{}
	os.Setenv("TERRAIN_METRICS_PORT", "9200")
	defer os.Unsetenv("TERRAIN_METRICS_PORT")
	if got := m.GetMetricsPort(); got != 9200 {
		t.Errorf("порт из ENV: ожидали 9200, получили %d", got)
	}

	os.Setenv("TERRAIN_METRICS_PORT", "мусор")
	if got := m.GetMetricsPort(); got != 2112 {
		t.Errorf("дефолтный порт: ожидали 2112, получили %d", got)
	}
}

func TestLoadMissingPath(t *testing.T) {
	os.Unsetenv("TERRAIN_CONFIG")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("пустой путь не должен быть ошибкой: %v", err)
	}
	if cfg != nil {
		t.Errorf("без конфига ожидали nil, получили %+v", cfg)
	}

	if _, err := Load("/нет/такого/файла.yml"); err == nil {
		t.Error("отсутствующий файл должен вернуть ошибку")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := []byte(`
storage:
  data_path: /var/lib/terrain
  compress: true
worlds:
  default_chunk_size: 32
  chunk_sizes:
    hub: 8
metrics:
  port: 9100
maria:
  dsn: "user:pass@tcp(localhost:3306)/terrain"
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("ошибка загрузки: %v", err)
	}
	if cfg.Storage.DataPath != "/var/lib/terrain" {
		t.Errorf("data_path: получили %q", cfg.Storage.DataPath)
	}
	if !cfg.Storage.Compress {
		t.Error("compress должен быть true")
	}
	if got := cfg.Worlds.ChunkSize("hub"); got != 8 {
		t.Errorf("chunk size hub: ожидали 8, получили %d", got)
	}
	if got := cfg.Worlds.ChunkSize("другой"); got != 32 {
		t.Errorf("chunk size дефолт: ожидали 32, получили %d", got)
	}
	if cfg.Metrics.GetMetricsPort() != 9100 {
		t.Errorf("порт метрик: получили %d", cfg.Metrics.GetMetricsPort())
	}
	if cfg.Maria.DSN == "" {
		t.Error("maria dsn не должен быть пуст")
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("{не yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("битый YAML должен вернуть ошибку")
	}
}
