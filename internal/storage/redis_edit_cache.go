package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/terrain-engine/internal/terrain"
	"github.com/annel0/terrain-engine/internal/vec"
)

// RedisEditCacheConfig содержит настройки подключения edit-кеша к Redis
type RedisEditCacheConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни незавершённых правок (0 — без TTL)
}

// DefaultRedisEditCacheConfig возвращает конфигурацию по умолчанию
func DefaultRedisEditCacheConfig() *RedisEditCacheConfig {
	return &RedisEditCacheConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "terrain:edit:",
		TTL:       0,
	}
}

// RedisEditCache реализует terrain.EditCacheRepo поверх Redis.
// Каждая правка — отдельный ключ "<prefix><world>:<layerData>:<x>:<y>:<z>";
// правки сессий одного слоя переживают рестарт процесса.
type RedisEditCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisEditCache создаёт edit-кеш поверх Redis
func NewRedisEditCache(cfg *RedisEditCacheConfig) (*RedisEditCache, error) {
	if cfg == nil {
		cfg = DefaultRedisEditCacheConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к Redis: %w", err)
	}

	return &RedisEditCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

func (r *RedisEditCache) key(worldID, layerDataID string, pos vec.Vec3) string {
	return fmt.Sprintf("%s%s:%s:%d:%d:%d", r.keyPrefix, worldID, layerDataID, pos.X, pos.Y, pos.Z)
}

func (r *RedisEditCache) scopePattern(worldID, layerDataID string) string {
	return fmt.Sprintf("%s%s:%s:*", r.keyPrefix, worldID, layerDataID)
}

// Put записывает или перезаписывает правку блока
func (r *RedisEditCache) Put(ctx context.Context, worldID, layerDataID string, pos vec.Vec3, entry terrain.EditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ошибка сериализации правки: %w", err)
	}
	if err := r.client.Set(ctx, r.key(worldID, layerDataID, pos), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("ошибка записи правки в Redis: %w", err)
	}
	return nil
}

// Count возвращает число закешированных правок слоя
func (r *RedisEditCache) Count(ctx context.Context, worldID, layerDataID string) (int, error) {
	keys, err := r.scanKeys(ctx, worldID, layerDataID)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// List возвращает все правки слоя по координатам
func (r *RedisEditCache) List(ctx context.Context, worldID, layerDataID string) (map[vec.Vec3]terrain.EditEntry, error) {
	keys, err := r.scanKeys(ctx, worldID, layerDataID)
	if err != nil {
		return nil, err
	}

	out := make(map[vec.Vec3]terrain.EditEntry, len(keys))
	for _, k := range keys {
		pos, ok := r.parsePos(k)
		if !ok {
			continue
		}

		data, err := r.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			// Ключ истёк между SCAN и GET
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения правки из Redis: %w", err)
		}

		var entry terrain.EditEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("ошибка десериализации правки %s: %w", k, err)
		}
		out[pos] = entry
	}
	return out, nil
}

// Clear удаляет все правки слоя; возвращает число удалённых
func (r *RedisEditCache) Clear(ctx context.Context, worldID, layerDataID string) (int, error) {
	keys, err := r.scanKeys(ctx, worldID, layerDataID)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("ошибка удаления правок из Redis: %w", err)
	}
	return int(deleted), nil
}

// Close разрывает соединение с Redis
func (r *RedisEditCache) Close() error {
	return r.client.Close()
}

func (r *RedisEditCache) scanKeys(ctx context.Context, worldID, layerDataID string) ([]string, error) {
	pattern := r.scopePattern(worldID, layerDataID)
	var keys []string
	var cursor uint64

	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка SCAN в Redis: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// parsePos извлекает координаты из хвоста ключа "...:<x>:<y>:<z>"
func (r *RedisEditCache) parsePos(key string) (vec.Vec3, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return vec.Vec3{}, false
	}
	tail := parts[len(parts)-3:]

	x, err1 := strconv.Atoi(tail[0])
	y, err2 := strconv.Atoi(tail[1])
	z, err3 := strconv.Atoi(tail[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return vec.Vec3{}, false
	}
	return vec.Vec3{X: x, Y: y, Z: z}, true
}
