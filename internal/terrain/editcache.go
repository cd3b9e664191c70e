package terrain

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/terrain-engine/internal/vec"
)

// EditEntry — отложенная правка одного блока
type EditEntry struct {
	Def       BlockDef  `json:"def"`
	Group     int       `json:"group"`
	Metadata  string    `json:"metadata,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EditCacheRepo — staging-хранилище незакоммиченных правок.
// Область действия — (worldID, layerDataID): все сессии, редактирующие
// один слой, разделяют один кеш. Правила last-write-wins по координате.
type EditCacheRepo interface {
	// Put записывает или перезаписывает правку блока.
	Put(ctx context.Context, worldID, layerDataID string, pos vec.Vec3, entry EditEntry) error

	// Count возвращает число закешированных правок слоя.
	Count(ctx context.Context, worldID, layerDataID string) (int, error)

	// List возвращает все правки слоя по координатам.
	List(ctx context.Context, worldID, layerDataID string) (map[vec.Vec3]EditEntry, error)

	// Clear удаляет все правки слоя; возвращает число удалённых.
	Clear(ctx context.Context, worldID, layerDataID string) (int, error)
}

// MemoryEditCache — in-memory реализация edit-кеша
type MemoryEditCache struct {
	mu      sync.RWMutex
	entries map[string]map[vec.Vec3]EditEntry // worldID+"/"+layerDataID -> правки
}

// NewMemoryEditCache создаёт пустой edit-кеш
func NewMemoryEditCache() *MemoryEditCache {
	return &MemoryEditCache{entries: make(map[string]map[vec.Vec3]EditEntry)}
}

func editScope(worldID, layerDataID string) string { return worldID + "/" + layerDataID }

func (c *MemoryEditCache) Put(ctx context.Context, worldID, layerDataID string, pos vec.Vec3, entry EditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := editScope(worldID, layerDataID)
	if c.entries[scope] == nil {
		c.entries[scope] = make(map[vec.Vec3]EditEntry)
	}
	if _, exists := c.entries[scope][pos]; !exists {
		getMetrics().editCacheRows.Inc()
	}
	c.entries[scope][pos] = entry
	return nil
}

func (c *MemoryEditCache) Count(ctx context.Context, worldID, layerDataID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries[editScope(worldID, layerDataID)]), nil
}

func (c *MemoryEditCache) List(ctx context.Context, worldID, layerDataID string) (map[vec.Vec3]EditEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[vec.Vec3]EditEntry)
	for pos, entry := range c.entries[editScope(worldID, layerDataID)] {
		out[pos] = entry
	}
	return out, nil
}

func (c *MemoryEditCache) Clear(ctx context.Context, worldID, layerDataID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	scope := editScope(worldID, layerDataID)
	n := len(c.entries[scope])
	delete(c.entries, scope)
	getMetrics().editCacheRows.Sub(float64(n))
	return n, nil
}
