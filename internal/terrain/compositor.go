package terrain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/vec"
)

// Compositor материализует MODEL-слои в чанки: проецирует блоки моделей
// (поворот + точка монтирования) в абсолютные координаты и записывает
// полные чанки через ChunkStore.
//
// Перенос — всегда полный пересчёт от исходных моделей, никогда не
// инкрементальное дописывание: повторный запуск при неизменных входах
// даёт байт-идентичные полезные нагрузки чанков.
//
// Переносы одного layerDataID сериализуются поключевой таблицей
// блокировок; переносы разных слоёв идут параллельно.
type Compositor struct {
	chunks    *ChunkStore
	dirty     *DirtyChunkTracker
	chunkSize ChunkSizeProvider

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewCompositor создаёт композитор
func NewCompositor(chunks *ChunkStore, dirty *DirtyChunkTracker, chunkSize ChunkSizeProvider) *Compositor {
	return &Compositor{
		chunks:    chunks,
		dirty:     dirty,
		chunkSize: chunkSize,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor возвращает мьютекс layerDataID, создавая его при необходимости
func (c *Compositor) lockFor(layerDataID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	if mu, ok := c.locks[layerDataID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	c.locks[layerDataID] = mu
	return mu
}

// MaterializeBlock проецирует блок модели в абсолютные мировые координаты:
// сначала поворот вокруг локального центра, затем сдвиг на точку монтирования.
func MaterializeBlock(model *LayerModel, b LayerBlock) LayerBlock {
	abs := b
	abs.Pos = b.Pos.RotateY(model.Rotation).Add(model.Mount)
	return abs
}

// Transfer полностью пересчитывает чанки слоя из набора его моделей.
// Модели компонуются по возрастанию Order: при совпадении координат
// побеждает блок модели, скомпонованной позже. Затронутые чанки
// (записанные и опустевшие) помечаются dirty.
func (c *Compositor) Transfer(ctx context.Context, worldID, layerDataID string, models []*LayerModel) error {
	mu := c.lockFor(layerDataID)
	mu.Lock()
	defer mu.Unlock()

	tracer := otel.Tracer("terrain.compositor")
	ctx, span := tracer.Start(ctx, "compositor.transfer")
	span.SetAttributes(
		attribute.String("world_id", worldID),
		attribute.String("layer_data_id", layerDataID),
		attribute.Int("models", len(models)),
	)
	defer span.End()

	chunkSize := c.chunkSize.ChunkSize(worldID)

	// Стабильный порядок компоновки: Order, затем ID для детерминизма
	ordered := make([]*LayerModel, len(models))
	copy(ordered, models)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].ID < ordered[j].ID
	})

	// chunkKey -> абсолютная координата -> блок; поздняя модель перекрывает
	merged := make(map[string]map[vec.Vec3]LayerBlock)
	for _, model := range ordered {
		for _, b := range model.Content {
			abs := MaterializeBlock(model, b)
			key := ChunkKeyForPos(abs.Pos, chunkSize)
			if merged[key] == nil {
				merged[key] = make(map[vec.Vec3]LayerBlock)
			}
			merged[key][abs.Pos] = abs
		}
	}

	previous, err := c.chunks.Keys(layerDataID)
	if err != nil {
		return fmt.Errorf("ошибка перечисления чанков слоя %s: %w", layerDataID, err)
	}

	touched := make([]string, 0, len(merged))
	for key, blocks := range merged {
		list := make([]LayerBlock, 0, len(blocks))
		for _, b := range blocks {
			list = append(list, b)
		}
		if err := c.chunks.Put(layerDataID, key, list); err != nil {
			return fmt.Errorf("ошибка записи чанка %s/%s: %w", layerDataID, key, err)
		}
		touched = append(touched, key)
	}

	// Чанки, которые модели больше не затрагивают, удаляются
	for _, key := range previous {
		if _, still := merged[key]; still {
			continue
		}
		if err := c.chunks.Delete(layerDataID, key); err != nil {
			return fmt.Errorf("ошибка удаления чанка %s/%s: %w", layerDataID, key, err)
		}
		touched = append(touched, key)
	}

	c.dirty.MarkDirty(worldID, touched, "model_transfer")
	getMetrics().transfersTotal.Inc()

	logging.Debug("Перенос слоя %s завершён: %d моделей, %d чанков", layerDataID, len(models), len(touched))
	return nil
}
