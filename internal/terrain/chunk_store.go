package terrain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"

	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/vec"
)

// BlobStore — внешний коллаборатор для хранения блобов чанков.
// Load возвращает found=false для отсутствующего блоба, это не ошибка.
type BlobStore interface {
	Save(data []byte) (string, error)
	Load(storageID string) ([]byte, bool, error)
	Delete(storageID string) error
}

// ChunkIndex отображает (layerDataID, chunkKey) -> storageID блоба.
type ChunkIndex interface {
	Put(layerDataID, chunkKey, storageID string) error
	Get(layerDataID, chunkKey string) (string, bool, error)
	Delete(layerDataID, chunkKey string) error
	Keys(layerDataID string) ([]string, error)
}

// ChunkStore хранит материализованные чанки слоёв: упорядоченные списки
// блоков с абсолютными мировыми координатами, сериализованные в JSON и
// опционально сжатые gzip. Чтения не берут блокировок — консистентность
// с параллельными переносами обеспечивается идемпотентностью переноса
// и отметкой dirty-чанков.
type ChunkStore struct {
	blobs    BlobStore
	index    ChunkIndex
	compress bool
}

// NewChunkStore создаёт хранилище чанков поверх блоб-стора и индекса
func NewChunkStore(blobs BlobStore, index ChunkIndex, compress bool) *ChunkStore {
	return &ChunkStore{blobs: blobs, index: index, compress: compress}
}

// Get возвращает блоки чанка. Отсутствующий чанк — пустой результат, не ошибка.
func (cs *ChunkStore) Get(layerDataID, chunkKey string) ([]LayerBlock, error) {
	storageID, found, err := cs.index.Get(layerDataID, chunkKey)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения индекса чанка %s/%s: %w", layerDataID, chunkKey, err)
	}
	if !found {
		return nil, nil
	}

	data, found, err := cs.blobs.Load(storageID)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки блоба %s: %w", storageID, err)
	}
	if !found {
		return nil, fmt.Errorf("блоб %s чанка %s/%s отсутствует: %w", storageID, layerDataID, chunkKey, ErrChunkNotFound)
	}

	blocks, err := decodeChunkPayload(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка десериализации чанка %s/%s: %w", layerDataID, chunkKey, err)
	}

	getMetrics().chunksLoaded.Inc()
	return blocks, nil
}

// Put сериализует блоки и сохраняет чанк, заменяя прежний блоб.
// Список предварительно сортируется, поэтому одинаковый набор блоков
// всегда даёт байт-идентичную полезную нагрузку.
func (cs *ChunkStore) Put(layerDataID, chunkKey string, blocks []LayerBlock) error {
	data, err := encodeChunkPayload(blocks, cs.compress)
	if err != nil {
		return fmt.Errorf("ошибка сериализации чанка %s/%s: %w", layerDataID, chunkKey, err)
	}

	oldID, hadOld, err := cs.index.Get(layerDataID, chunkKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения индекса чанка %s/%s: %w", layerDataID, chunkKey, err)
	}

	storageID, err := cs.blobs.Save(data)
	if err != nil {
		return fmt.Errorf("ошибка сохранения блоба чанка %s/%s: %w", layerDataID, chunkKey, err)
	}

	if err := cs.index.Put(layerDataID, chunkKey, storageID); err != nil {
		return fmt.Errorf("ошибка записи индекса чанка %s/%s: %w", layerDataID, chunkKey, err)
	}

	// Старый блоб больше не достижим; сбой удаления не фатален
	if hadOld && oldID != storageID {
		if err := cs.blobs.Delete(oldID); err != nil {
			logging.Warn("Не удалось удалить устаревший блоб %s: %v", oldID, err)
		}
	}

	getMetrics().chunksWritten.Inc()
	return nil
}

// Delete удаляет чанк и его блоб
func (cs *ChunkStore) Delete(layerDataID, chunkKey string) error {
	storageID, found, err := cs.index.Get(layerDataID, chunkKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения индекса чанка %s/%s: %w", layerDataID, chunkKey, err)
	}
	if !found {
		return nil
	}

	if err := cs.index.Delete(layerDataID, chunkKey); err != nil {
		return fmt.Errorf("ошибка удаления индекса чанка %s/%s: %w", layerDataID, chunkKey, err)
	}
	if err := cs.blobs.Delete(storageID); err != nil {
		logging.Warn("Не удалось удалить блоб %s чанка %s/%s: %v", storageID, layerDataID, chunkKey, err)
	}
	return nil
}

// Keys возвращает ключи всех чанков слоя
func (cs *ChunkStore) Keys(layerDataID string) ([]string, error) {
	return cs.index.Keys(layerDataID)
}

// DeleteAll удаляет все чанки слоя; возвращает число удалённых
func (cs *ChunkStore) DeleteAll(layerDataID string) (int, error) {
	keys, err := cs.index.Keys(layerDataID)
	if err != nil {
		return 0, fmt.Errorf("ошибка перечисления чанков слоя %s: %w", layerDataID, err)
	}
	for _, key := range keys {
		if err := cs.Delete(layerDataID, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// QueryRange загружает блоки слоя вокруг центра. Прямоугольник чанков
// вычисляется только из радиуса по X/Z; radiusY не влияет на выбор чанков
// и применяется как фильтр после загрузки (radiusY < 0 — без фильтра).
// Повреждённый или отсутствующий блоб одного чанка логируется и
// пропускается: запрос возвращает частичный результат.
func (cs *ChunkStore) QueryRange(layerDataID string, center vec.Vec3, radiusXZ, radiusY, chunkSize int) ([]LayerBlock, error) {
	if radiusXZ < 0 {
		return nil, NewValidationError("radiusXZ должен быть неотрицательным, получено %d", radiusXZ)
	}

	minCx := vec.FloorDiv(center.X-radiusXZ, chunkSize)
	maxCx := vec.FloorDiv(center.X+radiusXZ, chunkSize)
	minCz := vec.FloorDiv(center.Z-radiusXZ, chunkSize)
	maxCz := vec.FloorDiv(center.Z+radiusXZ, chunkSize)

	var result []LayerBlock
	for cx := minCx; cx <= maxCx; cx++ {
		for cz := minCz; cz <= maxCz; cz++ {
			blocks, err := cs.Get(layerDataID, ChunkKeyOf(cx, cz))
			if err != nil {
				getMetrics().chunkLoadFails.Inc()
				logging.Warn("Чанк %s/%s пропущен при range-запросе: %v", layerDataID, ChunkKeyOf(cx, cz), err)
				continue
			}
			for _, b := range blocks {
				if radiusY >= 0 && (b.Pos.Y < center.Y-radiusY || b.Pos.Y > center.Y+radiusY) {
					continue
				}
				result = append(result, b)
			}
		}
	}
	return result, nil
}

// sortBlocks упорядочивает блоки детерминированно (X, Y, Z)
func sortBlocks(blocks []LayerBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i].Pos, blocks[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
}

func encodeChunkPayload(blocks []LayerBlock, compress bool) ([]byte, error) {
	ordered := make([]LayerBlock, len(blocks))
	copy(ordered, blocks)
	sortBlocks(ordered)

	raw, err := json.Marshal(ordered)
	if err != nil {
		return nil, err
	}
	if !compress {
		return raw, nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChunkPayload(data []byte) ([]LayerBlock, error) {
	// gzip-магия в начале означает сжатую полезную нагрузку
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()

		raw, err := io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	var blocks []LayerBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
