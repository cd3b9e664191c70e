package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// BadgerStore — встраиваемое хранилище чанков на BadgerDB. Блобы и
// индекс чанков живут в одной базе в разных пространствах ключей
// ("blob:" и "chunk:"); наружу отдаются через Blobs() и Chunks().
type BadgerStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает хранилище в каталоге dataPath/terrain
func NewBadgerStore(dataPath string) (*BadgerStore, error) {
	dbPath := filepath.Join(dataPath, "terrain")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (bs *BadgerStore) Close() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()

	if !bs.isReady {
		return nil
	}

	bs.isReady = false
	return bs.db.Close()
}

// Blobs возвращает представление terrain.BlobStore
func (bs *BadgerStore) Blobs() *BadgerBlobStore {
	return &BadgerBlobStore{store: bs}
}

// Chunks возвращает представление terrain.ChunkIndex
func (bs *BadgerStore) Chunks() *BadgerChunkIndex {
	return &BadgerChunkIndex{store: bs}
}

func blobKey(storageID string) []byte {
	return []byte("blob:" + storageID)
}

func chunkIndexKey(layerDataID, chunkKey string) []byte {
	return []byte("chunk:" + layerDataID + ":" + chunkKey)
}

func (bs *BadgerStore) set(key, value []byte) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// get возвращает (nil, false, nil) для отсутствующего ключа
func (bs *BadgerStore) get(key []byte) ([]byte, bool, error) {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, false, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (bs *BadgerStore) delete(key []byte) error {
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// BadgerBlobStore — представление блобов поверх BadgerStore
type BadgerBlobStore struct {
	store *BadgerStore
}

// Save записывает блоб под новым идентификатором
func (b *BadgerBlobStore) Save(data []byte) (string, error) {
	storageID := uuid.NewString()
	if err := b.store.set(blobKey(storageID), data); err != nil {
		return "", fmt.Errorf("ошибка сохранения блоба в BadgerDB: %w", err)
	}
	return storageID, nil
}

// Load читает блоб по идентификатору
func (b *BadgerBlobStore) Load(storageID string) ([]byte, bool, error) {
	data, found, err := b.store.get(blobKey(storageID))
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения блоба из BadgerDB: %w", err)
	}
	return data, found, nil
}

// Delete удаляет блоб; отсутствие блоба не ошибка
func (b *BadgerBlobStore) Delete(storageID string) error {
	if err := b.store.delete(blobKey(storageID)); err != nil {
		return fmt.Errorf("ошибка удаления блоба из BadgerDB: %w", err)
	}
	return nil
}

// BadgerChunkIndex — представление индекса чанков поверх BadgerStore
type BadgerChunkIndex struct {
	store *BadgerStore
}

// Put записывает соответствие чанка блобу
func (c *BadgerChunkIndex) Put(layerDataID, chunkKey, storageID string) error {
	if err := c.store.set(chunkIndexKey(layerDataID, chunkKey), []byte(storageID)); err != nil {
		return fmt.Errorf("ошибка записи индекса чанка в BadgerDB: %w", err)
	}
	return nil
}

// Get возвращает идентификатор блоба чанка
func (c *BadgerChunkIndex) Get(layerDataID, chunkKey string) (string, bool, error) {
	data, found, err := c.store.get(chunkIndexKey(layerDataID, chunkKey))
	if err != nil {
		return "", false, fmt.Errorf("ошибка чтения индекса чанка из BadgerDB: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return string(data), true, nil
}

// Delete удаляет запись индекса чанка
func (c *BadgerChunkIndex) Delete(layerDataID, chunkKey string) error {
	if err := c.store.delete(chunkIndexKey(layerDataID, chunkKey)); err != nil {
		return fmt.Errorf("ошибка удаления индекса чанка из BadgerDB: %w", err)
	}
	return nil
}

// Keys возвращает ключи всех чанков слоя
func (c *BadgerChunkIndex) Keys(layerDataID string) ([]string, error) {
	bs := c.store
	bs.mutex.RLock()
	defer bs.mutex.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	prefix := []byte("chunk:" + layerDataID + ":")
	var keys []string

	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			full := string(it.Item().Key())
			keys = append(keys, strings.TrimPrefix(full, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления чанков в BadgerDB: %w", err)
	}

	return keys, nil
}
