package terrain

import (
	"sync"

	"github.com/google/uuid"
)

// In-memory реализации репозиториев. Используются в тестах и как
// дефолт при работе без внешних хранилищ.

// MemoryBlobStore хранит блобы в памяти
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore создаёт пустой in-memory блоб-стор
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Save сохраняет блоб и возвращает его идентификатор
func (s *MemoryBlobStore) Save(data []byte) (string, error) {
	id := uuid.NewString()
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blobs[id] = cp
	s.mu.Unlock()
	return id, nil
}

// Load возвращает блоб по идентификатору
func (s *MemoryBlobStore) Load(storageID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[storageID]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

// Delete удаляет блоб
func (s *MemoryBlobStore) Delete(storageID string) error {
	s.mu.Lock()
	delete(s.blobs, storageID)
	s.mu.Unlock()
	return nil
}

// MemoryChunkIndex хранит индекс чанков в памяти
type MemoryChunkIndex struct {
	mu    sync.RWMutex
	index map[string]map[string]string // layerDataID -> chunkKey -> storageID
}

// NewMemoryChunkIndex создаёт пустой индекс
func NewMemoryChunkIndex() *MemoryChunkIndex {
	return &MemoryChunkIndex{index: make(map[string]map[string]string)}
}

func (m *MemoryChunkIndex) Put(layerDataID, chunkKey, storageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index[layerDataID] == nil {
		m.index[layerDataID] = make(map[string]string)
	}
	m.index[layerDataID][chunkKey] = storageID
	return nil
}

func (m *MemoryChunkIndex) Get(layerDataID, chunkKey string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storageID, ok := m.index[layerDataID][chunkKey]
	return storageID, ok, nil
}

func (m *MemoryChunkIndex) Delete(layerDataID, chunkKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.index[layerDataID], chunkKey)
	return nil
}

func (m *MemoryChunkIndex) Keys(layerDataID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.index[layerDataID]))
	for key := range m.index[layerDataID] {
		keys = append(keys, key)
	}
	return keys, nil
}

// MemoryLayerRepo хранит слои и модели в памяти
type MemoryLayerRepo struct {
	mu     sync.RWMutex
	layers map[string]*Layer      // layerID -> слой
	models map[string]*LayerModel // modelID -> модель
}

// NewMemoryLayerRepo создаёт пустой репозиторий слоёв
func NewMemoryLayerRepo() *MemoryLayerRepo {
	return &MemoryLayerRepo{
		layers: make(map[string]*Layer),
		models: make(map[string]*LayerModel),
	}
}

func (r *MemoryLayerRepo) SaveLayer(layer *Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *layer
	r.layers[layer.ID] = &cp
	return nil
}

func (r *MemoryLayerRepo) GetLayer(worldID, layerID string) (*Layer, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	layer, ok := r.layers[layerID]
	if !ok || layer.WorldID != worldID {
		return nil, false, nil
	}
	cp := *layer
	return &cp, true, nil
}

func (r *MemoryLayerRepo) FindLayerByName(worldID, name string) (*Layer, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, layer := range r.layers {
		if layer.WorldID == worldID && layer.Name == name {
			cp := *layer
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryLayerRepo) ListLayers(worldID string) ([]*Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Layer
	for _, layer := range r.layers {
		if layer.WorldID == worldID {
			cp := *layer
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryLayerRepo) DeleteLayer(worldID, layerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if layer, ok := r.layers[layerID]; ok && layer.WorldID == worldID {
		delete(r.layers, layerID)
	}
	return nil
}

func (r *MemoryLayerRepo) SaveModel(model *LayerModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *model
	cp.Content = model.CloneContent()
	r.models[model.ID] = &cp
	return nil
}

func (r *MemoryLayerRepo) GetModel(worldID, modelID string) (*LayerModel, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[modelID]
	if !ok || model.WorldID != worldID {
		return nil, false, nil
	}
	cp := *model
	cp.Content = model.CloneContent()
	return &cp, true, nil
}

func (r *MemoryLayerRepo) ListModels(layerDataID string) ([]*LayerModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*LayerModel
	for _, model := range r.models {
		if model.LayerDataID == layerDataID {
			cp := *model
			cp.Content = model.CloneContent()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryLayerRepo) DeleteModel(worldID, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model, ok := r.models[modelID]; ok && model.WorldID == worldID {
		delete(r.models, modelID)
	}
	return nil
}

// MemoryFlatRepo хранит flat-террейны в памяти
type MemoryFlatRepo struct {
	mu    sync.RWMutex
	flats map[string]*Flat // worldID+"/"+layerDataID -> flat
}

// NewMemoryFlatRepo создаёт пустой репозиторий flat'ов
func NewMemoryFlatRepo() *MemoryFlatRepo {
	return &MemoryFlatRepo{flats: make(map[string]*Flat)}
}

func flatKey(worldID, layerDataID string) string { return worldID + "/" + layerDataID }

func (r *MemoryFlatRepo) Save(flat *Flat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flats[flatKey(flat.WorldID, flat.LayerDataID)] = cloneFlat(flat)
	return nil
}

func (r *MemoryFlatRepo) Get(worldID, layerDataID string) (*Flat, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flat, ok := r.flats[flatKey(worldID, layerDataID)]
	if !ok {
		return nil, false, nil
	}
	return cloneFlat(flat), true, nil
}

func (r *MemoryFlatRepo) Delete(worldID, layerDataID string) error {
	r.mu.Lock()
	delete(r.flats, flatKey(worldID, layerDataID))
	r.mu.Unlock()
	return nil
}

func cloneFlat(f *Flat) *Flat {
	cp := *f
	cp.Levels = append([]uint8(nil), f.Levels...)
	cp.Columns = append([]uint8(nil), f.Columns...)
	cp.Materials = make(map[uint8]*MaterialDefinition, len(f.Materials))
	for id, m := range f.Materials {
		cp.Materials[id] = m.Clone()
	}
	return &cp
}
