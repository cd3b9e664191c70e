package terrain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Зарезервированные идентификаторы материалов.
const (
	MaterialProtected = 0   // базовый материал, не удаляется
	MaterialReserved  = 255 // зарезервирован, не редактируется
)

// MaterialDefinition описывает материал flat-террейна: блок на уровне
// поверхности, блок ниже поверхности и переопределения по высотам.
type MaterialDefinition struct {
	BlockDef        BlockDef         `json:"blockDef" bson:"block_def"`
	NextBlockDef    BlockDef         `json:"nextBlockDef,omitempty" bson:"next_block_def,omitempty"`
	HasOcean        bool             `json:"hasOcean" bson:"has_ocean"`
	IsBlockMapDelta bool             `json:"isBlockMapDelta,omitempty" bson:"is_block_map_delta,omitempty"`
	BlockAtLevels   map[int]BlockDef `json:"blockAtLevels,omitempty" bson:"block_at_levels,omitempty"`
}

// Clone возвращает глубокую копию определения материала
func (m *MaterialDefinition) Clone() *MaterialDefinition {
	c := *m
	if m.BlockAtLevels != nil {
		c.BlockAtLevels = make(map[int]BlockDef, len(m.BlockAtLevels))
		for k, v := range m.BlockAtLevels {
			c.BlockAtLevels[k] = v
		}
	}
	return &c
}

// Flat — компактное представление ground-слоя: фиксированная сетка
// SizeX*SizeZ с высотой (Levels) и идентификатором материала (Columns)
// на колонку. Инвариант: len(Levels) == len(Columns) == SizeX*SizeZ.
type Flat struct {
	WorldID          string                       `json:"worldId" bson:"world_id"`
	LayerDataID      string                       `json:"layerDataId" bson:"layer_data_id"`
	FlatID           string                       `json:"flatId" bson:"flat_id"`
	SizeX            int                          `json:"sizeX" bson:"size_x"`
	SizeZ            int                          `json:"sizeZ" bson:"size_z"`
	MountX           int                          `json:"mountX" bson:"mount_x"`
	MountZ           int                          `json:"mountZ" bson:"mount_z"`
	OceanLevel       int                          `json:"oceanLevel" bson:"ocean_level"`
	OceanBlockID     BlockDef                     `json:"oceanBlockId" bson:"ocean_block_id"`
	UnknownProtected bool                         `json:"unknownProtected" bson:"unknown_protected"`
	Levels           []uint8                      `json:"levels" bson:"levels"`
	Columns          []uint8                      `json:"columns" bson:"columns"`
	Materials        map[uint8]*MaterialDefinition `json:"materials" bson:"materials"`
	CreatedAt        time.Time                    `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time                    `json:"updatedAt" bson:"updated_at"`
}

// columnIndex возвращает индекс колонки в сетке или -1 вне границ
func (f *Flat) columnIndex(x, z int) int {
	if x < 0 || x >= f.SizeX || z < 0 || z >= f.SizeZ {
		return -1
	}
	return z*f.SizeX + x
}

// FlatRepo — персистентное хранилище flat-террейнов
type FlatRepo interface {
	Save(flat *Flat) error
	Get(worldID, layerDataID string) (*Flat, bool, error)
	Delete(worldID, layerDataID string) error
}

// FlatStore управляет flat-террейнами ground-слоёв: материалами,
// разрешением блока по высоте и экспортом/импортом.
type FlatStore struct {
	repo FlatRepo
}

// NewFlatStore создаёт store поверх репозитория
func NewFlatStore(repo FlatRepo) *FlatStore {
	return &FlatStore{repo: repo}
}

// CreateFlat создаёт flat для ground-слоя с защищённым материалом в слоте 0
func (fs *FlatStore) CreateFlat(worldID, layerDataID, flatID string, sizeX, sizeZ int) (*Flat, error) {
	if sizeX <= 0 || sizeZ <= 0 {
		return nil, NewValidationError("размер flat должен быть положительным, получено %dx%d", sizeX, sizeZ)
	}

	if _, found, err := fs.repo.Get(worldID, layerDataID); err != nil {
		return nil, fmt.Errorf("ошибка проверки существования flat: %w", err)
	} else if found {
		return nil, &ConflictError{Resource: "flat", Key: worldID + "/" + layerDataID}
	}

	flat := &Flat{
		WorldID:      worldID,
		LayerDataID:  layerDataID,
		FlatID:       flatID,
		SizeX:        sizeX,
		SizeZ:        sizeZ,
		OceanLevel:   62,
		OceanBlockID: "n:water",
		Levels:       make([]uint8, sizeX*sizeZ),
		Columns:      make([]uint8, sizeX*sizeZ),
		Materials: map[uint8]*MaterialDefinition{
			MaterialProtected: {BlockDef: "n:stone", NextBlockDef: "n:stone"},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := fs.repo.Save(flat); err != nil {
		return nil, fmt.Errorf("ошибка сохранения flat: %w", err)
	}
	return flat, nil
}

// Get возвращает flat слоя; отсутствие — ErrFlatNotFound
func (fs *FlatStore) Get(worldID, layerDataID string) (*Flat, error) {
	flat, found, err := fs.repo.Get(worldID, layerDataID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения flat: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("flat %s/%s: %w", worldID, layerDataID, ErrFlatNotFound)
	}
	return flat, nil
}

// Delete удаляет flat слоя независимо от слоя
func (fs *FlatStore) Delete(worldID, layerDataID string) error {
	if _, found, err := fs.repo.Get(worldID, layerDataID); err != nil {
		return fmt.Errorf("ошибка чтения flat: %w", err)
	} else if !found {
		return fmt.Errorf("flat %s/%s: %w", worldID, layerDataID, ErrFlatNotFound)
	}
	return fs.repo.Delete(worldID, layerDataID)
}

// ResolveBlock возвращает блок колонки (x, z) на уровне запроса level.
// Правила: на уровне поверхности — BlockDef материала; ниже поверхности —
// переопределение BlockAtLevels[level], иначе NextBlockDef; затем, если
// материал имеет океан и level не выше уровня океана, блок заменяется
// океанским блоком мира. Выше поверхности блока нет.
func (fs *FlatStore) ResolveBlock(flat *Flat, x, z, level int) (BlockDef, bool) {
	idx := flat.columnIndex(x, z)
	if idx < 0 {
		return "", false
	}

	surface := int(flat.Levels[idx])
	material, ok := flat.Materials[flat.Columns[idx]]
	if !ok {
		return "", false
	}

	var def BlockDef
	switch {
	case level == surface:
		def = material.BlockDef
	case level < surface:
		if override, ok := material.BlockAtLevels[level]; ok {
			def = override
		} else {
			def = material.NextBlockDef
		}
	default:
		return "", false
	}

	if material.HasOcean && level <= flat.OceanLevel {
		def = flat.OceanBlockID
	}
	if def == "" {
		return "", false
	}
	return def, true
}

// SetMaterial задаёт материал пользовательского слота 1..254
func (fs *FlatStore) SetMaterial(flat *Flat, id uint8, def *MaterialDefinition) error {
	if id == MaterialProtected || id == MaterialReserved {
		return NewValidationError("материал %d зарезервирован и не редактируется", id)
	}
	if err := def.BlockDef.Validate(); err != nil {
		return err
	}
	if def.NextBlockDef != "" {
		if err := def.NextBlockDef.Validate(); err != nil {
			return err
		}
	}
	for level, d := range def.BlockAtLevels {
		if level < 0 || level > 255 {
			return NewValidationError("уровень %d вне диапазона 0-255", level)
		}
		if err := d.Validate(); err != nil {
			return err
		}
	}

	flat.Materials[id] = def.Clone()
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}

// DeleteMaterial удаляет материал пользовательского слота 1..254
func (fs *FlatStore) DeleteMaterial(flat *Flat, id uint8) error {
	if id == MaterialProtected || id == MaterialReserved {
		return NewValidationError("материал %d защищён от удаления", id)
	}
	if _, ok := flat.Materials[id]; !ok {
		return fmt.Errorf("материал %d: %w", id, ErrFlatNotFound)
	}

	delete(flat.Materials, id)
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}

// SetLevel задаёт высоту колонки
func (fs *FlatStore) SetLevel(flat *Flat, x, z int, level uint8) error {
	idx := flat.columnIndex(x, z)
	if idx < 0 {
		return NewValidationError("колонка (%d,%d) вне сетки %dx%d", x, z, flat.SizeX, flat.SizeZ)
	}
	flat.Levels[idx] = level
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}

// SetColumn задаёт материал колонки
func (fs *FlatStore) SetColumn(flat *Flat, x, z int, materialID uint8) error {
	idx := flat.columnIndex(x, z)
	if idx < 0 {
		return NewValidationError("колонка (%d,%d) вне сетки %dx%d", x, z, flat.SizeX, flat.SizeZ)
	}
	flat.Columns[idx] = materialID
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}

// Save сохраняет произвольно изменённый flat (метаданные, уровень океана)
func (fs *FlatStore) Save(flat *Flat) error {
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}

// flatExport — формат экспортного JSON-документа
type flatExport struct {
	Levels    []int                         `json:"levels"`
	Columns   []int                         `json:"columns"`
	Materials map[string]flatExportMaterial `json:"materials"`
}

type flatExportMaterial struct {
	BlockDef     string  `json:"blockDef"`
	NextBlockDef *string `json:"nextBlockDef"`
	HasOcean     bool    `json:"hasOcean"`
}

// Export сериализует flat в обменный JSON-документ
func (fs *FlatStore) Export(flat *Flat) ([]byte, error) {
	doc := flatExport{
		Levels:    make([]int, len(flat.Levels)),
		Columns:   make([]int, len(flat.Columns)),
		Materials: make(map[string]flatExportMaterial, len(flat.Materials)),
	}
	for i, v := range flat.Levels {
		doc.Levels[i] = int(v)
	}
	for i, v := range flat.Columns {
		doc.Columns[i] = int(v)
	}
	for id, m := range flat.Materials {
		em := flatExportMaterial{
			BlockDef: string(m.BlockDef),
			HasOcean: m.HasOcean,
		}
		if m.NextBlockDef != "" {
			next := string(m.NextBlockDef)
			em.NextBlockDef = &next
		}
		doc.Materials[strconv.Itoa(int(id))] = em
	}
	return json.Marshal(doc)
}

// Import применяет ранее экспортированный документ к flat. Импорт атомарен:
// при любой ошибке валидации flat не изменяется. Длины levels и columns
// обязаны точно совпадать с SizeX*SizeZ.
func (fs *FlatStore) Import(flat *Flat, data []byte) error {
	var doc flatExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewValidationError("недопустимый документ импорта: %v", err)
	}

	want := flat.SizeX * flat.SizeZ
	if len(doc.Levels) != want {
		return NewValidationError("levels содержит %d значений, ожидается %d", len(doc.Levels), want)
	}
	if len(doc.Columns) != want {
		return NewValidationError("columns содержит %d значений, ожидается %d", len(doc.Columns), want)
	}

	levels := make([]uint8, want)
	for i, v := range doc.Levels {
		if v < 0 || v > 255 {
			return NewValidationError("levels[%d]=%d вне диапазона 0-255", i, v)
		}
		levels[i] = uint8(v)
	}
	columns := make([]uint8, want)
	for i, v := range doc.Columns {
		if v < 0 || v > 255 {
			return NewValidationError("columns[%d]=%d вне диапазона 0-255", i, v)
		}
		columns[i] = uint8(v)
	}

	materials := make(map[uint8]*MaterialDefinition, len(doc.Materials))
	for idStr, em := range doc.Materials {
		id, err := strconv.Atoi(idStr)
		if err != nil || id < 0 || id > 255 {
			return NewValidationError("недопустимый идентификатор материала %q", idStr)
		}
		if id == MaterialReserved {
			return NewValidationError("материал %d зарезервирован", MaterialReserved)
		}
		m := &MaterialDefinition{
			BlockDef: BlockDef(em.BlockDef),
			HasOcean: em.HasOcean,
		}
		if em.NextBlockDef != nil {
			m.NextBlockDef = BlockDef(*em.NextBlockDef)
		}
		if err := m.BlockDef.Validate(); err != nil {
			return err
		}
		if m.NextBlockDef != "" {
			if err := m.NextBlockDef.Validate(); err != nil {
				return err
			}
		}
		materials[uint8(id)] = m
	}

	// Защищённый материал обязан остаться; документ может его переопределить
	if _, ok := materials[MaterialProtected]; !ok {
		materials[MaterialProtected] = flat.Materials[MaterialProtected].Clone()
	}

	flat.Levels = levels
	flat.Columns = columns
	flat.Materials = materials
	flat.UpdatedAt = time.Now().UTC()
	return fs.repo.Save(flat)
}
